package site

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSite(t *testing.T) {
	s, err := New("", 3)
	require.NoError(t, err)

	assert.Equal(t, DefaultName, s.Name)
	assert.Equal(t, 3, s.Capacity)
	assert.Empty(t, s.Staff)
	require.Len(t, s.Chairs, 3)
	for i, c := range s.Chairs {
		assert.Equal(t, i+1, c.ID)
		assert.False(t, c.Occupied())
	}
	assert.NoError(t, s.Validate())

	_, err = New("x", -1)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = New("x", MaxCapacity+1)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	empty, err := New("x", 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Chairs)
}

func TestChairTakeAndRelease(t *testing.T) {
	c := Chair{ID: 2}
	since := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	require.NoError(t, c.Take(Client{Name: "Alice"}, &since))
	require.True(t, c.Occupied())
	assert.Equal(t, "Alice", c.Occupant.Name)
	assert.True(t, since.Equal(*c.Since))

	err := c.Take(Client{Name: "Bob"}, nil)
	assert.ErrorIs(t, err, ErrDoubleOccupancy)
	assert.Equal(t, "Alice", c.Occupant.Name, "failed take must not replace the occupant")

	c.Release()
	assert.Nil(t, c.Occupant)
	assert.Nil(t, c.Since)

	c.Release()
	assert.Nil(t, c.Occupant)
	assert.Nil(t, c.Since)
}

func TestChairTakeDefaultsSinceToNow(t *testing.T) {
	c := Chair{ID: 1}
	before := time.Now().UTC()
	require.NoError(t, c.Take(Client{Name: "Alice"}, nil))
	require.NotNil(t, c.Since)
	assert.False(t, c.Since.Before(before.Truncate(time.Second)))
}

func TestChairString(t *testing.T) {
	assert.Equal(t, "Empty", Chair{ID: 1}.String())

	since := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
	c := Chair{ID: 1}
	require.NoError(t, c.Take(Client{Name: "Alice"}, &since))
	assert.Equal(t, "Alice @ Monday 09:30", c.String())
}

func TestStaffRoster(t *testing.T) {
	s, err := New("Cozy", 1)
	require.NoError(t, err)

	bob, added, err := s.AddStaff("  Bob ")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "Bob", bob.Name)

	_, added, err = s.AddStaff("Bob")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, s.Staff, 1)

	_, _, err = s.AddStaff("   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.True(t, s.HasStaff("Bob"))
	assert.False(t, s.HasStaff("Carol"))

	got, err := s.GetStaff("Bob")
	require.NoError(t, err)
	assert.Equal(t, bob, got)

	_, err = s.GetStaff("Carol")
	assert.ErrorIs(t, err, ErrStaffNotFound)

	require.NoError(t, s.RemoveStaff("Bob"))
	assert.False(t, s.HasStaff("Bob"))
	assert.ErrorIs(t, s.RemoveStaff("Bob"), ErrStaffNotFound)
}

func TestSiteChairLookup(t *testing.T) {
	s, err := New("Cozy", 2)
	require.NoError(t, err)

	c, err := s.Chair(2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.ID)

	for _, id := range []int{0, 3, -1} {
		_, err := s.Chair(id)
		assert.ErrorIs(t, err, ErrChairNotFound, "id %d", id)
	}
}

func TestCloneSharesNothing(t *testing.T) {
	s, err := New("Cozy", 2)
	require.NoError(t, err)
	_, _, err = s.AddStaff("Bob")
	require.NoError(t, err)
	require.NoError(t, s.Chairs[0].Take(Client{Name: "Alice"}, nil))

	cp := s.Clone()
	require.True(t, s.Equal(cp))

	s.Chairs[0].Occupant.Name = "Mallory"
	*s.Chairs[0].Since = s.Chairs[0].Since.Add(time.Hour)
	s.Staff[0].Name = "Eve"

	assert.Equal(t, "Alice", cp.Chairs[0].Occupant.Name)
	assert.Equal(t, "Bob", cp.Staff[0].Name)
	assert.False(t, s.Equal(cp))
}

func TestValidateRejectsBrokenSites(t *testing.T) {
	since := time.Now().UTC()
	tests := []struct {
		name string
		site Site
	}{
		{"chair count", Site{Capacity: 2, Chairs: []Chair{{ID: 1}}}},
		{"gap in ids", Site{Capacity: 2, Chairs: []Chair{{ID: 1}, {ID: 3}}}},
		{"since without occupant", Site{Capacity: 1, Chairs: []Chair{{ID: 1, Since: &since}}}},
		{"occupant without since", Site{Capacity: 1, Chairs: []Chair{{ID: 1, Occupant: &Client{Name: "A"}}}}},
		{"duplicate staff", Site{Capacity: 0, Staff: []Staff{{Name: "Bob"}, {Name: "Bob"}}}},
		{"negative capacity", Site{Capacity: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.site.Validate(), ErrInconsistent)
		})
	}
}

func TestSiteJSONRoundTrip(t *testing.T) {
	s, err := New("Cozy", 3)
	require.NoError(t, err)
	_, _, err = s.AddStaff("Bob")
	require.NoError(t, err)
	since := time.Date(2026, 1, 5, 14, 0, 0, 123, time.UTC)
	require.NoError(t, s.Chairs[1].Take(Client{Name: "Alice"}, &since))

	raw, err := json.MarshalIndent(s, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"since": "2026-01-05T14:00:00.000000123Z"`)

	var back Site
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, s, &back)
}
