package eventlog

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"cozy/internal/site"
)

var stamp = time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)

func newSite(t require.TestingT, capacity int) *site.Site {
	s, err := site.New("Cozy", capacity)
	require.NoError(t, err)
	return s
}

// rogue satisfies Event through the embedded Header but is not a variant the
// log knows about.
type rogue struct {
	Header
}

func (rogue) Kind() Kind { return "rogue" }

func TestNewCapturesIndependentInitialState(t *testing.T) {
	s := newSite(t, 2)
	l := New(s)

	_, _, err := s.AddStaff("Bob")
	require.NoError(t, err)

	assert.Empty(t, l.InitialSiteState.Staff)
	assert.Nil(t, l.FinalSiteState)
	assert.Equal(t, 0, l.Len())
}

func TestAppendFilesEventsByVariant(t *testing.T) {
	l := New(newSite(t, 2))
	bob := &site.Staff{Name: "Bob"}
	chair := site.Chair{ID: 1}
	require.NoError(t, chair.Take(site.Client{Name: "Alice"}, &stamp))

	events := []Event{
		NewStaffAdded(nil, stamp, site.Staff{Name: "Bob"}),
		NewChairTaken(bob, stamp.Add(time.Minute), chair),
		NewChairLeft(bob, stamp.Add(2*time.Minute), chair),
		NewSiteResized(bob, stamp.Add(3*time.Minute), 3, 2),
		NewStaffRemoved(bob, stamp.Add(4*time.Minute), site.Staff{Name: "Bob"}),
		NewClientAdded(bob, stamp.Add(5*time.Minute), site.Client{Name: "Alice"}),
		NewClientRemoved(bob, stamp.Add(6*time.Minute), site.Client{Name: "Alice"}),
	}
	for _, ev := range events {
		require.NoError(t, l.Append(ev))
	}

	assert.Len(t, l.StaffAdded, 1)
	assert.Len(t, l.ChairTaken, 1)
	assert.Len(t, l.ChairLeft, 1)
	assert.Len(t, l.SiteResized, 1)
	assert.Len(t, l.StaffRemoved, 1)
	assert.Len(t, l.ClientAdded, 1)
	assert.Len(t, l.ClientRemoved, 1)
	require.Equal(t, 7, l.Len())

	got, err := l.Events()
	require.NoError(t, err)
	require.Len(t, got, len(events))
	for i := range events {
		assert.Equal(t, events[i].EventID(), got[i].EventID())
		assert.Equal(t, events[i].Kind(), got[i].Kind())
		assert.Equal(t, l.EventOrder[i], got[i].EventID())
	}
}

func TestAppendRejectsUnknownVariant(t *testing.T) {
	l := New(newSite(t, 1))

	err := l.Append(rogue{Header: newHeader(nil, stamp)})
	assert.ErrorIs(t, err, ErrUnknownEventVariant)

	taken := NewChairTaken(nil, stamp, site.Chair{ID: 1})
	err = l.Append(&taken)
	assert.ErrorIs(t, err, ErrUnknownEventVariant, "variants are appended by value")

	assert.Equal(t, 0, l.Len())
}

func TestAppendRejectsDuplicateAndMissingIDs(t *testing.T) {
	l := New(newSite(t, 1))
	ev := NewStaffAdded(nil, stamp, site.Staff{Name: "Bob"})

	require.NoError(t, l.Append(ev))
	assert.ErrorIs(t, l.Append(ev), ErrDuplicateEventID)

	var blank StaffAdded
	assert.ErrorIs(t, l.Append(blank), ErrInvalidEvent)
	assert.ErrorIs(t, l.Append(nil), ErrInvalidEvent)
	assert.Equal(t, 1, l.Len())
}

func TestAppendAfterDecodeStillDetectsDuplicates(t *testing.T) {
	l := New(newSite(t, 1))
	ev := NewStaffAdded(nil, stamp, site.Staff{Name: "Bob"})
	require.NoError(t, l.Append(ev))

	raw, err := json.Marshal(l)
	require.NoError(t, err)
	var back EventLog
	require.NoError(t, json.Unmarshal(raw, &back))

	assert.ErrorIs(t, back.Append(ev), ErrDuplicateEventID)
}

func TestEventsCopyTheirPayload(t *testing.T) {
	chair := site.Chair{ID: 1}
	require.NoError(t, chair.Take(site.Client{Name: "Alice"}, &stamp))
	bob := &site.Staff{Name: "Bob"}

	ev := NewChairTaken(bob, stamp, chair)

	chair.Occupant.Name = "Mallory"
	*chair.Since = chair.Since.Add(time.Hour)
	bob.Name = "Eve"

	assert.Equal(t, "Alice", ev.Chair.Occupant.Name)
	assert.True(t, stamp.Equal(*ev.Chair.Since))
	assert.Equal(t, "Bob", ev.By.Name)
}

func TestEventsDetectsCorruption(t *testing.T) {
	l := New(newSite(t, 1))
	require.NoError(t, l.Append(NewStaffAdded(nil, stamp, site.Staff{Name: "Bob"})))

	missing := l.Clone()
	missing.EventOrder = append(missing.EventOrder, uuid.New())
	_, err := missing.Events()
	assert.ErrorIs(t, err, ErrCorruptLog)

	unordered := l.Clone()
	unordered.EventOrder = nil
	_, err = unordered.Events()
	assert.ErrorIs(t, err, ErrCorruptLog)

	twice := l.Clone()
	twice.StaffRemoved = append(twice.StaffRemoved, StaffRemoved{Header: twice.StaffAdded[0].Header})
	_, err = twice.Events()
	assert.ErrorIs(t, err, ErrCorruptLog)
}

func TestCloneIsIndependent(t *testing.T) {
	l := New(newSite(t, 1))
	chair := site.Chair{ID: 1}
	require.NoError(t, chair.Take(site.Client{Name: "Alice"}, &stamp))
	require.NoError(t, l.Append(NewChairTaken(&site.Staff{Name: "Bob"}, stamp, chair)))

	cp := l.Clone()
	l.ChairTaken[0].Chair.Occupant.Name = "Mallory"
	l.ChairTaken[0].By.Name = "Eve"
	l.InitialSiteState.Name = "Elsewhere"

	assert.Equal(t, "Alice", cp.ChairTaken[0].Chair.Occupant.Name)
	assert.Equal(t, "Bob", cp.ChairTaken[0].By.Name)
	assert.Equal(t, "Cozy", cp.InitialSiteState.Name)
}

func drawEvent(t *rapid.T, i int) Event {
	by := &site.Staff{Name: rapid.SampledFrom([]string{"Bob", "Carol"}).Draw(t, "by")}
	if rapid.Bool().Draw(t, "anonymous") {
		by = nil
	}
	when := stamp.Add(time.Duration(i) * time.Second)
	chair := site.Chair{ID: rapid.IntRange(1, 5).Draw(t, "chair")}
	since := when.Add(-time.Minute)
	chair.Occupant = &site.Client{Name: fmt.Sprintf("client-%d", i)}
	chair.Since = &since

	switch rapid.IntRange(0, 6).Draw(t, "kind") {
	case 0:
		return NewSiteResized(by, when, rapid.IntRange(0, 9).Draw(t, "capacity"), 5)
	case 1:
		return NewChairTaken(by, when, chair)
	case 2:
		return NewChairLeft(by, when, chair)
	case 3:
		return NewStaffAdded(by, when, site.Staff{Name: "Dave"})
	case 4:
		return NewStaffRemoved(by, when, site.Staff{Name: "Dave"})
	case 5:
		return NewClientAdded(by, when, site.Client{Name: "Erin"})
	default:
		return NewClientRemoved(by, when, site.Client{Name: "Erin"})
	}
}

func TestLogOrderingAndRoundTripProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(newSite(t, 5))
		n := rapid.IntRange(0, 25).Draw(t, "events")

		for i := 0; i < n; i++ {
			before := append([]uuid.UUID{}, l.EventOrder...)
			ev := drawEvent(t, i)
			if err := l.Append(ev); err != nil {
				t.Fatalf("append: %v", err)
			}
			if len(l.EventOrder) != len(before)+1 {
				t.Fatalf("event order grew by %d", len(l.EventOrder)-len(before))
			}
			for j := range before {
				if before[j] != l.EventOrder[j] {
					t.Fatalf("event order rewritten at %d", j)
				}
			}
		}

		total := len(l.SiteResized) + len(l.ChairTaken) + len(l.ChairLeft) + len(l.StaffAdded) +
			len(l.StaffRemoved) + len(l.ClientAdded) + len(l.ClientRemoved)
		if total != l.Len() {
			t.Fatalf("variant sequences hold %d events, order has %d", total, l.Len())
		}

		raw, err := json.Marshal(l)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back EventLog
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !assert.ObjectsAreEqual(l.Clone(), &back) {
			t.Fatalf("round trip changed the log")
		}
	})
}
