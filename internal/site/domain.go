// internal/site/domain.go
package site

import (
	"fmt"
	"strings"
	"time"
)

// DefaultName is the name given to a site created without one.
const DefaultName = "Cozy"

// DefaultCapacity is the number of chairs a fresh site starts with.
const DefaultCapacity = 25

// MaxCapacity is the largest number of chairs a site may have.
const MaxCapacity = 10000

// Client is the person sitting in a chair.
type Client struct {
	Name string `json:"name"`
}

func (c Client) String() string {
	return c.Name
}

// Staff is a member of staff who can be credited with an action.
type Staff struct {
	Name string `json:"name"`
}

// Chair is a numbered seat. Since is set exactly when Occupant is set.
type Chair struct {
	ID       int        `json:"id"`
	Occupant *Client    `json:"occupant"`
	Since    *time.Time `json:"since"`
}

// Occupied reports whether someone sits in the chair.
func (c *Chair) Occupied() bool {
	return c.Occupant != nil
}

// Take seats client in the chair. When since is nil the current time is used.
func (c *Chair) Take(client Client, since *time.Time) error {
	if c.Occupied() {
		return fmt.Errorf("chair %d held by %q: %w", c.ID, c.Occupant.Name, ErrDoubleOccupancy)
	}
	at := time.Now().UTC()
	if since != nil {
		at = since.UTC()
	}
	c.Occupant = &client
	c.Since = &at
	return nil
}

// Release empties the chair. Releasing an empty chair does nothing.
func (c *Chair) Release() {
	c.Occupant = nil
	c.Since = nil
}

// Clone returns a copy that shares no pointers with c.
func (c Chair) Clone() Chair {
	out := Chair{ID: c.ID}
	if c.Occupant != nil {
		occupant := *c.Occupant
		out.Occupant = &occupant
	}
	if c.Since != nil {
		since := *c.Since
		out.Since = &since
	}
	return out
}

// Equal compares two chairs by id, occupant name and since instant.
func (c Chair) Equal(other Chair) bool {
	if c.ID != other.ID {
		return false
	}
	if (c.Occupant == nil) != (other.Occupant == nil) || (c.Since == nil) != (other.Since == nil) {
		return false
	}
	if c.Occupant != nil && c.Occupant.Name != other.Occupant.Name {
		return false
	}
	if c.Since != nil && !c.Since.Equal(*other.Since) {
		return false
	}
	return true
}

func (c Chair) String() string {
	if c.Occupant == nil || c.Since == nil {
		return "Empty"
	}
	return fmt.Sprintf("%s @ %s", c.Occupant.Name, c.Since.Local().Format("Monday 15:04"))
}

// Site is a venue with a set of chairs numbered 1..Capacity and a staff roster.
type Site struct {
	Capacity int     `json:"capacity"`
	Name     string  `json:"name"`
	Staff    []Staff `json:"staff"`
	Chairs   []Chair `json:"chairs"`
}

// New builds a site with capacity empty chairs and no staff.
func New(name string, capacity int) (*Site, error) {
	if capacity < 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("capacity %d: %w", capacity, ErrInvalidCapacity)
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	s := &Site{
		Capacity: capacity,
		Name:     name,
		Staff:    []Staff{},
		Chairs:   make([]Chair, 0, capacity),
	}
	for id := 1; id <= capacity; id++ {
		s.Chairs = append(s.Chairs, Chair{ID: id})
	}
	return s, nil
}

// BusyCount counts occupied chairs.
func (s *Site) BusyCount() int {
	n := 0
	for i := range s.Chairs {
		if s.Chairs[i].Occupied() {
			n++
		}
	}
	return n
}

// Chair returns the live chair with the given id.
func (s *Site) Chair(id int) (*Chair, error) {
	if id < 1 || id > len(s.Chairs) {
		return nil, fmt.Errorf("chair %d of %d: %w", id, len(s.Chairs), ErrChairNotFound)
	}
	return &s.Chairs[id-1], nil
}

// HasStaff reports whether a staff member with the given name exists.
func (s *Site) HasStaff(name string) bool {
	_, err := s.GetStaff(name)
	return err == nil
}

// GetStaff looks a staff member up by name.
func (s *Site) GetStaff(name string) (Staff, error) {
	name = strings.TrimSpace(name)
	for _, st := range s.Staff {
		if st.Name == name {
			return st, nil
		}
	}
	return Staff{}, fmt.Errorf("staff %q: %w", name, ErrStaffNotFound)
}

// AddStaff appends a staff member. It reports false, without error, when the
// name is already on the roster.
func (s *Site) AddStaff(name string) (Staff, bool, error) {
	name, err := CleanName(name)
	if err != nil {
		return Staff{}, false, err
	}
	if existing, err := s.GetStaff(name); err == nil {
		return existing, false, nil
	}
	st := Staff{Name: name}
	s.Staff = append(s.Staff, st)
	return st, true, nil
}

// RemoveStaff drops a staff member from the roster.
func (s *Site) RemoveStaff(name string) error {
	name = strings.TrimSpace(name)
	for i, st := range s.Staff {
		if st.Name == name {
			s.Staff = append(s.Staff[:i], s.Staff[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("staff %q: %w", name, ErrStaffNotFound)
}

// Clone returns a deep copy of the site.
func (s *Site) Clone() *Site {
	if s == nil {
		return nil
	}
	out := &Site{
		Capacity: s.Capacity,
		Name:     s.Name,
		Staff:    make([]Staff, len(s.Staff)),
		Chairs:   make([]Chair, len(s.Chairs)),
	}
	copy(out.Staff, s.Staff)
	for i, c := range s.Chairs {
		out.Chairs[i] = c.Clone()
	}
	return out
}

// Equal reports whether both sites hold the same state.
func (s *Site) Equal(other *Site) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Capacity != other.Capacity || s.Name != other.Name {
		return false
	}
	if len(s.Staff) != len(other.Staff) || len(s.Chairs) != len(other.Chairs) {
		return false
	}
	for i := range s.Staff {
		if s.Staff[i] != other.Staff[i] {
			return false
		}
	}
	for i := range s.Chairs {
		if !s.Chairs[i].Equal(other.Chairs[i]) {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of a site. A failure means the
// state was corrupted outside the site's own mutators.
func (s *Site) Validate() error {
	if s.Capacity < 0 {
		return fmt.Errorf("%w: negative capacity %d", ErrInconsistent, s.Capacity)
	}
	if len(s.Chairs) != s.Capacity {
		return fmt.Errorf("%w: %d chairs for capacity %d", ErrInconsistent, len(s.Chairs), s.Capacity)
	}
	for i, c := range s.Chairs {
		if c.ID != i+1 {
			return fmt.Errorf("%w: chair at position %d has id %d", ErrInconsistent, i+1, c.ID)
		}
		if (c.Occupant == nil) != (c.Since == nil) {
			return fmt.Errorf("%w: chair %d occupant and since disagree", ErrInconsistent, c.ID)
		}
	}
	seen := make(map[string]struct{}, len(s.Staff))
	for _, st := range s.Staff {
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("%w: staff %q listed twice", ErrInconsistent, st.Name)
		}
		seen[st.Name] = struct{}{}
	}
	return nil
}

// CleanName trims a client or staff name and rejects empty ones.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}
