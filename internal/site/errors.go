// internal/site/errors.go
package site

import "errors"

// Validation errors. The site is left unchanged when one is returned.
var (
	ErrDoubleOccupancy        = errors.New("chair already occupied")
	ErrStaffNotFound          = errors.New("staff not found")
	ErrCapacityBelowOccupancy = errors.New("capacity below current occupancy")
	ErrChairNotFound          = errors.New("chair not found")
	ErrInvalidCapacity        = errors.New("invalid capacity")
	ErrEmptyName              = errors.New("name is empty")
)

// ErrInconsistent marks a broken invariant: a logic defect or corrupted
// snapshot, never a user mistake.
var ErrInconsistent = errors.New("site state inconsistent")

// ErrRelocationExhausted is wrapped with ErrInconsistent when a shrink runs
// out of free chairs after its occupancy check passed.
var ErrRelocationExhausted = errors.New("no free chair left for relocation")
