// internal/site/resize.go
package site

import (
	"fmt"
	"slices"
)

// Move is one relocation performed by a shrink: the occupant of chair From
// ends up in chair To.
type Move struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// PlanResize computes the relocations a resize to target would perform
// without touching the site.
//
// Occupied chairs past target are handled in order. Each one moves into the
// highest-numbered free chair that survives the shrink, and a chair that
// receives someone is not offered again.
func (s *Site) PlanResize(target int) ([]Move, error) {
	if target < 0 || target > MaxCapacity {
		return nil, fmt.Errorf("capacity %d: %w", target, ErrInvalidCapacity)
	}
	if busy := s.BusyCount(); busy > target {
		return nil, fmt.Errorf("%d occupied, capacity %d: %w", busy, target, ErrCapacityBelowOccupancy)
	}
	if target >= len(s.Chairs) {
		return nil, nil
	}

	kept := s.Chairs[:target]
	taken := make([]bool, len(kept))
	for i := range kept {
		taken[i] = kept[i].Occupied()
	}

	var moves []Move
	next := len(kept) - 1
	for _, evicted := range s.Chairs[target:] {
		if !evicted.Occupied() {
			continue
		}
		for next >= 0 && taken[next] {
			next--
		}
		if next < 0 {
			return nil, fmt.Errorf("%w: %w (chair %d)", ErrInconsistent, ErrRelocationExhausted, evicted.ID)
		}
		taken[next] = true
		moves = append(moves, Move{From: evicted.ID, To: kept[next].ID})
	}
	return moves, nil
}

// Resize sets the number of chairs to target. Growing adds empty chairs.
// Shrinking first relocates everyone seated past target, keeping their name
// and since, then drops the extra chairs. Nothing changes when an error is
// returned.
func (s *Site) Resize(target int) error {
	moves, err := s.PlanResize(target)
	if err != nil {
		return err
	}

	switch {
	case target > len(s.Chairs):
		for id := len(s.Chairs) + 1; id <= target; id++ {
			s.Chairs = append(s.Chairs, Chair{ID: id})
		}
	case target < len(s.Chairs):
		for _, m := range moves {
			from, to := &s.Chairs[m.From-1], &s.Chairs[m.To-1]
			to.Occupant, to.Since = from.Occupant, from.Since
			from.Release()
		}
		s.Chairs = slices.Clip(s.Chairs[:target])
	}
	s.Capacity = target
	return nil
}
