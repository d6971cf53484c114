// internal/eventlog/log.go
package eventlog

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"cozy/internal/site"
)

var (
	ErrUnknownEventVariant = errors.New("unknown event variant")
	ErrDuplicateEventID    = errors.New("duplicate event id")
	ErrInvalidEvent        = errors.New("invalid event")
	ErrCorruptLog          = errors.New("event log corrupt")
	ErrReplayMismatch      = errors.New("replayed state does not match final site state")
)

// EventLog is the append-only history of a site. EventOrder holds every event
// id in the order events were appended; each variant keeps its own sequence.
type EventLog struct {
	InitialSiteState *site.Site      `json:"initial_site_state"`
	EventOrder       []uuid.UUID     `json:"event_order"`
	SiteResized      []SiteResized   `json:"site_resized"`
	ChairTaken       []ChairTaken    `json:"chair_taken"`
	ChairLeft        []ChairLeft     `json:"chair_left"`
	StaffAdded       []StaffAdded    `json:"staff_added"`
	StaffRemoved     []StaffRemoved  `json:"staff_removed"`
	ClientAdded      []ClientAdded   `json:"client_added"`
	ClientRemoved    []ClientRemoved `json:"client_removed"`
	FinalSiteState   *site.Site      `json:"final_site_state"`

	ids map[uuid.UUID]struct{}
}

// New starts an empty log whose initial state is a copy of s.
func New(s *site.Site) *EventLog {
	return &EventLog{
		InitialSiteState: s.Clone(),
		EventOrder:       []uuid.UUID{},
		SiteResized:      []SiteResized{},
		ChairTaken:       []ChairTaken{},
		ChairLeft:        []ChairLeft{},
		StaffAdded:       []StaffAdded{},
		StaffRemoved:     []StaffRemoved{},
		ClientAdded:      []ClientAdded{},
		ClientRemoved:    []ClientRemoved{},
	}
}

// Len is the number of events appended so far.
func (l *EventLog) Len() int {
	return len(l.EventOrder)
}

// Append files ev under its variant and records it in EventOrder. Variants
// are appended by value; anything else is rejected with
// ErrUnknownEventVariant.
func (l *EventLog) Append(ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	id := ev.EventID()
	if id == uuid.Nil {
		return fmt.Errorf("%w: %s has no id", ErrInvalidEvent, ev.Kind())
	}
	if l.ids == nil {
		l.ids = make(map[uuid.UUID]struct{}, len(l.EventOrder))
		for _, known := range l.EventOrder {
			l.ids[known] = struct{}{}
		}
	}
	if _, dup := l.ids[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEventID, id)
	}

	switch e := ev.(type) {
	case SiteResized:
		l.SiteResized = append(l.SiteResized, e)
	case ChairTaken:
		l.ChairTaken = append(l.ChairTaken, e)
	case ChairLeft:
		l.ChairLeft = append(l.ChairLeft, e)
	case StaffAdded:
		l.StaffAdded = append(l.StaffAdded, e)
	case StaffRemoved:
		l.StaffRemoved = append(l.StaffRemoved, e)
	case ClientAdded:
		l.ClientAdded = append(l.ClientAdded, e)
	case ClientRemoved:
		l.ClientRemoved = append(l.ClientRemoved, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEventVariant, ev)
	}

	l.ids[id] = struct{}{}
	l.EventOrder = append(l.EventOrder, id)
	return nil
}

// Events returns every event in append order.
func (l *EventLog) Events() ([]Event, error) {
	byID := make(map[uuid.UUID]Event, len(l.EventOrder))
	add := func(ev Event) error {
		if _, dup := byID[ev.EventID()]; dup {
			return fmt.Errorf("%w: id %s filed twice", ErrCorruptLog, ev.EventID())
		}
		byID[ev.EventID()] = ev
		return nil
	}
	for _, ev := range l.all() {
		if err := add(ev); err != nil {
			return nil, err
		}
	}
	if len(byID) != len(l.EventOrder) {
		return nil, fmt.Errorf("%w: %d events filed, %d ordered", ErrCorruptLog, len(byID), len(l.EventOrder))
	}

	out := make([]Event, 0, len(l.EventOrder))
	for _, id := range l.EventOrder {
		ev, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: ordered id %s has no event", ErrCorruptLog, id)
		}
		delete(byID, id)
		out = append(out, ev)
	}
	return out, nil
}

func (l *EventLog) all() []Event {
	out := make([]Event, 0, len(l.EventOrder))
	for _, e := range l.SiteResized {
		out = append(out, e)
	}
	for _, e := range l.ChairTaken {
		out = append(out, e)
	}
	for _, e := range l.ChairLeft {
		out = append(out, e)
	}
	for _, e := range l.StaffAdded {
		out = append(out, e)
	}
	for _, e := range l.StaffRemoved {
		out = append(out, e)
	}
	for _, e := range l.ClientAdded {
		out = append(out, e)
	}
	for _, e := range l.ClientRemoved {
		out = append(out, e)
	}
	return out
}

// Clone returns a deep copy of the log.
func (l *EventLog) Clone() *EventLog {
	if l == nil {
		return nil
	}
	out := &EventLog{
		InitialSiteState: l.InitialSiteState.Clone(),
		EventOrder:       append([]uuid.UUID{}, l.EventOrder...),
		SiteResized:      make([]SiteResized, len(l.SiteResized)),
		ChairTaken:       make([]ChairTaken, len(l.ChairTaken)),
		ChairLeft:        make([]ChairLeft, len(l.ChairLeft)),
		StaffAdded:       make([]StaffAdded, len(l.StaffAdded)),
		StaffRemoved:     make([]StaffRemoved, len(l.StaffRemoved)),
		ClientAdded:      make([]ClientAdded, len(l.ClientAdded)),
		ClientRemoved:    make([]ClientRemoved, len(l.ClientRemoved)),
		FinalSiteState:   l.FinalSiteState.Clone(),
	}
	for i, e := range l.SiteResized {
		e.Header = e.Header.clone()
		out.SiteResized[i] = e
	}
	for i, e := range l.ChairTaken {
		e.Header, e.Chair = e.Header.clone(), e.Chair.Clone()
		out.ChairTaken[i] = e
	}
	for i, e := range l.ChairLeft {
		e.Header, e.Chair = e.Header.clone(), e.Chair.Clone()
		out.ChairLeft[i] = e
	}
	for i, e := range l.StaffAdded {
		e.Header = e.Header.clone()
		out.StaffAdded[i] = e
	}
	for i, e := range l.StaffRemoved {
		e.Header = e.Header.clone()
		out.StaffRemoved[i] = e
	}
	for i, e := range l.ClientAdded {
		e.Header = e.Header.clone()
		out.ClientAdded[i] = e
	}
	for i, e := range l.ClientRemoved {
		e.Header = e.Header.clone()
		out.ClientRemoved[i] = e
	}
	return out
}
