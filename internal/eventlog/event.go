// internal/eventlog/event.go
package eventlog

import (
	"time"

	"github.com/google/uuid"

	"cozy/internal/site"
)

// Kind names an event variant.
type Kind string

const (
	KindSiteResized   Kind = "site_resized"
	KindChairTaken    Kind = "chair_taken"
	KindChairLeft     Kind = "chair_left"
	KindStaffAdded    Kind = "staff_added"
	KindStaffRemoved  Kind = "staff_removed"
	KindClientAdded   Kind = "client_added"
	KindClientRemoved Kind = "client_removed"
)

// Event is one committed change. The set of implementations is closed: only
// the variant types declared in this package are accepted by EventLog.
type Event interface {
	EventID() uuid.UUID
	OccurredAt() time.Time
	Actor() *site.Staff
	Kind() Kind
	isEvent()
}

// Header carries the fields shared by every variant. By is nil when nobody
// was selected as the acting staff member.
type Header struct {
	ID   uuid.UUID   `json:"id"`
	When time.Time   `json:"when"`
	By   *site.Staff `json:"by"`
}

func newHeader(by *site.Staff, when time.Time) Header {
	return Header{
		ID:   uuid.New(),
		When: when.UTC(),
		By:   cloneStaff(by),
	}
}

func (h Header) EventID() uuid.UUID    { return h.ID }
func (h Header) OccurredAt() time.Time { return h.When }
func (h Header) Actor() *site.Staff    { return h.By }
func (h Header) isEvent()              {}

func (h Header) clone() Header {
	h.By = cloneStaff(h.By)
	return h
}

func cloneStaff(st *site.Staff) *site.Staff {
	if st == nil {
		return nil
	}
	cp := *st
	return &cp
}

// SiteResized records a capacity change.
type SiteResized struct {
	Header
	Capacity int `json:"capacity"`
	Previous int `json:"previous_capacity"`
}

// ChairTaken records a client sitting down. Chair is the chair as it was
// right after the take.
type ChairTaken struct {
	Header
	Chair site.Chair `json:"chair"`
}

// ChairLeft records a chair being freed. Chair is the chair as it was right
// before the release, so the log keeps who left.
type ChairLeft struct {
	Header
	Chair site.Chair `json:"chair"`
}

// StaffAdded records a new staff member joining the roster.
type StaffAdded struct {
	Header
	Who site.Staff `json:"who"`
}

// StaffRemoved records a staff member leaving the roster.
type StaffRemoved struct {
	Header
	Who site.Staff `json:"who"`
}

// ClientAdded records a client becoming known to the site.
type ClientAdded struct {
	Header
	Client site.Client `json:"client"`
}

// ClientRemoved records a client being forgotten by the site.
type ClientRemoved struct {
	Header
	Client site.Client `json:"client"`
}

func (SiteResized) Kind() Kind   { return KindSiteResized }
func (ChairTaken) Kind() Kind    { return KindChairTaken }
func (ChairLeft) Kind() Kind     { return KindChairLeft }
func (StaffAdded) Kind() Kind    { return KindStaffAdded }
func (StaffRemoved) Kind() Kind  { return KindStaffRemoved }
func (ClientAdded) Kind() Kind   { return KindClientAdded }
func (ClientRemoved) Kind() Kind { return KindClientRemoved }

// The constructors below copy every entity they are handed, so a recorded
// event never shares memory with the live site.

func NewSiteResized(by *site.Staff, when time.Time, capacity, previous int) SiteResized {
	return SiteResized{Header: newHeader(by, when), Capacity: capacity, Previous: previous}
}

func NewChairTaken(by *site.Staff, when time.Time, chair site.Chair) ChairTaken {
	return ChairTaken{Header: newHeader(by, when), Chair: chair.Clone()}
}

func NewChairLeft(by *site.Staff, when time.Time, chair site.Chair) ChairLeft {
	return ChairLeft{Header: newHeader(by, when), Chair: chair.Clone()}
}

func NewStaffAdded(by *site.Staff, when time.Time, who site.Staff) StaffAdded {
	return StaffAdded{Header: newHeader(by, when), Who: who}
}

func NewStaffRemoved(by *site.Staff, when time.Time, who site.Staff) StaffRemoved {
	return StaffRemoved{Header: newHeader(by, when), Who: who}
}

func NewClientAdded(by *site.Staff, when time.Time, client site.Client) ClientAdded {
	return ClientAdded{Header: newHeader(by, when), Client: client}
}

func NewClientRemoved(by *site.Staff, when time.Time, client site.Client) ClientRemoved {
	return ClientRemoved{Header: newHeader(by, when), Client: client}
}
