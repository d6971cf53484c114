// internal/controller/service.go
package controller

import (
	"context"

	"cozy/internal/eventlog"
	"cozy/internal/site"
)

// Service is the command surface front doors talk to.
type Service interface {
	OccupyChair(ctx context.Context, chairID int, clientName string) error
	FreeChair(ctx context.Context, chairID int) error
	AddStaff(ctx context.Context, name string) (bool, error)
	ResizeSite(ctx context.Context, capacity int) ([]site.Move, error)

	SelectStaff(name string) error
	ClearStaff()
	ActiveStaff() (site.Staff, bool)

	Site() *site.Site
	EventLog() *eventlog.EventLog
	Stats() Stats
	Persist(ctx context.Context) error
}

// Stats is a cheap summary of the live state.
type Stats struct {
	SiteName string `json:"site_name"`
	Capacity int    `json:"capacity"`
	Busy     int    `json:"busy"`
	Staff    int    `json:"staff"`
	Events   int    `json:"events"`
}
