// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"cozy/internal/eventlog"
	"cozy/internal/site"
)

var (
	// ErrNotFound is returned by the loaders when nothing was persisted yet.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict means another writer advanced the stored history.
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
)

// Store persists a site snapshot together with its event log.
type Store interface {
	// Init prepares the storage location. It is safe to call repeatedly.
	Init(ctx context.Context) error
	LoadSite(ctx context.Context) (*site.Site, error)
	LoadLog(ctx context.Context) (*eventlog.EventLog, error)
	// Save writes the snapshot and, when log is not nil, the log. Both must
	// be written for the save to succeed.
	Save(ctx context.Context, s *site.Site, log *eventlog.EventLog) error
}

// OpError wraps a storage failure with the operation and location involved.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Op
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
