// internal/store/faulty.go
package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cozy/internal/eventlog"
	"cozy/internal/site"
)

// Fault describes what Faulty injects into the wrapped store.
type Fault struct {
	// SaveErr is returned from Save instead of writing.
	SaveErr error
	// LoadErr is returned from LoadSite and LoadLog instead of reading.
	LoadErr error
	// Latency delays every call. A cancelled context cuts the delay short.
	Latency time.Duration
}

// Faulty wraps a Store and injects failures and latency on demand. It is
// used to exercise durability handling.
type Faulty struct {
	Store

	mu     sync.Mutex
	fault  Fault
	saves  int
	failed int
	tracer trace.Tracer
}

func NewFaulty(inner Store) *Faulty {
	return &Faulty{Store: inner, tracer: otel.Tracer("cozy/store")}
}

// Inject replaces the active fault.
func (f *Faulty) Inject(fault Fault) {
	f.mu.Lock()
	f.fault = fault
	f.mu.Unlock()
}

// Heal removes every injected fault.
func (f *Faulty) Heal() { f.Inject(Fault{}) }

// Counts reports successful and failed saves so far.
func (f *Faulty) Counts() (saves, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves, f.failed
}

func (f *Faulty) current() Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fault
}

func (f *Faulty) delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Faulty) LoadSite(ctx context.Context) (*site.Site, error) {
	fault := f.current()
	if err := f.delay(ctx, fault.Latency); err != nil {
		return nil, err
	}
	if fault.LoadErr != nil {
		return nil, &OpError{Op: "store.load_site", Err: fault.LoadErr}
	}
	return f.Store.LoadSite(ctx)
}

func (f *Faulty) LoadLog(ctx context.Context) (*eventlog.EventLog, error) {
	fault := f.current()
	if err := f.delay(ctx, fault.Latency); err != nil {
		return nil, err
	}
	if fault.LoadErr != nil {
		return nil, &OpError{Op: "store.load_log", Err: fault.LoadErr}
	}
	return f.Store.LoadLog(ctx)
}

func (f *Faulty) Save(ctx context.Context, s *site.Site, log *eventlog.EventLog) error {
	fault := f.current()
	ctx, span := f.tracer.Start(ctx, "store.faulty.save",
		trace.WithAttributes(
			attribute.Bool("fault.injected", fault.SaveErr != nil),
			attribute.Int64("fault.latency_ms", fault.Latency.Milliseconds()),
		),
	)
	defer span.End()

	if err := f.delay(ctx, fault.Latency); err != nil {
		f.record(false)
		return &OpError{Op: "store.write", Err: err}
	}
	if fault.SaveErr != nil {
		f.record(false)
		return &OpError{Op: "store.write", Err: fault.SaveErr}
	}
	if err := f.Store.Save(ctx, s, log); err != nil {
		f.record(false)
		return err
	}
	f.record(true)
	return nil
}

func (f *Faulty) record(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.saves++
	} else {
		f.failed++
	}
}
