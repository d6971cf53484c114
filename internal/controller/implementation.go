// internal/controller/implementation.go
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"cozy/internal/eventlog"
	"cozy/internal/logging"
	"cozy/internal/site"
	"cozy/internal/store"
)

// ErrNotDurable means a change was applied in memory but could not be
// written. Persist retries the write.
var ErrNotDurable = errors.New("change not durable")

type Options struct {
	SiteName string
	// DefaultCapacity sizes a site created from scratch. Nil means
	// site.DefaultCapacity; zero is a valid capacity.
	DefaultCapacity *int
	// MaxCapacity caps ResizeSite. Zero means site.MaxCapacity.
	MaxCapacity int
	// Now is the clock used for event timestamps. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
	// MeterProvider receives the controller counters. Defaults to the
	// global provider.
	MeterProvider metric.MeterProvider
}

// Controller owns the live site and its event log and persists both after
// every committed change. All methods are safe for concurrent use; commands
// are applied one at a time.
type Controller struct {
	mu     sync.Mutex
	store  store.Store
	site   *site.Site
	log    *eventlog.EventLog
	active *site.Staff

	maxCapacity int

	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	committed       metric.Int64Counter
	persistFailures metric.Int64Counter
}

var _ Service = (*Controller)(nil)

// New opens the site kept in st, creating and persisting a fresh one when
// nothing was stored yet. A missing snapshot with a stored log is rebuilt by
// replaying the log.
func New(ctx context.Context, st store.Store, opts Options) (*Controller, error) {
	if opts.SiteName == "" {
		opts.SiteName = site.DefaultName
	}
	capacity := site.DefaultCapacity
	if opts.DefaultCapacity != nil {
		capacity = *opts.DefaultCapacity
	}
	if opts.MaxCapacity == 0 {
		opts.MaxCapacity = site.MaxCapacity
	}
	if opts.MaxCapacity < 0 || opts.MaxCapacity > site.MaxCapacity {
		return nil, fmt.Errorf("max capacity %d: %w", opts.MaxCapacity, site.ErrInvalidCapacity)
	}
	if capacity > opts.MaxCapacity {
		return nil, fmt.Errorf("default capacity %d above max %d: %w", capacity, opts.MaxCapacity, site.ErrInvalidCapacity)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}

	meter := opts.MeterProvider.Meter("cozy/controller")
	committed, err := meter.Int64Counter("cozy.events.committed",
		metric.WithDescription("Events appended to the site log"))
	if err != nil {
		return nil, fmt.Errorf("create committed counter: %w", err)
	}
	persistFailures, err := meter.Int64Counter("cozy.persist.failures",
		metric.WithDescription("Failed snapshot and log writes"))
	if err != nil {
		return nil, fmt.Errorf("create persist failure counter: %w", err)
	}

	c := &Controller{
		store:           st,
		maxCapacity:     opts.MaxCapacity,
		now:             opts.Now,
		logger:          opts.Logger,
		tracer:          otel.Tracer("cozy/controller"),
		committed:       committed,
		persistFailures: persistFailures,
	}

	ctx, span := c.tracer.Start(ctx, "controller.open")
	defer span.End()

	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	loaded, err := st.LoadSite(ctx)
	siteMissing := errors.Is(err, store.ErrNotFound)
	if err != nil && !siteMissing {
		return nil, fmt.Errorf("load site: %w", err)
	}

	c.log, err = st.LoadLog(ctx)
	logMissing := errors.Is(err, store.ErrNotFound)
	if err != nil && !logMissing {
		return nil, fmt.Errorf("load event log: %w", err)
	}
	if !logMissing {
		if _, err := c.log.Events(); err != nil {
			return nil, fmt.Errorf("load event log: %w", err)
		}
	}

	created := false
	switch {
	case !siteMissing:
		if err := loaded.Validate(); err != nil {
			return nil, fmt.Errorf("load site: %w", err)
		}
		c.site = loaded
	case !logMissing:
		c.site, err = recoverSite(c.log)
		if err != nil {
			return nil, fmt.Errorf("recover site: %w", err)
		}
		created = true
		c.logger.Warn("site.recovered_from_log", "events", c.log.Len(), "busy", c.site.BusyCount())
	default:
		c.site, err = site.New(opts.SiteName, capacity)
		if err != nil {
			return nil, fmt.Errorf("create site: %w", err)
		}
		created = true
		c.logger.Info("site.created", "name", c.site.Name, "capacity", c.site.Capacity)
	}

	switch {
	case logMissing:
		c.log = eventlog.New(c.site)
		created = true
	case c.log.FinalSiteState != nil && !c.log.FinalSiteState.Equal(c.site):
		c.logger.Warn("site.snapshot_diverges_from_log", "events", c.log.Len())
	}

	span.SetAttributes(
		attribute.String("site.name", c.site.Name),
		attribute.Int("site.capacity", c.site.Capacity),
		attribute.Int("log.events", c.log.Len()),
		attribute.Bool("site.created", created),
	)

	if created {
		c.log.FinalSiteState = c.site.Clone()
		if err := c.persist(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Controller) OccupyChair(ctx context.Context, chairID int, clientName string) error {
	ctx, span := c.tracer.Start(ctx, "controller.occupy_chair",
		trace.WithAttributes(attribute.Int("chair.id", chairID)))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	name, err := site.CleanName(clientName)
	if err != nil {
		return fmt.Errorf("occupy chair %d: %w", chairID, err)
	}
	chair, err := c.site.Chair(chairID)
	if err != nil {
		return err
	}
	now := c.now().UTC()
	if err := chair.Take(site.Client{Name: name}, &now); err != nil {
		return fmt.Errorf("occupy chair %d: %w", chairID, err)
	}
	return c.commit(ctx, span, eventlog.NewChairTaken(c.active, now, *chair))
}

// FreeChair releases a chair. Freeing an empty chair changes nothing.
func (c *Controller) FreeChair(ctx context.Context, chairID int) error {
	ctx, span := c.tracer.Start(ctx, "controller.free_chair",
		trace.WithAttributes(attribute.Int("chair.id", chairID)))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	chair, err := c.site.Chair(chairID)
	if err != nil {
		return err
	}
	if !chair.Occupied() {
		return nil
	}
	// The event keeps who left and since when.
	left := chair.Clone()
	chair.Release()
	return c.commit(ctx, span, eventlog.NewChairLeft(c.active, c.now(), left))
}

// AddStaff adds a staff member and reports whether the roster changed.
func (c *Controller) AddStaff(ctx context.Context, name string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "controller.add_staff")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	st, added, err := c.site.AddStaff(name)
	if err != nil {
		return false, fmt.Errorf("add staff: %w", err)
	}
	if !added {
		return false, nil
	}
	return true, c.commit(ctx, span, eventlog.NewStaffAdded(c.active, c.now(), st))
}

// ResizeSite changes the capacity, relocating occupants of removed chairs.
// It returns the relocations performed.
func (c *Controller) ResizeSite(ctx context.Context, capacity int) ([]site.Move, error) {
	ctx, span := c.tracer.Start(ctx, "controller.resize_site",
		trace.WithAttributes(attribute.Int("site.capacity.target", capacity)))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.site.Capacity
	if capacity == previous {
		return nil, nil
	}
	if capacity > c.maxCapacity {
		return nil, fmt.Errorf("resize %d -> %d: above max %d: %w", previous, capacity, c.maxCapacity, site.ErrInvalidCapacity)
	}
	moves, err := c.site.PlanResize(capacity)
	if err != nil {
		return nil, fmt.Errorf("resize %d -> %d: %w", previous, capacity, err)
	}
	if err := c.site.Resize(capacity); err != nil {
		return nil, fmt.Errorf("resize %d -> %d: %w", previous, capacity, err)
	}
	for _, m := range moves {
		c.logger.Info("chair.relocated", "from", m.From, "to", m.To)
	}
	span.SetAttributes(attribute.Int("site.relocations", len(moves)))

	return moves, c.commit(ctx, span, eventlog.NewSiteResized(c.active, c.now(), capacity, previous))
}

// SelectStaff makes name the actor recorded on subsequent events.
func (c *Controller) SelectStaff(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.site.GetStaff(name)
	if err != nil {
		return err
	}
	c.active = &st
	return nil
}

func (c *Controller) ClearStaff() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

func (c *Controller) ActiveStaff() (site.Staff, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return site.Staff{}, false
	}
	return *c.active, true
}

// Site returns a copy of the live site.
func (c *Controller) Site() *site.Site {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.site.Clone()
}

// EventLog returns a copy of the live log.
func (c *Controller) EventLog() *eventlog.EventLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Clone()
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		SiteName: c.site.Name,
		Capacity: c.site.Capacity,
		Busy:     c.site.BusyCount(),
		Staff:    len(c.site.Staff),
		Events:   c.log.Len(),
	}
}

// Persist writes the current site and log. Use it after a command failed
// with ErrNotDurable.
func (c *Controller) Persist(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "controller.persist")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.FinalSiteState = c.site.Clone()
	if err := c.persist(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return err
	}
	return nil
}

// commit records ev, which describes a change already applied to the site,
// and persists. Callers hold c.mu.
func (c *Controller) commit(ctx context.Context, span trace.Span, ev eventlog.Event) error {
	if err := c.log.Append(ev); err != nil {
		return fmt.Errorf("%w: record %s: %w", site.ErrInconsistent, ev.Kind(), err)
	}
	if ev.Actor() == nil {
		c.logger.Warn("event.unattributed", "kind", ev.Kind(), "id", ev.EventID())
	}
	c.committed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind()))))
	span.SetAttributes(
		attribute.String("event.id", ev.EventID().String()),
		attribute.String("event.kind", string(ev.Kind())),
	)

	c.log.FinalSiteState = c.site.Clone()
	if err := c.persist(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return err
	}
	return nil
}

// recoverSite rebuilds a lost site snapshot by replaying the stored log.
func recoverSite(l *eventlog.EventLog) (*site.Site, error) {
	s, err := l.Replay()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", site.ErrInconsistent, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if l.FinalSiteState != nil && !s.Equal(l.FinalSiteState) {
		return nil, fmt.Errorf("%w: %w", site.ErrInconsistent, eventlog.ErrReplayMismatch)
	}
	return s, nil
}

func (c *Controller) persist(ctx context.Context) error {
	if err := c.store.Save(ctx, c.site, c.log); err != nil {
		c.persistFailures.Add(ctx, 1)
		c.logger.Error("site.persist_failed", "error", err, "events", c.log.Len())
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	c.logger.Debug("site.persisted", "events", c.log.Len(), "busy", c.site.BusyCount())
	return nil
}
