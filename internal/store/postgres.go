// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cozy/internal/eventlog"
	"cozy/internal/site"
)

const (
	aggregateSite     = "site"
	aggregateEventLog = "event_log"
)

// siteNamespace seeds the name-based aggregate ids of sites.
var siteNamespace = uuid.MustParse("9b2f7c1e-5d4a-4c3b-8a6e-2f1d0c9b8a7e")

// SiteAggregateID derives the stable aggregate id used for a site name.
func SiteAggregateID(name string) uuid.UUID {
	return uuid.NewSHA1(siteNamespace, []byte(name))
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);
CREATE TABLE IF NOT EXISTS snapshots (
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	version INT NOT NULL,
	state JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (aggregate_id, aggregate_type)
);
`

// PostgresStore keeps the snapshot and the log as JSONB documents in the
// snapshots table and streams each new event into the events table once,
// numbered by its position in the log.
type PostgresStore struct {
	db          *sql.DB
	aggregateID uuid.UUID
	tracer      trace.Tracer
}

func NewPostgresStore(db *sql.DB, siteName string) *PostgresStore {
	return &PostgresStore{
		db:          db,
		aggregateID: SiteAggregateID(siteName),
		tracer:      otel.Tracer("cozy/store"),
	}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Init(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "store.postgres.init")
	defer span.End()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &OpError{Op: "store.migrate", Err: err}
	}
	return nil
}

func (s *PostgresStore) LoadSite(ctx context.Context) (*site.Site, error) {
	var out site.Site
	if err := s.loadSnapshot(ctx, aggregateSite, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PostgresStore) LoadLog(ctx context.Context) (*eventlog.EventLog, error) {
	var out eventlog.EventLog
	if err := s.loadSnapshot(ctx, aggregateEventLog, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PostgresStore) loadSnapshot(ctx context.Context, aggregateType string, v any) error {
	ctx, span := s.tracer.Start(ctx, "store.postgres.load_snapshot",
		trace.WithAttributes(
			attribute.String("aggregate.id", s.aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
		),
	)
	defer span.End()

	var state []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state
		FROM snapshots
		WHERE aggregate_id = $1 AND aggregate_type = $2
	`, s.aggregateID, aggregateType).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return &OpError{Op: "store.load_snapshot", Path: aggregateType, Err: ErrNotFound}
	}
	if err != nil {
		return &OpError{Op: "store.load_snapshot", Path: aggregateType, Err: err}
	}
	if err := json.Unmarshal(state, v); err != nil {
		return &OpError{Op: "store.decode", Path: aggregateType, Err: err}
	}
	return nil
}

// Save writes everything in one serializable transaction. Events already in
// the events table are skipped; if the table holds more events than log, some
// other writer got there first and ErrConcurrencyConflict is returned.
func (s *PostgresStore) Save(ctx context.Context, st *site.Site, log *eventlog.EventLog) error {
	ctx, span := s.tracer.Start(ctx, "store.postgres.save",
		trace.WithAttributes(
			attribute.String("aggregate.id", s.aggregateID.String()),
			attribute.Bool("save.log", log != nil),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return &OpError{Op: "store.begin", Err: err}
	}
	defer tx.Rollback()

	version := 0
	if log != nil {
		version = log.Len()
		if err := s.appendEvents(ctx, span, tx, log); err != nil {
			return err
		}
	}

	if err := s.saveSnapshot(ctx, tx, aggregateSite, version, st); err != nil {
		return err
	}
	if log != nil {
		if err := s.saveSnapshot(ctx, tx, aggregateEventLog, version, log); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &OpError{Op: "store.commit", Err: err}
	}
	span.SetAttributes(attribute.Int("snapshot.version", version))
	return nil
}

func (s *PostgresStore) appendEvents(ctx context.Context, span trace.Span, tx *sql.Tx, log *eventlog.EventLog) error {
	var stored int
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, s.aggregateID).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &OpError{Op: "store.current_version", Err: err}
	}

	if stored > log.Len() {
		span.SetAttributes(
			attribute.Int("stored.version", stored),
			attribute.Bool("conflict.detected", true),
		)
		return fmt.Errorf("%d events stored, log has %d: %w", stored, log.Len(), ErrConcurrencyConflict)
	}
	if stored == log.Len() {
		return nil
	}

	events, err := log.Events()
	if err != nil {
		return &OpError{Op: "store.events", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`)
	if err != nil {
		return &OpError{Op: "store.prepare", Err: err}
	}
	defer stmt.Close()

	for i := stored; i < len(events); i++ {
		ev := events[i]
		version := i + 1

		data, err := json.Marshal(ev)
		if err != nil {
			return &OpError{Op: "store.encode", Path: ev.EventID().String(), Err: err}
		}
		metadata := map[string]string{"event_id": ev.EventID().String()}
		if by := ev.Actor(); by != nil {
			metadata["by"] = by.Name
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return &OpError{Op: "store.encode", Path: ev.EventID().String(), Err: err}
		}

		var rowID int64
		err = stmt.QueryRowContext(ctx,
			s.aggregateID,
			aggregateSite,
			string(ev.Kind()),
			data,
			metadataJSON,
			version,
			ev.OccurredAt().UTC(),
		).Scan(&rowID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return &OpError{Op: "store.insert_event", Path: ev.EventID().String(), Err: err}
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.row", rowID),
			attribute.Int("event.version", version),
			attribute.String("event.type", string(ev.Kind())),
		))
	}
	return nil
}

func (s *PostgresStore) saveSnapshot(ctx context.Context, tx *sql.Tx, aggregateType string, version int, v any) error {
	state, err := json.Marshal(v)
	if err != nil {
		return &OpError{Op: "store.encode", Path: aggregateType, Err: err}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id, aggregate_type) DO UPDATE
		SET version = EXCLUDED.version,
		    state = EXCLUDED.state,
		    created_at = EXCLUDED.created_at
	`, s.aggregateID, aggregateType, version, state, time.Now().UTC())
	if err != nil {
		return &OpError{Op: "store.save_snapshot", Path: aggregateType, Err: err}
	}
	return nil
}
