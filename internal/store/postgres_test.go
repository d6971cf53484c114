package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cozy/internal/eventlog"
	"cozy/internal/site"
)

// setupTestDB connects to the PostgreSQL instance described by the usual PG*
// variables and skips the test when none is reachable.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	return db
}

// newPostgresStore returns a store for a site name no other test uses.
func newPostgresStore(t testing.TB, db *sql.DB) *PostgresStore {
	t.Helper()
	ps := NewPostgresStore(db, "test-"+uuid.NewString())
	require.NoError(t, ps.Init(context.Background()))
	return ps
}

func storedEvents(t *testing.T, db *sql.DB, id uuid.UUID) []string {
	t.Helper()
	rows, err := db.Query(`SELECT event_type FROM events WHERE aggregate_id = $1 ORDER BY version`, id)
	require.NoError(t, err)
	defer rows.Close()

	var kinds []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		kinds = append(kinds, k)
	}
	require.NoError(t, rows.Err())
	return kinds
}

func TestSiteAggregateIDIsStable(t *testing.T) {
	assert.Equal(t, SiteAggregateID("Cozy"), SiteAggregateID("Cozy"))
	assert.NotEqual(t, SiteAggregateID("Cozy"), SiteAggregateID("Elsewhere"))
}

func TestPostgresStoreLoadMissing(t *testing.T) {
	ps := newPostgresStore(t, setupTestDB(t))

	_, err := ps.LoadSite(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ps.LoadLog(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	ps := newPostgresStore(t, db)

	s, log := sampleState(t)
	require.NoError(t, ps.Save(ctx, s, log))

	gotSite, err := ps.LoadSite(ctx)
	require.NoError(t, err)
	assert.True(t, gotSite.Equal(s))

	gotLog, err := ps.LoadLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, log.EventOrder, gotLog.EventOrder)
	assert.NoError(t, gotLog.Verify())

	assert.Equal(t, []string{string(eventlog.KindStaffAdded), string(eventlog.KindChairTaken)},
		storedEvents(t, db, ps.aggregateID))
}

func TestPostgresStoreAppendsOnlyNewEvents(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	ps := newPostgresStore(t, db)

	s, log := sampleState(t)
	require.NoError(t, ps.Save(ctx, s, log))
	require.NoError(t, ps.Save(ctx, s, log))

	require.NoError(t, s.Resize(4))
	require.NoError(t, log.Append(eventlog.NewSiteResized(nil, stamp, 4, 3)))
	log.FinalSiteState = s.Clone()
	require.NoError(t, ps.Save(ctx, s, log))

	assert.Len(t, storedEvents(t, db, ps.aggregateID), 3)

	gotSite, err := ps.LoadSite(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, gotSite.Capacity)
}

func TestPostgresStoreDetectsStaleWriter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	ps := newPostgresStore(t, db)

	s, log := sampleState(t)
	require.NoError(t, ps.Save(ctx, s, log))

	stale := eventlog.New(s)
	err := ps.Save(ctx, s, stale)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestPostgresStoreSnapshotOnlySave(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStore(t, setupTestDB(t))

	s, err := site.New("Cozy", 2)
	require.NoError(t, err)
	require.NoError(t, ps.Save(ctx, s, nil))

	got, err := ps.LoadSite(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(s))

	_, err = ps.LoadLog(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func BenchmarkPostgresSave(b *testing.B) {
	db := setupTestDB(b)
	ps := newPostgresStore(b, db)
	ctx := context.Background()

	s, err := site.New("Cozy", 10)
	require.NoError(b, err)
	log := eventlog.New(s)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		name := fmt.Sprintf("staff-%d", i)
		st, _, err := s.AddStaff(name)
		if err != nil {
			b.Fatal(err)
		}
		if err := log.Append(eventlog.NewStaffAdded(nil, stamp, st)); err != nil {
			b.Fatal(err)
		}
		if err := ps.Save(ctx, s, log); err != nil {
			b.Fatalf("save failed: %v", err)
		}
	}
}
