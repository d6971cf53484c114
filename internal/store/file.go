// internal/store/file.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cozy/internal/eventlog"
	"cozy/internal/logging"
	"cozy/internal/site"
)

// File layout under a site home directory.
const (
	SiteStateFile = "site_state.json"
	EventLogFile  = "current_event_log.json"
	DataDir       = "data"
)

// FileStore keeps the snapshot and the log as two JSON documents in a home
// directory. It does no locking: one process per home.
type FileStore struct {
	home   string
	logger *slog.Logger
	tracer trace.Tracer
}

type FileOption func(*FileStore)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) FileOption {
	return func(s *FileStore) { s.logger = logger }
}

func NewFileStore(home string, opts ...FileOption) *FileStore {
	s := &FileStore{
		home:   filepath.Clean(home),
		logger: logging.Discard(),
		tracer: otel.Tracer("cozy/store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Home() string         { return s.home }
func (s *FileStore) SitePath() string     { return filepath.Join(s.home, SiteStateFile) }
func (s *FileStore) EventLogPath() string { return filepath.Join(s.home, EventLogFile) }
func (s *FileStore) DataPath() string     { return filepath.Join(s.home, DataDir) }

func (s *FileStore) Init(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "store.file.init",
		trace.WithAttributes(attribute.String("store.home", s.home)))
	defer span.End()

	for _, dir := range []string{s.home, s.DataPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &OpError{Op: "store.mkdir", Path: dir, Err: err}
		}
	}
	return nil
}

func (s *FileStore) LoadSite(ctx context.Context) (*site.Site, error) {
	_, span := s.tracer.Start(ctx, "store.file.load_site")
	defer span.End()

	var out site.Site
	if err := s.readJSON(s.SitePath(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *FileStore) LoadLog(ctx context.Context) (*eventlog.EventLog, error) {
	_, span := s.tracer.Start(ctx, "store.file.load_log")
	defer span.End()

	var out eventlog.EventLog
	if err := s.readJSON(s.EventLogPath(), &out); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", out.Len()))
	return &out, nil
}

func (s *FileStore) Save(ctx context.Context, st *site.Site, log *eventlog.EventLog) error {
	_, span := s.tracer.Start(ctx, "store.file.save",
		trace.WithAttributes(attribute.Bool("save.log", log != nil)))
	defer span.End()

	if err := s.writeJSON(s.SitePath(), st); err != nil {
		span.RecordError(err)
		return err
	}
	if log == nil {
		return nil
	}
	if err := s.writeJSON(s.EventLogPath(), log); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("events.saved", log.Len()))
	return nil
}

func (s *FileStore) readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &OpError{Op: "store.read", Path: path, Err: ErrNotFound}
	}
	if err != nil {
		return &OpError{Op: "store.read", Path: path, Err: err}
	}
	if err := json.Unmarshal(b, v); err != nil {
		return &OpError{Op: "store.decode", Path: path, Err: err}
	}
	return nil
}

// writeJSON replaces path through a synced temp file and a rename, so a crash
// leaves either the old or the new document.
func (s *FileStore) writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &OpError{Op: "store.encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return &OpError{Op: "store.write", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return &OpError{Op: "store.write", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &OpError{Op: "store.sync", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &OpError{Op: "store.close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return &OpError{Op: "store.rename", Path: path, Err: err}
	}

	s.logger.Debug("store.written", "path", path, "bytes", len(b))
	return nil
}
