// internal/logging/logging.go
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	// Home is the site home directory. Logs go to Home/logs/cozy.log when
	// ToFile is set.
	Home   string
	ToFile bool
	Debug  bool
}

// New builds the process logger. The returned close function releases the
// log file, if one was opened.
func New(cfg Config) (*slog.Logger, func() error, error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)

	if cfg.ToFile {
		dir := filepath.Join(filepath.Clean(cfg.Home), "logs")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(filepath.Join(dir, "cozy.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		w, closeFn = f, f.Close
	}

	l := NewWriter(w, cfg.Debug)
	l.Debug("logger.initialized", "to_file", cfg.ToFile)
	return l, closeFn, nil
}

// NewWriter builds a JSON logger on w with UTC timestamps.
func NewWriter(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})
	return slog.New(h)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
