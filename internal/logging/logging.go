package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	trerrors "github.com/vnykmshr/taskrun/pkg/common/errors"
)

// Config selects the handler, level and service label of a logger.
type Config struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json or text
	Service   string `yaml:"service"`
	AddSource bool   `yaml:"add_source"`
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, trerrors.NewValidationError("logging", "level", s, "unknown level").
			WithHint("use debug, info, warn or error")
	}
}

// New builds a logger writing to w. A nil w means stdout.
//
// Records use "ts" and "severity" keys and always carry the service name.
func New(w io.Writer, cfg Config) (*slog.Logger, error) {
	if w == nil {
		w = os.Stdout
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				a.Key = "severity"
			}
			return a
		},
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, trerrors.NewValidationError("logging", "format", cfg.Format, "unknown format").
			WithHint("use json or text")
	}

	service := cfg.Service
	if service == "" {
		service = "taskrun"
	}
	return slog.New(&serviceHandler{Handler: h, service: service}), nil
}

// Init installs a logger built from cfg as the slog default.
func Init(cfg Config) error {
	l, err := New(os.Stdout, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type serviceHandler struct {
	slog.Handler
	service string
}

func (h *serviceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("service", h.service))
	return h.Handler.Handle(ctx, r)
}

func (h *serviceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &serviceHandler{Handler: h.Handler.WithAttrs(attrs), service: h.service}
}

func (h *serviceHandler) WithGroup(name string) slog.Handler {
	return &serviceHandler{Handler: h.Handler.WithGroup(name), service: h.service}
}
