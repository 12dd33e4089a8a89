// Package logger builds the slog stack used across AgentMesh.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/AgentMesh/internal/config"
)

// New builds the process logger: JSON records tagged with the service name.
// Records logged with a request-scoped context carry its request_id.
func New(cfg config.Logging) *slog.Logger {
	return slog.New(Handler(os.Stdout, cfg))
}

// Handler builds the slog.Handler behind New. Split out so tests can log
// into a buffer.
func Handler(w io.Writer, cfg config.Logging) slog.Handler {
	json := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: levelFor(cfg.Level),
	})
	return requestIDHandler{json.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})}
}

// levelFor maps a config string to a slog.Level. Unknown strings mean info.
func levelFor(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// requestIDHandler stamps each record with the request ID carried by the
// logging context, when one is present.
type requestIDHandler struct {
	slog.Handler
}

func (h requestIDHandler) Handle(ctx context.Context, rec slog.Record) error {
	if id := RequestIDFromContext(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, rec)
}

func (h requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return requestIDHandler{h.Handler.WithAttrs(attrs)}
}

func (h requestIDHandler) WithGroup(name string) slog.Handler {
	return requestIDHandler{h.Handler.WithGroup(name)}
}
