package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// New returns a JSON logger on stdout tagged with the service name.
func New(service, level string) *slog.Logger {
	return NewWithWriter(service, level, os.Stdout)
}

// NewWithWriter is New writing to w. Unknown levels fall back to info, and
// debug adds source locations.
func NewWithWriter(service, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug})
	return slog.New(h).With(slog.String("service", service))
}

// ParseLevel maps "debug", "info", "warn" or "error" (any case) to a level.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// scope is the per-request logging state kept in the context.
type scope struct {
	correlationID string
	ownerKind     string
	ownerID       string
	logger        *slog.Logger
}

type scopeKey struct{}

func scopeOf(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func update(ctx context.Context, fn func(*scope)) context.Context {
	s := scopeOf(ctx)
	fn(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithCorrelationID stores the request's correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return update(ctx, func(s *scope) { s.correlationID = id })
}

// CorrelationIDFromContext returns the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return scopeOf(ctx).correlationID
}

// WithOwner stores the cart owner ("session" or "user" plus id).
func WithOwner(ctx context.Context, kind, id string) context.Context {
	return update(ctx, func(s *scope) { s.ownerKind, s.ownerID = kind, id })
}

// OwnerFromContext returns what WithOwner stored.
func OwnerFromContext(ctx context.Context) (kind, id string) {
	s := scopeOf(ctx)
	return s.ownerKind, s.ownerID
}

// NewContext stores l as the request-scoped logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return update(ctx, func(s *scope) { s.logger = l })
}

// FromContext returns the request-scoped logger, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l := scopeOf(ctx).logger; l != nil {
		return l
	}
	return slog.Default()
}

// WithContext returns l with the correlation id, the cart owner and the
// active span's trace and span ids attached.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	s := scopeOf(ctx)
	var attrs []any
	if s.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", s.correlationID))
	}
	if s.ownerID != "" {
		attrs = append(attrs, slog.Group("owner", slog.String("kind", s.ownerKind), slog.String("id", s.ownerID)))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
