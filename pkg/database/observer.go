package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var statementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "db_statement_duration_seconds",
	Help:    "Duration of repository statements by operation and outcome.",
	Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
}, []string{"operation", "outcome"})

// Observer wraps repository statements in client spans, times them and
// warns about statements slower than its threshold. The zero value and a
// nil *Observer trace and time but never warn.
type Observer struct {
	slow   time.Duration
	logger *slog.Logger
}

// NewObserver returns an Observer warning about statements that take at
// least slow. A zero slow disables the warning.
func NewObserver(slow time.Duration, logger *slog.Logger) *Observer {
	return &Observer{slow: slow, logger: logger}
}

// Start begins statement op. Call the returned func with its error:
//
//	ctx, done := r.obs.Start(ctx, "ListCartLines", listSQL)
//	defer func() { done(err) }()
func (o *Observer) Start(ctx context.Context, op, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer("storefront/cart/postgres").Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		elapsed := time.Since(start)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		statementDuration.WithLabelValues(op, outcome).Observe(elapsed.Seconds())

		if o == nil || o.slow <= 0 || o.logger == nil || elapsed < o.slow {
			return
		}
		attrs := []any{slog.String("operation", op), slog.Duration("duration", elapsed)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		o.logger.WarnContext(ctx, "slow statement", attrs...)
	}
}
