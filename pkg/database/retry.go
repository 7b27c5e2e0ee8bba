package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const connectAttempts = 3

// backoff waits 1s, 2s, 4s... before retry attempt 0, 1, 2..., give or
// take 25%.
func backoff(attempt int) time.Duration {
	base := time.Second << max(attempt, 0)
	spread := float64(base) / 4
	return base + time.Duration(spread*(2*rand.Float64()-1)) // #nosec G404 -- jitter only
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"no such host",
	"server closed the connection unexpectedly",
}

// transient reports whether err means the database could not be reached,
// as opposed to it rejecting a statement or the credentials.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retry runs fn until it succeeds, fails with a non-transient error or has
// run connectAttempts times.
func retry(ctx context.Context, logger *slog.Logger, what string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == connectAttempts-1 || !transient(err) {
			return fmt.Errorf("%s: %w", what, err)
		}

		wait := backoff(attempt)
		logger.Warn(what+" failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(wait):
		}
	}
}
