package etl

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/halfcourt/refguard/internal/shared"
)

// withRetry runs fn up to attempts+1 times with exponential backoff, retrying
// only errors that look transient. Retry happens at batch granularity; whole-run
// retries are an operator decision, never automatic.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	backoff := 100 * time.Millisecond

	var err error
	for try := 0; ; try++ {
		err = fn()
		if err == nil {
			return nil
		}
		if try >= attempts || !isTransient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// isTransient reports whether an error is worth retrying: anything wrapped as
// batch-retryable, plus driver messages for lock contention, busy database, and
// dropped connections. Constraint violations are not transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, shared.ErrBatchRetryable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"database is locked",
		"database table is locked",
		"busy",
		"connection reset",
		"broken pipe",
		"i/o timeout",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
