// Package retry runs an operation with bounded exponential backoff, the
// same loop the storage uploads and detector calls share.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	// AttemptTimeout, when set, bounds each individual attempt.
	AttemptTimeout time.Duration
	// Retryable overrides IsTransient.
	Retryable func(error) bool
}

// Default is four attempts starting at one second.
func Default() Policy {
	return Policy{MaxAttempts: 4, InitialBackoff: time.Second}
}

// StatusError carries an HTTP status from a remote call.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsTransient reports whether err is worth another attempt: throttling,
// server errors, and network timeouts.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return transientCode(se.Code)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return transientCode(gerr.Code)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}

func transientCode(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	backoff := p.InitialBackoff
	var lastErr error
	for i := 0; i < p.MaxAttempts; i++ {
		err := func() error {
			attemptCtx := ctx
			if p.AttemptTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
				defer cancel()
			}
			return fn(attemptCtx)
		}()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
		if i == p.MaxAttempts-1 {
			break
		}

		slog.Warn("Operation failed, will retry.",
			"op", op,
			"attempt", i+1,
			"maxAttempts", p.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "op", op, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Operation failed after all retries.", "op", op, "error", lastErr)
	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}
