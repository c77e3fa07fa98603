package gateway

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/transport"
)

// callWithRetry runs up to MaxAttempts calls against one transport. Only
// transient errors are retried; authentication, validation and pool
// exhaustion stop the loop immediately. Returns the number of attempts
// actually dispatched. The retry decision is an explicit classify-then-branch
// state machine so policy is testable without live failures.
func (g *Gateway) callWithRetry(ctx context.Context, op string, t transport.Transport, req transport.Request) (transport.Response, int, error) {
	maxAttempts := g.cfg.Retry.MaxAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			g.deps.Metrics.RetriesTotal.WithLabelValues(op, t.Name()).Inc()
			if err := g.backoff(ctx, attempt-2); err != nil {
				// Deadline expired while waiting: stop with the last
				// transport error, which already explains the failure.
				return transport.Response{}, attempt - 1, lastErr
			}
		}

		resp, err := t.Call(ctx, req)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if !errors.Is(err, transport.ErrTransient) {
			return transport.Response{}, attempt, err
		}
		log.Debug().Err(err).Str("operation", op).Str("transport", t.Name()).
			Int("attempt", attempt).Msg("transient failure")
	}
	return transport.Response{}, maxAttempts, lastErr
}

// backoff sleeps for an exponentially growing, fully jittered delay, or
// returns early when ctx is done.
func (g *Gateway) backoff(ctx context.Context, exp int) error {
	delay := g.backoffDelay(exp)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay computes base*2^exp capped at the configured maximum, with
// full jitter.
func (g *Gateway) backoffDelay(exp int) time.Duration {
	base := g.cfg.Retry.BackoffBase.Std()
	maxDelay := g.cfg.Retry.BackoffMax.Std()

	delay := base
	for i := 0; i < exp; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}
