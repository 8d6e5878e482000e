// ABOUTME: Completer decorator that paces requests and bounds each call with a timeout.
// ABOUTME: Uses a token bucket so bursts from concurrent turns queue instead of tripping provider limits.

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limited paces calls to an underlying Completer.
type Limited struct {
	next    Completer
	limiter *rate.Limiter
	timeout time.Duration
	name    string
}

// NewLimited wraps next so that at most perSecond calls start each second
// (perSecond <= 0 disables pacing) and each call is bounded by timeout
// (timeout <= 0 disables the bound).
func NewLimited(name string, next Completer, perSecond float64, timeout time.Duration) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		name:    name,
	}
}

// Complete waits for a token, then delegates within the configured timeout.
func (l *Limited) Complete(ctx context.Context, prompt, system string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", &ServiceError{Provider: l.name, Err: fmt.Errorf("waiting for rate limiter: %w", err)}
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	out, err := l.next.Complete(ctx, prompt, system)
	if err != nil {
		var serr *ServiceError
		if errors.As(err, &serr) {
			return "", err
		}
		return "", &ServiceError{Provider: l.name, Err: err}
	}
	return out, nil
}
