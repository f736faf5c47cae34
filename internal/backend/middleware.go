package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"yakkl-background/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped backend with a token bucket
type RateLimited struct {
	next    domain.RPCBackend
	limiter *rate.Limiter
}

// WithRateLimit wraps next so at most rps calls per second (burst b) reach it
func WithRateLimit(next domain.RPCBackend, rps float64, b int) *RateLimited {
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), b)}
}

func (r *RateLimited) Request(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Request(ctx, method, params)
}

// Retrying retries transport failures with exponential backoff. Errors
// answered by the node itself are returned immediately.
type Retrying struct {
	next       domain.RPCBackend
	initial    time.Duration
	maxElapsed time.Duration
}

// WithRetry wraps next with a retry policy bounded by maxElapsed
func WithRetry(next domain.RPCBackend, initial, maxElapsed time.Duration) *Retrying {
	return &Retrying{next: next, initial: initial, maxElapsed: maxElapsed}
}

func (r *Retrying) Request(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxElapsedTime = r.maxElapsed

	var result json.RawMessage
	operation := func() error {
		var err error
		result, err = r.next.Request(ctx, method, params)
		if err == nil {
			return nil
		}
		var pe *domain.ProviderError
		if errors.As(err, &pe) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("backend request failed, retrying",
			slog.String("method", method),
			slog.String("error", err.Error()),
			slog.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return result, nil
}
