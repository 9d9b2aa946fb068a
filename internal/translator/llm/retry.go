// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/OCboy5/vpsweb/internal/translator/apperr"
)

// Policy bounds retry behavior for one step's provider calls.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Base is the first backoff delay.
	Base time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// Cap bounds any single backoff delay.
	Cap time.Duration
	// AttemptTimeout bounds each individual attempt. Zero means no
	// per-attempt deadline beyond the caller's context.
	AttemptTimeout time.Duration
	// OnRetry, when set, is invoked before each backoff sleep with the
	// number of the upcoming attempt, the planned delay and the error that
	// triggered the retry.
	OnRetry func(nextAttempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the standard step policy: 3 attempts, 1s base,
// doubling, capped by the per-attempt timeout.
func DefaultPolicy(maxAttempts int, attemptTimeout time.Duration) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		Base:           time.Second,
		Multiplier:     2.0,
		Cap:            attemptTimeout,
		AttemptTimeout: attemptTimeout,
	}
}

// Operation is one retriable call.
type Operation func(ctx context.Context) (*Response, error)

// Execute runs op up to policy.MaxAttempts times. Transport errors and
// per-attempt timeouts are retried after an exponential backoff; every
// other failure returns immediately. Cancellation is observed during
// backoff sleeps and aborts with Cancelled.
//
// The attempt count at the time of the final outcome is always returned,
// success or not.
func Execute(ctx context.Context, policy Policy, op Operation) (*Response, int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, apperr.Wrap(apperr.KindCancelled, "cancelled before attempt", err)
		}

		resp, err := runAttempt(ctx, policy, op)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if apperr.IsKind(err, apperr.KindCancelled) {
			return nil, attempt, err
		}
		if !apperr.Retriable(err) {
			return nil, attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoff(policy, attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}
		select {
		case <-ctx.Done():
			return nil, attempt, apperr.Wrap(apperr.KindCancelled, "cancelled during backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, maxAttempts, lastErr
}

// runAttempt executes one attempt under its own deadline.
func runAttempt(ctx context.Context, policy Policy, op Operation) (*Response, error) {
	attemptCtx := ctx
	if policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()
	}

	resp, err := op(attemptCtx)
	if err != nil {
		// A cancelled attempt caused by the parent context is a real
		// cancellation; one caused only by the attempt deadline is a
		// retriable timeout.
		if apperr.IsKind(err, apperr.KindCancelled) && ctx.Err() == nil {
			return nil, apperr.Wrap(apperr.KindProviderTimeout, "attempt deadline exceeded", err)
		}
		return nil, err
	}
	return resp, nil
}

// backoff computes the delay before the given attempt's retry, with +/-25%
// jitter to avoid synchronized retries.
func backoff(policy Policy, attempt int) time.Duration {
	base := policy.Base
	if base <= 0 {
		base = time.Second
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	factor := 1.0
	for i := 1; i < attempt; i++ {
		factor *= multiplier
	}
	delay := time.Duration(float64(base) * factor)
	if policy.Cap > 0 && delay > policy.Cap {
		delay = policy.Cap
	}

	jitter := float64(delay) * 0.25 * (rand.Float64()*2 - 1)
	return delay + time.Duration(jitter)
}
