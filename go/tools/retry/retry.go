// Copyright 2025 The BasaltDB Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry implements retry loops with exponential backoff and
// full jitter.
package retry

import (
	"context"
	"time"
)

// Retry carries the backoff state of one retry loop:
//
//	r := retry.New(100*time.Millisecond, 30*time.Second)
//	for {
//	    if err := r.StartAttempt(ctx); err != nil {
//	        return err // context canceled or timed out
//	    }
//	    if err := op(); err == nil {
//	        return nil
//	    }
//	}
type Retry struct {
	cfg     retryConfig
	attempt int
	after   func(time.Duration) <-chan time.Time
}

type retryConfig struct {
	baseDelay    time.Duration
	maxDelay     time.Duration
	initialDelay bool
	backoff      backoff
}

// Option configures a Retry.
type Option func(*retryConfig)

// WithInitialDelay makes the very first StartAttempt wait too. Use this
// when the caller has already tried once before entering the loop.
func WithInitialDelay() Option {
	return func(c *retryConfig) { c.initialDelay = true }
}

// New creates a Retry. Delays grow from baseDelay by doubling, capped at
// maxDelay, with full jitter applied. Panics on invalid parameters.
func New(baseDelay, maxDelay time.Duration, opts ...Option) *Retry {
	if baseDelay <= 0 {
		panic("retry: baseDelay must be positive")
	}
	if maxDelay <= 0 {
		panic("retry: maxDelay must be positive")
	}
	if baseDelay > maxDelay {
		panic("retry: baseDelay cannot be greater than maxDelay")
	}

	cfg := retryConfig{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		backoff:   newExponentialFullJitterBackoff(baseDelay, maxDelay),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Retry{
		cfg:   cfg,
		after: time.After,
	}
}

// StartAttempt waits for the backoff delay and clears the caller to make
// the next attempt. The first call returns immediately unless
// WithInitialDelay was configured. Returns the context error when the
// context ends during the wait.
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.attempt > 0 || r.cfg.initialDelay {
		select {
		case <-r.after(r.cfg.backoff.nextDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.attempt++
	return nil
}

// Attempt returns the number of StartAttempt calls that have cleared.
func (r *Retry) Attempt() int {
	return r.attempt
}

// Reset restarts the backoff from baseDelay. Useful in long-running
// loops once the system has been healthy for a while. The attempt
// counter keeps incrementing.
func (r *Retry) Reset() {
	r.cfg.backoff.reset()
}
