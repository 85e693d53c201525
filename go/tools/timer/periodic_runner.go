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

// Package timer provides PeriodicRunner for running callbacks at regular intervals.
package timer

import (
	"context"
	"sync"
	"time"
)

// PeriodicRunner runs a callback at regular intervals.
//
// The next run is scheduled only after the current one returns, so a slow
// callback never overlaps with itself. Stop cancels the callback's context
// and waits for any in-flight run to complete. A stopped runner can be
// started again.
type PeriodicRunner struct {
	parentCtx context.Context
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPeriodicRunner creates a PeriodicRunner with the given parent context
// and interval. The parent context is used to derive the callback context on
// each Start; callers should pass a long-lived context, not a request one.
func NewPeriodicRunner(ctx context.Context, interval time.Duration) *PeriodicRunner {
	return &PeriodicRunner{
		parentCtx: ctx,
		interval:  interval,
	}
}

// Start begins running the callback every interval. The first run happens
// one interval after Start, not immediately. Returns false if the runner
// is already running.
func (r *PeriodicRunner) Start(callback func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(r.parentCtx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		t := time.NewTimer(r.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			callback(ctx)
			t.Reset(r.interval)
		}
	}()

	return true
}

// Stop cancels the callback context and waits for any in-flight run to
// finish. Idempotent; the runner can be started again afterwards.
func (r *PeriodicRunner) Stop() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.cancel()
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	<-done
}

// Running reports whether the runner is currently started.
func (r *PeriodicRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
