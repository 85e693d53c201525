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

package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// backoff computes the delay before the next attempt and advances its
// internal state. Implementations must be safe for concurrent use; reset
// may be called from a different goroutine than nextDelay.
type backoff interface {
	nextDelay() time.Duration
	reset()
}

// exponentialFullJitterBackoff implements exponential backoff with full
// jitter: sleep = random_between(0, min(maxDelay, baseDelay * 2^attempt)).
// Full jitter spreads concurrent retries across time instead of letting
// them synchronize.
type exponentialFullJitterBackoff struct {
	baseDelay     time.Duration
	maxDelay      time.Duration
	rng           *rand.Rand
	disableJitter bool

	mu      sync.Mutex
	attempt int
}

func newExponentialFullJitterBackoff(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()))),
	}
}

// newExponentialBackoffNoJitter returns deterministic delays, for tests.
func newExponentialBackoffNoJitter(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		disableJitter: true,
	}
}

func (e *exponentialFullJitterBackoff) nextDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Cap the shift so baseDelay << attempt cannot overflow int64.
	attempt := min(e.attempt, 62)

	multiplier := int64(1 << attempt)
	base := int64(e.baseDelay)

	var delay time.Duration
	if base > 0 && multiplier > math.MaxInt64/base {
		delay = e.maxDelay
	} else {
		delay = min(time.Duration(base*multiplier), e.maxDelay)
	}

	// rand.Rand is not safe for concurrent use; call it under mu.
	if !e.disableJitter {
		delay = time.Duration(float64(delay) * e.rng.Float64())
	}

	e.attempt++
	return delay
}

func (e *exponentialFullJitterBackoff) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempt = 0
}
