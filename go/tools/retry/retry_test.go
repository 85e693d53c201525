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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantAfter makes StartAttempt never actually sleep while still
// recording the delays it was asked for.
func instantAfter(delays *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*delays = append(*delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func TestFirstAttemptIsImmediate(t *testing.T) {
	var delays []time.Duration
	r := New(100*time.Millisecond, time.Second)
	r.after = instantAfter(&delays)

	require.NoError(t, r.StartAttempt(t.Context()))
	assert.Empty(t, delays)
	assert.Equal(t, 1, r.Attempt())
}

func TestWithInitialDelay(t *testing.T) {
	var delays []time.Duration
	r := New(100*time.Millisecond, time.Second, WithInitialDelay())
	r.after = instantAfter(&delays)

	require.NoError(t, r.StartAttempt(t.Context()))
	assert.Len(t, delays, 1)
}

func TestDelaysGrowAndCap(t *testing.T) {
	var delays []time.Duration
	r := New(100*time.Millisecond, 350*time.Millisecond)
	r.cfg.backoff = newExponentialBackoffNoJitter(100*time.Millisecond, 350*time.Millisecond)
	r.after = instantAfter(&delays)

	for range 5 {
		require.NoError(t, r.StartAttempt(t.Context()))
	}

	// First attempt waits nothing; then 100ms, 200ms, then capped.
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond,
		350 * time.Millisecond,
	}, delays)
}

func TestResetRestartsBackoff(t *testing.T) {
	var delays []time.Duration
	r := New(100*time.Millisecond, time.Second)
	r.cfg.backoff = newExponentialBackoffNoJitter(100*time.Millisecond, time.Second)
	r.after = instantAfter(&delays)

	for range 3 {
		require.NoError(t, r.StartAttempt(t.Context()))
	}
	r.Reset()
	require.NoError(t, r.StartAttempt(t.Context()))

	assert.Equal(t, 100*time.Millisecond, delays[len(delays)-1])
	assert.Equal(t, 4, r.Attempt())
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	r := New(100*time.Millisecond, time.Second)
	assert.ErrorIs(t, r.StartAttempt(ctx), context.Canceled)
	assert.Equal(t, 0, r.Attempt())
}

func TestCancelDuringWait(t *testing.T) {
	r := New(time.Hour, time.Hour)
	require.NoError(t, r.StartAttempt(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.StartAttempt(ctx), context.DeadlineExceeded)
}

func TestJitterStaysInRange(t *testing.T) {
	b := newExponentialFullJitterBackoff(100*time.Millisecond, time.Second)
	for range 50 {
		d := b.nextDelay()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestInvalidParametersPanic(t *testing.T) {
	assert.Panics(t, func() { New(0, time.Second) })
	assert.Panics(t, func() { New(time.Second, 0) })
	assert.Panics(t, func() { New(time.Second, time.Millisecond) })
}
