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

package connpool

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/basaltdb/basalt-go/go/bterrors"
)

// waiter represents one client blocked in Get waiting for a connection.
type waiter[C Connection] struct {
	ch chan *Pooled[C]
}

// waitlist is a strict FIFO queue of waiters. Hand-offs go to the waiter
// that has been queued the longest.
type waitlist[C Connection] struct {
	mu    sync.Mutex
	queue []*waiter[C]
}

// wait blocks until another client hands over a connection, the timeout
// elapses, the context is canceled, or the pool closes.
func (wl *waitlist[C]) wait(ctx context.Context, timeout time.Duration, closeCh <-chan struct{}) (*Pooled[C], error) {
	w := &waiter[C]{ch: make(chan *Pooled[C])}

	wl.mu.Lock()
	wl.queue = append(wl.queue, w)
	wl.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case entry := <-w.ch:
		return entry, nil

	case <-closeCh:
		if wl.remove(w) {
			return nil, ErrPoolClosed
		}
		// A hand-off is already in flight for us; take it.
		return <-w.ch, nil

	case <-ctx.Done():
		if wl.remove(w) {
			return nil, bterrors.Wrap(bterrors.KindOperational, ctx.Err(), "canceled while waiting for a pooled connection")
		}
		return <-w.ch, nil

	case <-deadline.C:
		if wl.remove(w) {
			return nil, ErrAcquireTimeout
		}
		return <-w.ch, nil
	}
}

// remove takes the waiter out of the queue. It returns false when the
// waiter is no longer queued, which means a hand-off has claimed it and
// a connection is on its way.
func (wl *waitlist[C]) remove(w *waiter[C]) bool {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	for i, queued := range wl.queue {
		if queued == w {
			wl.queue = append(wl.queue[:i], wl.queue[i+1:]...)
			return true
		}
	}
	return false
}

// tryHandOff gives the entry directly to the oldest waiter, bypassing the
// available list. Returns false when nobody is waiting.
func (wl *waitlist[C]) tryHandOff(entry *Pooled[C]) bool {
	wl.mu.Lock()
	if len(wl.queue) == 0 {
		wl.mu.Unlock()
		return false
	}
	w := wl.queue[0]
	wl.queue[0] = nil
	wl.queue = wl.queue[1:]
	wl.mu.Unlock()

	// The waiter cannot have removed itself: removal requires finding
	// itself in the queue, and we just took it out. The receive is
	// therefore guaranteed.
	w.ch <- entry
	runtime.Gosched()
	return true
}

func (wl *waitlist[C]) waiting() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return len(wl.queue)
}
