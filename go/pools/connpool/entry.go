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
	"sync/atomic"
	"time"
)

// Pooled wraps a connection with the metadata the pool tracks for it:
// creation time, last-used time, and how many times it has been borrowed.
type Pooled[C Connection] struct {
	conn C

	// createdAt is the time when this connection was created.
	createdAt time.Time

	// lastUsedAt is updated when the entry is borrowed or returned.
	lastUsedAt atomic.Int64 // Unix timestamp in nanoseconds

	// useCount is the number of times this entry has been borrowed.
	useCount atomic.Int64
}

// NewPooled creates a new Pooled wrapper around a connection.
func NewPooled[C Connection](conn C) *Pooled[C] {
	now := time.Now()
	p := &Pooled[C]{
		conn:      conn,
		createdAt: now,
	}
	p.lastUsedAt.Store(now.UnixNano())
	return p
}

// Conn returns the underlying connection.
func (p *Pooled[C]) Conn() C {
	return p.conn
}

// CreatedAt returns the time when this connection was created.
func (p *Pooled[C]) CreatedAt() time.Time {
	return p.createdAt
}

// LastUsedAt returns the time when this entry was last borrowed or returned.
func (p *Pooled[C]) LastUsedAt() time.Time {
	return time.Unix(0, p.lastUsedAt.Load())
}

// UseCount returns the number of times this entry has been borrowed.
func (p *Pooled[C]) UseCount() int64 {
	return p.useCount.Load()
}

// Age returns the duration since this connection was created.
func (p *Pooled[C]) Age() time.Duration {
	return time.Since(p.createdAt)
}

// IdleTime returns the duration since this entry was last used.
func (p *Pooled[C]) IdleTime() time.Duration {
	return time.Since(p.LastUsedAt())
}

func (p *Pooled[C]) markBorrowed() {
	p.useCount.Add(1)
	p.touch()
}

func (p *Pooled[C]) touch() {
	p.lastUsedAt.Store(time.Now().UnixNano())
}
