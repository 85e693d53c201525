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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basaltdb/basalt-go/go/bterrors"
	"github.com/basaltdb/basalt-go/go/client"
	"github.com/basaltdb/basalt-go/go/tools/timer"
)

var (
	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = bterrors.New(bterrors.KindInterface, "connection pool is closed")

	// ErrAcquireTimeout is returned when Get waits longer than AcquireTimeout.
	ErrAcquireTimeout = bterrors.New(bterrors.KindOperational, "timed out waiting for a pooled connection")
)

// Config holds configuration for the connection pool.
type Config struct {
	// Min is the number of connections the maintenance loop keeps warm.
	Min int

	// Max is the maximum number of connections. Defaults to 10.
	Max int

	// AcquireTimeout bounds how long Get waits for a connection when the
	// pool is at capacity. Defaults to 30s.
	AcquireTimeout time.Duration

	// IdleTimeout is how long an available connection can sit unused
	// before the maintenance loop evicts it. Defaults to 30s.
	IdleTimeout time.Duration

	// MaxLifetime is the maximum age of a connection. Defaults to 30m.
	MaxLifetime time.Duration

	// MaintenanceInterval is how often eviction and backfill run.
	// Defaults to 10s.
	MaintenanceInterval time.Duration

	// ValidateOnBorrow runs ValidationQuery before handing out an
	// available connection; failures discard the entry and retry.
	ValidateOnBorrow bool

	// ValidateOnReturn runs ValidationQuery when a connection is put
	// back; failures discard the entry.
	ValidateOnReturn bool

	// ValidationQuery is the probe statement. Defaults to "SELECT 1".
	ValidationQuery string

	// Logger receives pool lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Min > cfg.Max {
		cfg.Min = cfg.Max
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 30 * time.Minute
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 10 * time.Second
	}
	if cfg.ValidationQuery == "" {
		cfg.ValidationQuery = "SELECT 1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Pool is a bounded connection pool. Clients that find the pool at
// capacity join a strict FIFO waitlist; returned connections are handed
// directly to the oldest waiter without touching the available list.
type Pool[C Connection] struct {
	factory func(context.Context) (C, error)
	cfg     Config

	// mu protects entries, available, and total. entries is the full set
	// of live connections, borrowed or not; available is the idle subset.
	mu        sync.Mutex
	entries   map[*Pooled[C]]struct{}
	available []*Pooled[C]
	total     int

	waiters waitlist[C]
	runner  *timer.PeriodicRunner
	closeCh chan struct{}
	closed  atomic.Bool
}

// New creates a pool around the factory. No connections are opened up
// front; the maintenance loop backfills to Min.
func New[C Connection](factory func(context.Context) (C, error), cfg Config) *Pool[C] {
	p := &Pool[C]{
		factory: factory,
		cfg:     cfg.withDefaults(),
		entries: make(map[*Pooled[C]]struct{}),
		closeCh: make(chan struct{}),
	}
	p.runner = timer.NewPeriodicRunner(context.Background(), p.cfg.MaintenanceInterval)
	p.runner.Start(p.maintain)
	return p
}

// Get borrows a connection from the pool. When an entry is available it
// is reused; below Max a new connection is created; otherwise Get joins
// the waitlist until a connection is returned, AcquireTimeout elapses,
// the context is canceled, or the pool closes.
func (p *Pool[C]) Get(ctx context.Context) (*Pooled[C], error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	for {
		p.mu.Lock()

		if n := len(p.available); n > 0 {
			entry := p.available[n-1]
			p.available[n-1] = nil
			p.available = p.available[:n-1]
			p.mu.Unlock()

			if p.cfg.ValidateOnBorrow && !p.validate(ctx, entry) {
				p.cfg.Logger.Debug("discarding connection that failed borrow validation")
				p.discard(entry)
				continue
			}
			entry.markBorrowed()
			return entry, nil
		}

		if p.total < p.cfg.Max {
			p.total++ // reserve the slot before dialing
			alone := p.total == 1
			p.mu.Unlock()

			conn, err := p.factory(ctx)
			if err != nil {
				p.releaseSlot()
				if alone {
					return nil, bterrors.Wrap(bterrors.KindOperational, err, "failed to create pooled connection")
				}
				// Other entries exist, so one may come back; wait for it.
				return p.waitForEntry(ctx)
			}

			entry := NewPooled(conn)
			p.mu.Lock()
			if p.closed.Load() {
				p.mu.Unlock()
				_ = conn.Close()
				return nil, ErrPoolClosed
			}
			p.entries[entry] = struct{}{}
			p.mu.Unlock()
			entry.markBorrowed()
			return entry, nil
		}

		p.mu.Unlock()
		return p.waitForEntry(ctx)
	}
}

func (p *Pool[C]) waitForEntry(ctx context.Context) (*Pooled[C], error) {
	entry, err := p.waiters.wait(ctx, p.cfg.AcquireTimeout, p.closeCh)
	if err != nil {
		return nil, err
	}
	entry.markBorrowed()
	return entry, nil
}

// Put returns a borrowed connection to the pool. Closed or invalid
// connections are discarded; otherwise the entry goes to the oldest
// waiter if one is queued, else back onto the available list.
func (p *Pool[C]) Put(entry *Pooled[C]) {
	if entry == nil {
		return
	}
	if p.closed.Load() || entry.Conn().IsClosed() {
		p.discard(entry)
		return
	}
	if p.cfg.ValidateOnReturn && !p.validate(context.Background(), entry) {
		p.cfg.Logger.Debug("discarding connection that failed return validation")
		p.discard(entry)
		return
	}

	entry.touch()
	if p.waiters.tryHandOff(entry) {
		return
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		p.discard(entry)
		return
	}
	p.available = append(p.available, entry)
	p.mu.Unlock()
}

// Exec borrows a connection, runs the query, and returns the connection
// to the pool. A connection whose query failed at the connection level is
// discarded rather than returned.
func (p *Pool[C]) Exec(ctx context.Context, sql string, args ...any) (*client.Result, error) {
	entry, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}

	res, execErr := entry.Conn().Execute(ctx, sql, args...)
	if execErr != nil && (bterrors.IsConnClosed(execErr) || entry.Conn().IsClosed()) {
		p.discard(entry)
		return nil, execErr
	}

	p.Put(entry)
	return res, execErr
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Total     int // entries alive (available + in use)
	Available int // entries idle in the pool
	InUse     int // entries currently borrowed
	Waiting   int // clients blocked in Get
	Min       int
	Max       int
}

// Stats returns current pool statistics.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	total := p.total
	available := len(p.available)
	p.mu.Unlock()

	return Stats{
		Total:     total,
		Available: available,
		InUse:     total - available,
		Waiting:   p.waiters.waiting(),
		Min:       p.cfg.Min,
		Max:       p.cfg.Max,
	}
}

// Close shuts the pool down: the maintenance loop stops, every blocked
// Get fails with ErrPoolClosed, and every owned connection is closed
// best-effort, borrowed ones included. Idempotent.
func (p *Pool[C]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.runner.Stop()
	close(p.closeCh)

	p.mu.Lock()
	entries := make([]*Pooled[C], 0, len(p.entries))
	for entry := range p.entries {
		entries = append(entries, entry)
	}
	clear(p.entries)
	p.available = nil
	p.total = 0
	p.mu.Unlock()

	for _, entry := range entries {
		_ = entry.Conn().Close()
	}
	return nil
}

// validate probes the connection with the configured validation query.
func (p *Pool[C]) validate(ctx context.Context, entry *Pooled[C]) bool {
	if entry.Conn().IsClosed() {
		return false
	}
	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := entry.Conn().Execute(vctx, p.cfg.ValidationQuery)
	return err == nil
}

// discard closes an entry, unregisters it, and releases its slot.
func (p *Pool[C]) discard(entry *Pooled[C]) {
	_ = entry.Conn().Close()
	p.mu.Lock()
	delete(p.entries, entry)
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

// releaseSlot gives back a slot reserved for a connection that was never
// created. The guard matters: Close may have zeroed total already.
func (p *Pool[C]) releaseSlot() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

// maintain is the periodic maintenance pass: evict idle entries down to
// Min, evict available entries past MaxLifetime, then backfill up to Min.
func (p *Pool[C]) maintain(ctx context.Context) {
	if p.closed.Load() {
		return
	}

	var evict []*Pooled[C]

	p.mu.Lock()
	kept := p.available[:0]
	for _, entry := range p.available {
		if p.total-len(evict) > p.cfg.Min && entry.IdleTime() > p.cfg.IdleTimeout {
			evict = append(evict, entry)
			continue
		}
		kept = append(kept, entry)
	}
	p.available = kept

	kept = p.available[:0]
	for _, entry := range p.available {
		if entry.Age() > p.cfg.MaxLifetime {
			evict = append(evict, entry)
			continue
		}
		kept = append(kept, entry)
	}
	p.available = kept

	for _, entry := range evict {
		delete(p.entries, entry)
	}
	p.total -= len(evict)
	deficit := p.cfg.Min - p.total
	if deficit > 0 {
		p.total += deficit // reserve the slots being backfilled
	}
	p.mu.Unlock()

	for _, entry := range evict {
		_ = entry.Conn().Close()
	}
	if len(evict) > 0 {
		p.cfg.Logger.Debug("evicted pooled connections", "count", len(evict))
	}

	for range deficit {
		go p.backfillOne(ctx)
	}
}

// backfillOne creates one connection toward Min, discarding it if the
// pool closed while it was being established.
func (p *Pool[C]) backfillOne(ctx context.Context) {
	conn, err := p.factory(ctx)
	if err != nil {
		p.cfg.Logger.Debug("backfill connection failed", "error", err)
		p.releaseSlot()
		return
	}

	entry := NewPooled(conn)
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.entries[entry] = struct{}{}
	p.mu.Unlock()

	if p.waiters.tryHandOff(entry) {
		return
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		p.discard(entry)
		return
	}
	p.available = append(p.available, entry)
	p.mu.Unlock()
}
