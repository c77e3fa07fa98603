// Package pool implements a bounded pool of live backend connections.
//
// DESIGN: A buffered channel of permits bounds the number of live leases at
// Max; the idle free-list is a mutex-guarded LIFO stack so recently used
// connections are preferred (they are most likely still warm). Lease blocks
// up to the lease timeout or the caller's deadline, whichever is sooner, and
// returns ErrExhausted on timeout - never a stale connection. Connections
// past the freshness threshold are pinged before handout; a failed ping
// destroys the connection and retries acquisition once. Recycle bumps a
// generation counter so connections created under a rotated-out token are
// destroyed on release instead of being killed mid-flight.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrExhausted is returned when no connection becomes available within the
// lease timeout.
var ErrExhausted = errors.New("connection pool exhausted")

// ErrClosed is returned when leasing from a closed pool.
var ErrClosed = errors.New("connection pool closed")

// Conn is the connection contract the pool manages.
type Conn interface {
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	Close() error
}

// Factory creates a new live connection.
type Factory func(ctx context.Context) (Conn, error)

// Config sizes one pool.
type Config struct {
	// Name labels the pool in logs and metrics ("direct", "relay").
	Name string
	// Min connections are kept warm; idle eviction never drops below it.
	Min int
	// Max bounds live connections (leased + idle).
	Max int
	// IdleTimeout destroys idle connections above Min.
	IdleTimeout time.Duration
	// LeaseTimeout bounds how long Lease blocks.
	LeaseTimeout time.Duration
	// Freshness is the last-used age beyond which a connection is pinged
	// before handout.
	Freshness time.Duration
}

// PooledConn is one pool-owned connection. It must only be used between
// Lease and Release/Discard.
type PooledConn struct {
	ID        string
	conn      Conn
	createdAt time.Time
	lastUsed  time.Time
	gen       uint64
}

// Raw returns the underlying connection.
func (pc *PooledConn) Raw() Conn { return pc.conn }

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	InUse     int64 `json:"in_use"`
	Idle      int64 `json:"idle"`
	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
}

// Pool owns a bounded set of connections created by its factory.
type Pool struct {
	cfg     Config
	factory Factory

	// permits bounds live leases; holding a permit is the right to hold
	// a connection outside the idle list.
	permits chan struct{}

	mu     sync.Mutex
	idle   []*PooledConn
	gen    uint64
	closed bool

	inUse     atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64

	stopSweep chan struct{}
	sweepDone chan struct{}

	now func() time.Time
}

// New creates a pool and starts its idle-eviction sweeper. Connections are
// created lazily; call Warm to pre-fill to Min.
func New(cfg Config, factory Factory) *Pool {
	p := &Pool{
		cfg:       cfg,
		factory:   factory,
		permits:   make(chan struct{}, cfg.Max),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
		now:       time.Now,
	}
	for i := 0; i < cfg.Max; i++ {
		p.permits <- struct{}{}
	}
	go p.sweep()
	return p
}

// Warm creates up to Min connections ahead of demand. Best effort: a dial
// failure is logged and warming stops.
func (p *Pool) Warm(ctx context.Context) {
	for i := 0; i < p.cfg.Min; i++ {
		conn, err := p.factory(ctx)
		if err != nil {
			log.Warn().Err(err).Str("pool", p.cfg.Name).Msg("pool warm-up dial failed")
			return
		}
		pc := p.newPooled(conn)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.destroy(pc)
			return
		}
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
}

// Lease acquires a connection, blocking up to the lease timeout or the
// caller's deadline, whichever comes first.
func (p *Pool) Lease(ctx context.Context) (*PooledConn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LeaseTimeout)
	defer cancel()

	select {
	case <-p.permits:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no %s connection within %s", ErrExhausted, p.cfg.Name, p.cfg.LeaseTimeout)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.permits <- struct{}{}
		return nil, ErrClosed
	}

	pc, err := p.acquire(ctx)
	if err != nil {
		p.permits <- struct{}{}
		return nil, err
	}
	p.inUse.Add(1)
	return pc, nil
}

// acquire pops a healthy idle connection or dials a new one. The caller
// holds a permit. A failed freshness ping destroys the connection and
// retries acquisition once before giving up.
func (p *Pool) acquire(ctx context.Context) (*PooledConn, error) {
	for attempt := 0; attempt < 2; attempt++ {
		pc := p.popIdle()
		if pc == nil {
			conn, err := p.factory(ctx)
			if err != nil {
				return nil, fmt.Errorf("dialing %s connection: %w", p.cfg.Name, err)
			}
			return p.newPooled(conn), nil
		}

		if p.now().Sub(pc.lastUsed) > p.cfg.Freshness {
			if err := pc.conn.Ping(ctx); err != nil {
				log.Debug().Err(err).Str("pool", p.cfg.Name).Str("conn", pc.ID).
					Msg("health check failed, destroying connection")
				p.destroy(pc)
				continue
			}
		}
		return pc, nil
	}
	return nil, fmt.Errorf("%w: repeated health-check failures on %s pool", ErrExhausted, p.cfg.Name)
}

// popIdle returns the most recently used healthy idle connection, destroying
// any stale-generation entries it skips over.
func (p *Pool) popIdle() *PooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if pc.gen != p.gen {
			go p.destroy(pc)
			continue
		}
		return pc
	}
	return nil
}

// Release returns a leased connection to the idle list. Connections from a
// recycled generation (or a closed pool) are destroyed instead.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil {
		return
	}
	p.inUse.Add(-1)

	p.mu.Lock()
	stale := p.closed || pc.gen != p.gen
	if !stale {
		pc.lastUsed = p.now()
		p.idle = append(p.idle, pc)
	}
	p.mu.Unlock()

	if stale {
		p.destroy(pc)
	}
	p.permits <- struct{}{}
}

// Discard destroys a leased connection known to be broken instead of
// returning it to the idle list.
func (p *Pool) Discard(pc *PooledConn) {
	if pc == nil {
		return
	}
	p.inUse.Add(-1)
	p.destroy(pc)
	p.permits <- struct{}{}
}

// EvictIdle destroys idle connections older than the idle timeout, keeping
// at least Min live connections, and all stale-generation connections.
func (p *Pool) EvictIdle() {
	now := p.now()

	p.mu.Lock()
	var keep, drop []*PooledConn
	live := int(p.inUse.Load()) + len(p.idle)
	for _, pc := range p.idle {
		expired := now.Sub(pc.lastUsed) > p.cfg.IdleTimeout
		if pc.gen != p.gen || (expired && live > p.cfg.Min) {
			drop = append(drop, pc)
			live--
			continue
		}
		keep = append(keep, pc)
	}
	p.idle = keep
	p.mu.Unlock()

	for _, pc := range drop {
		p.destroy(pc)
	}
}

// Recycle retires every current connection: idle ones immediately, leased
// ones when released. Called when the access token rotates.
func (p *Pool) Recycle() {
	p.mu.Lock()
	p.gen++
	drop := p.idle
	p.idle = nil
	p.mu.Unlock()

	log.Info().Str("pool", p.cfg.Name).Int("idle_dropped", len(drop)).Msg("pool recycled")
	for _, pc := range drop {
		p.destroy(pc)
	}
}

// Stats returns a snapshot of pool utilization.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := int64(len(p.idle))
	p.mu.Unlock()
	return Stats{
		InUse:     p.inUse.Load(),
		Idle:      idle,
		Created:   p.created.Load(),
		Destroyed: p.destroyed.Load(),
	}
}

// Close drains the pool: no new leases, idle connections destroyed, and
// in-flight leases waited on until ctx expires.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	drop := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopSweep)
	<-p.sweepDone

	for _, pc := range drop {
		p.destroy(pc)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for p.inUse.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("pool %s close: %d connections still leased: %w",
				p.cfg.Name, p.inUse.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (p *Pool) newPooled(conn Conn) *PooledConn {
	p.created.Add(1)
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	now := p.now()
	return &PooledConn{
		ID:        uuid.NewString(),
		conn:      conn,
		createdAt: now,
		lastUsed:  now,
		gen:       gen,
	}
}

func (p *Pool) destroy(pc *PooledConn) {
	p.destroyed.Add(1)
	if err := pc.conn.Close(); err != nil {
		log.Debug().Err(err).Str("pool", p.cfg.Name).Str("conn", pc.ID).Msg("connection close failed")
	}
}

func (p *Pool) sweep() {
	defer close(p.sweepDone)

	interval := p.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.EvictIdle()
		}
	}
}
