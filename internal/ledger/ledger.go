// Package ledger is the single source of truth for credit consumption.
//
// DESIGN: Reservations are optimistic: the estimated cost is debited on
// Reserve, then adjusted to the backend-reported actual cost on Commit, or
// refunded on Release. Window rollover (daily/monthly) is evaluated lazily on
// the hot path by comparing the clock against the stored window start; the
// reset happens under the same mutex as every read, so concurrent callers
// never observe a torn window. Crossing the soft threshold warns once per
// window and never blocks; crossing the hard limit rejects the reserve before
// any network call is made.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrQuotaExceeded is returned when a reservation would cross the hard limit.
var ErrQuotaExceeded = errors.New("credit quota exceeded")

// Config tunes the ledger.
type Config struct {
	// Window is the billing window length (24h daily, 30d monthly).
	Window time.Duration
	// Quota is the hard credit limit per window.
	Quota float64
	// SoftWarnPct warns when consumption crosses this percentage of Quota.
	SoftWarnPct float64
}

// Reservation is a debit that must be settled with Commit or Release.
type Reservation struct {
	ID   string
	Cost float64
}

// Snapshot is a read-only view of the current window.
type Snapshot struct {
	WindowStart time.Time `json:"window_start"`
	Consumed    float64   `json:"consumed"`
	Quota       float64   `json:"quota"`
	Remaining   float64   `json:"remaining"`
}

// Ledger tracks consumed credits for the current billing window.
type Ledger struct {
	mu          sync.Mutex
	cfg         Config
	windowStart time.Time
	consumed    float64
	open        map[string]float64
	warned      bool

	onSoftWarn func(consumed, quota float64)

	now func() time.Time
}

// New creates a ledger with a fresh window starting now.
func New(cfg Config) *Ledger {
	l := &Ledger{
		cfg:  cfg,
		open: make(map[string]float64),
		now:  time.Now,
	}
	l.windowStart = l.now()
	return l
}

// OnSoftWarn registers a callback fired once per window when consumption
// crosses the soft threshold. Runs with the ledger locked.
func (l *Ledger) OnSoftWarn(fn func(consumed, quota float64)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSoftWarn = fn
}

// Reserve debits the estimated cost. It fails with ErrQuotaExceeded, before
// any network call, if the debit would cross the hard limit.
func (l *Ledger) Reserve(cost float64) (Reservation, error) {
	if cost < 0 {
		cost = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	if l.consumed+cost > l.cfg.Quota {
		return Reservation{}, fmt.Errorf("%w: %.2f consumed + %.2f requested > %.2f quota",
			ErrQuotaExceeded, l.consumed, cost, l.cfg.Quota)
	}

	l.consumed += cost
	res := Reservation{ID: uuid.NewString(), Cost: cost}
	l.open[res.ID] = cost

	l.checkSoftWarnLocked()
	return res, nil
}

// Commit settles a reservation with the actual cost reported by the backend.
// A negative actual keeps the estimate. The backend's bill is authoritative,
// so an actual above the estimate is recorded in full even when it lands past
// the quota; the hard limit gates at Reserve. Returns the credits charged.
func (l *Ledger) Commit(res Reservation, actual float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	reserved, ok := l.open[res.ID]
	if !ok {
		// Reservation was dropped by a window rollover; nothing to settle.
		return 0
	}
	delete(l.open, res.ID)

	if actual < 0 {
		return reserved
	}

	l.consumed += actual - reserved
	if l.consumed < 0 {
		l.consumed = 0
	}
	l.checkSoftWarnLocked()
	return actual
}

// Release refunds a reservation after a failed or canceled operation.
func (l *Ledger) Release(res Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	reserved, ok := l.open[res.ID]
	if !ok {
		return
	}
	delete(l.open, res.ID)

	l.consumed -= reserved
	if l.consumed < 0 {
		l.consumed = 0
	}
}

// Remaining returns the credits left in the current window.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	rem := l.cfg.Quota - l.consumed
	if rem < 0 {
		return 0
	}
	return rem
}

// SnapshotWindow returns the current window state.
func (l *Ledger) SnapshotWindow() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	rem := l.cfg.Quota - l.consumed
	if rem < 0 {
		rem = 0
	}
	return Snapshot{
		WindowStart: l.windowStart,
		Consumed:    l.consumed,
		Quota:       l.cfg.Quota,
		Remaining:   rem,
	}
}

// rollLocked resets the window when the clock has moved past its end.
// In-flight reservations from the previous window are dropped: their Commit
// or Release becomes a no-op so the fresh window starts at zero. Must be
// called with l.mu held.
func (l *Ledger) rollLocked() {
	now := l.now()
	if now.Sub(l.windowStart) < l.cfg.Window {
		return
	}

	// Advance by whole windows to keep the boundary aligned.
	for now.Sub(l.windowStart) >= l.cfg.Window {
		l.windowStart = l.windowStart.Add(l.cfg.Window)
	}

	log.Info().
		Time("window_start", l.windowStart).
		Float64("previous_consumed", l.consumed).
		Msg("credit window rolled over")

	l.consumed = 0
	l.warned = false
	l.open = make(map[string]float64)
}

// checkSoftWarnLocked fires the soft warning once per window.
func (l *Ledger) checkSoftWarnLocked() {
	if l.warned || l.cfg.SoftWarnPct <= 0 {
		return
	}
	threshold := l.cfg.Quota * l.cfg.SoftWarnPct / 100
	if l.consumed < threshold {
		return
	}
	l.warned = true
	log.Warn().
		Float64("consumed", l.consumed).
		Float64("quota", l.cfg.Quota).
		Msg("credit consumption crossed soft threshold")
	if l.onSoftWarn != nil {
		l.onSoftWarn(l.consumed, l.cfg.Quota)
	}
}
