package auth

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNoToken is returned when no token has been loaded for an environment.
var ErrNoToken = errors.New("no access token available")

// Config tunes the manager.
type Config struct {
	// Environment is the scope tokens are fetched for.
	Environment string
	// RotationWarn raises a warning when remaining lifetime drops below it.
	RotationWarn time.Duration
	// PollInterval is how often the source is polled.
	PollInterval time.Duration
}

type record struct {
	tok Token
	// lastWarningSentAt tracks the one rotation warning emitted per token.
	lastWarningSentAt time.Time
	warnedTokenID     string
}

// Manager observes the secret source and serves the last-known token.
type Manager struct {
	cfg Config
	src Source

	mu      sync.RWMutex
	records map[string]*record

	onRotate []func()
	onWarn   func(Token)

	stop chan struct{}
	done chan struct{}

	now func() time.Time
}

// NewManager creates a manager. Call Start to load the initial token and
// begin background polling.
func NewManager(src Source, cfg Config) *Manager {
	return &Manager{
		cfg:     cfg,
		src:     src,
		records: make(map[string]*record),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// OnRotate registers a callback fired when a refreshed token has a new id
// (the secret store rotated it). Used to recycle connection pools.
func (m *Manager) OnRotate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRotate = append(m.onRotate, fn)
}

// OnRotationWarning registers a callback fired once per token when its
// remaining lifetime drops below the rotation threshold.
func (m *Manager) OnRotationWarning(fn func(Token)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarn = fn
}

// Start fetches the initial token and begins polling. A failed initial fetch
// is logged, not fatal: the source may become reachable later.
func (m *Manager) Start(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("environment", m.cfg.Environment).
			Msg("initial access token fetch failed")
	}
	go m.poll()
}

// Stop terminates background polling.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

// CurrentToken returns the last-known token for the environment. It never
// blocks on the secret store. An expiring-but-valid token is returned as
// usable; the expiry check belongs to the transport handing out connections.
func (m *Manager) CurrentToken(environment string) (Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[environment]
	if !ok || rec.tok.IsZero() {
		return Token{}, ErrNoToken
	}
	return rec.tok, nil
}

// IsNearExpiry reports whether the token's remaining lifetime is below the
// rotation-warning threshold.
func (m *Manager) IsNearExpiry(tok Token) bool {
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return tok.ExpiresAt.Sub(m.now()) < m.cfg.RotationWarn
}

// Refresh fetches the current token once and reconciles rotation state.
func (m *Manager) Refresh(ctx context.Context) error {
	env := m.cfg.Environment

	tok, err := m.src.Fetch(ctx, env)
	if err != nil {
		return err
	}

	var rotated bool
	var fns []func()

	m.mu.Lock()
	rec, ok := m.records[env]
	if !ok {
		rec = &record{}
		m.records[env] = rec
	}
	if !rec.tok.IsZero() && rec.tok.ID != tok.ID {
		rotated = true
		fns = append(fns, m.onRotate...)
	}
	rec.tok = tok

	warn := m.IsNearExpiry(tok) && rec.warnedTokenID != tok.ID
	if warn {
		rec.warnedTokenID = tok.ID
		rec.lastWarningSentAt = m.now()
	}
	onWarn := m.onWarn
	m.mu.Unlock()

	if rotated {
		log.Info().Str("environment", env).Str("token_id", tok.ID).
			Msg("access token rotated")
		for _, fn := range fns {
			fn()
		}
	}

	if warn {
		log.Warn().Str("environment", env).Str("token_id", tok.ID).
			Time("expires_at", tok.ExpiresAt).
			Msg("access token nearing expiry, rotation needed")
		if onWarn != nil {
			onWarn(tok)
		}
	}
	return nil
}

// poll refreshes on a jittered interval until stopped.
func (m *Manager) poll() {
	defer close(m.done)

	for {
		// Jitter spreads polls so replicas don't hit the store in lockstep.
		interval := m.cfg.PollInterval + time.Duration(rand.Int63n(int64(m.cfg.PollInterval)/5+1))
		select {
		case <-m.stop:
			return
		case <-time.After(interval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := m.Refresh(ctx); err != nil {
			log.Warn().Err(err).Str("environment", m.cfg.Environment).
				Msg("access token refresh failed, serving last-known token")
		}
		cancel()
	}
}
