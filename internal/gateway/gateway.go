// Package gateway is the single process-wide access point to the backend.
//
// DESIGN: Every operation runs the same pipeline:
//
//	cache lookup -> credit reserve -> warehouse select -> breaker check ->
//	transport call with retry -> commit/release -> cache store -> metrics
//
// The Gateway is constructed explicitly and passed to callers; there is no
// package-level instance. Direct is the primary transport; when it is
// circuit-open or its retries are exhausted, the operation is retried once
// against the Relay before a failure is surfaced. A credit reservation is
// held across both transports and settled exactly once on every path,
// including cancellation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/breaker"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/cache"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/config"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/ledger"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/monitoring"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/router"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/transport"
)

// Deps are the collaborators composed into a Gateway.
type Deps struct {
	Direct transport.Transport
	// Relay is nil when no relay is configured; Direct failures then
	// surface without fallback.
	Relay transport.Transport

	DirectBreaker *breaker.Breaker
	RelayBreaker  *breaker.Breaker

	// DirectPool / RelayPool are exposed for health and utilization gauges.
	DirectPool *pool.Pool
	RelayPool  *pool.Pool

	Ledger  *ledger.Ledger
	Pricing *ledger.Pricing
	Cache   *cache.Cache
	Router  *router.Router
	Metrics *monitoring.Metrics
	// Journal is optional; nil disables usage journaling.
	Journal *monitoring.Journal
}

// Gateway is the façade every caller goes through to reach the backend.
type Gateway struct {
	cfg  *config.Config
	deps Deps

	closed   atomic.Bool
	inFlight sync.WaitGroup
}

// New composes a gateway. The configuration must already be validated.
func New(cfg *config.Config, deps Deps) *Gateway {
	g := &Gateway{cfg: cfg, deps: deps}

	deps.Metrics.CreditWindowLimit.Set(cfg.Credits.Quota)
	deps.DirectBreaker.OnStateChange(g.breakerGauge)
	if deps.RelayBreaker != nil {
		deps.RelayBreaker.OnStateChange(g.breakerGauge)
	}
	deps.Ledger.OnSoftWarn(func(consumed, quota float64) {
		deps.Metrics.SoftLimitWarnings.Inc()
	})
	return g
}

// Close drains the gateway: new operations are rejected and in-flight ones
// are waited on until ctx expires.
func (g *Gateway) Close(ctx context.Context) error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		g.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck probes both transports and reports circuit, credit and pool
// state. It consumes no credits and bypasses the cache.
func (g *Gateway) HealthCheck(ctx context.Context) Health {
	h := Health{
		Direct:        "down",
		Relay:         "unconfigured",
		CircuitStates: map[string]string{},
		Pools:         map[string]pool.Stats{},
	}

	if err := g.deps.Direct.HealthCheck(ctx); err == nil {
		h.Direct = "up"
	} else {
		log.Debug().Err(err).Msg("direct health check failed")
	}
	h.CircuitStates[transport.NameDirect] = g.deps.DirectBreaker.State().String()
	if g.deps.DirectPool != nil {
		h.Pools[transport.NameDirect] = g.deps.DirectPool.Stats()
	}

	if g.deps.Relay != nil {
		if err := g.deps.Relay.HealthCheck(ctx); err == nil {
			h.Relay = "up"
		} else {
			h.Relay = "down"
			log.Debug().Err(err).Msg("relay health check failed")
		}
		h.CircuitStates[transport.NameRelay] = g.deps.RelayBreaker.State().String()
		if g.deps.RelayPool != nil {
			h.Pools[transport.NameRelay] = g.deps.RelayPool.Stats()
		}
	}

	h.Window = g.deps.Ledger.SnapshotWindow()
	h.CreditRemaining = h.Window.Remaining
	g.updatePoolGauges()
	return h
}

// execute runs the shared operation pipeline and returns the raw result
// bytes. costText feeds the token component of the cost estimate.
func (g *Gateway) execute(ctx context.Context, op string, workload router.Workload, args any, costText string) (json.RawMessage, error) {
	if g.closed.Load() {
		return nil, opError(op, "", 0, ErrClosed)
	}
	g.inFlight.Add(1)
	defer g.inFlight.Done()

	start := time.Now()

	key, err := cache.Key(op, args)
	if err != nil {
		return nil, opError(op, "", 0, errors.Join(transport.ErrValidation, err))
	}
	if v, ok := g.deps.Cache.Get(key); ok {
		g.deps.Metrics.RecordCacheHit(op)
		g.deps.Metrics.RecordRequest(op, "", "cached", time.Since(start))
		return v, nil
	}
	g.deps.Metrics.RecordCacheMiss(op)

	estimate := g.deps.Pricing.Estimate(op, costText)
	res, err := g.deps.Ledger.Reserve(estimate)
	if err != nil {
		g.deps.Metrics.QuotaRejections.Inc()
		g.deps.Metrics.RecordRequest(op, "", "rejected", time.Since(start))
		g.journal(op, "", "rejected", 0, start)
		return nil, opError(op, "", 0, err)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		g.deps.Ledger.Release(res)
		return nil, opError(op, "", 0, errors.Join(transport.ErrValidation, err))
	}

	req := transport.Request{
		Operation: op,
		Warehouse: g.deps.Router.Select(workload),
		Payload:   payload,
	}

	resp, transportName, attempts, err := g.dispatch(ctx, op, req)
	if err != nil {
		g.deps.Ledger.Release(res)
		if errors.Is(err, pool.ErrExhausted) {
			g.deps.Metrics.PoolExhausted.WithLabelValues(transportName).Inc()
		}
		g.deps.Metrics.RecordRequest(op, transportName, "error", time.Since(start))
		g.journal(op, transportName, "error", 0, start)
		g.updatePoolGauges()
		return nil, opError(op, transportName, attempts, err)
	}

	charged := g.deps.Ledger.Commit(res, resp.Credits)
	snap := g.deps.Ledger.SnapshotWindow()
	g.deps.Metrics.RecordCommit(charged, snap.Consumed)

	ttl := g.cfg.Cache.TTL[op].Std()
	g.deps.Cache.Put(key, resp.Result, ttl)

	g.deps.Metrics.RecordRequest(op, transportName, "success", time.Since(start))
	g.journal(op, transportName, "success", charged, start)
	g.updatePoolGauges()
	return resp.Result, nil
}

// dispatch selects a transport by circuit state and runs the retry engine.
// Direct is primary; a Direct transport-health failure falls back to the
// Relay once. Authentication and validation failures surface immediately
// and count as breaker successes: the transport itself functioned.
func (g *Gateway) dispatch(ctx context.Context, op string, req transport.Request) (transport.Response, string, int, error) {
	var (
		lastErr       error
		lastTransport string
		attempts      int
		anyAllowed    bool
	)

	if g.deps.DirectBreaker.Allow() {
		anyAllowed = true
		resp, n, err := g.callWithRetry(ctx, op, g.deps.Direct, req)
		attempts += n
		lastTransport = transport.NameDirect
		if err == nil {
			g.deps.DirectBreaker.RecordSuccess()
			return resp, lastTransport, attempts, nil
		}
		if isCallerFault(err) {
			g.deps.DirectBreaker.RecordSuccess()
			return transport.Response{}, lastTransport, attempts, err
		}
		g.deps.DirectBreaker.RecordFailure()
		lastErr = err
	}

	if g.deps.Relay != nil && g.deps.RelayBreaker.Allow() {
		anyAllowed = true
		resp, n, err := g.callWithRetry(ctx, op, g.deps.Relay, req)
		attempts += n
		lastTransport = transport.NameRelay
		if err == nil {
			g.deps.RelayBreaker.RecordSuccess()
			return resp, lastTransport, attempts, nil
		}
		if isCallerFault(err) {
			g.deps.RelayBreaker.RecordSuccess()
			return transport.Response{}, lastTransport, attempts, err
		}
		g.deps.RelayBreaker.RecordFailure()
		lastErr = err
	}

	if !anyAllowed {
		return transport.Response{}, "", 0, ErrTransportUnavailable
	}
	return transport.Response{}, lastTransport, attempts, lastErr
}

// isCallerFault reports errors that indicate nothing about transport health.
func isCallerFault(err error) bool {
	return errors.Is(err, transport.ErrAuthentication) || errors.Is(err, transport.ErrValidation)
}

// journal records a usage event when the journal is configured.
func (g *Gateway) journal(op, transportName, status string, credits float64, start time.Time) {
	if g.deps.Journal == nil {
		return
	}
	g.deps.Journal.Record(monitoring.UsageEvent{
		Timestamp: start,
		Operation: op,
		Transport: transportName,
		Status:    status,
		Credits:   credits,
		LatencyMS: time.Since(start).Milliseconds(),
	})
}

func (g *Gateway) breakerGauge(name string, state breaker.State) {
	g.deps.Metrics.CircuitState.WithLabelValues(name).Set(float64(state))
}

func (g *Gateway) updatePoolGauges() {
	if g.deps.DirectPool != nil {
		s := g.deps.DirectPool.Stats()
		g.deps.Metrics.PoolInUse.WithLabelValues(transport.NameDirect).Set(float64(s.InUse))
		g.deps.Metrics.PoolIdle.WithLabelValues(transport.NameDirect).Set(float64(s.Idle))
	}
	if g.deps.RelayPool != nil {
		s := g.deps.RelayPool.Stats()
		g.deps.Metrics.PoolInUse.WithLabelValues(transport.NameRelay).Set(float64(s.InUse))
		g.deps.Metrics.PoolIdle.WithLabelValues(transport.NameRelay).Set(float64(s.Idle))
	}
}
