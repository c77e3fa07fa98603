// Package router maps a request's declared workload type to a backend
// warehouse (resource pool) name.
package router

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Workload is a caller-declared hint used to pick a warehouse.
type Workload string

const (
	// WorkloadInteractive is a low-latency query; routed to a small,
	// always-warm warehouse.
	WorkloadInteractive Workload = "interactive"
	// WorkloadBulk is a bulk load; routed to a larger scale-to-zero warehouse.
	WorkloadBulk Workload = "bulk"
	// WorkloadAIInference is an AI function call.
	WorkloadAIInference Workload = "ai_inference"
	// WorkloadAnalytics is a long-running analytical query.
	WorkloadAnalytics Workload = "analytics"
)

// Router is a static mapping table with a configured default.
type Router struct {
	table map[Workload]string
	def   string

	fallbacks  atomic.Int64
	onFallback func(workload string)
}

// New builds a router. Unknown workload types route to def and warn;
// they never fail the request.
func New(table map[string]string, def string, onFallback func(workload string)) *Router {
	m := make(map[Workload]string, len(table))
	for k, v := range table {
		m[Workload(k)] = v
	}
	return &Router{table: m, def: def, onFallback: onFallback}
}

// Select returns the warehouse for the given workload.
func (r *Router) Select(w Workload) string {
	if name, ok := r.table[w]; ok {
		return name
	}

	r.fallbacks.Add(1)
	log.Warn().Str("workload", string(w)).Str("warehouse", r.def).
		Msg("unknown workload type, routing to default warehouse")
	if r.onFallback != nil {
		r.onFallback(string(w))
	}
	return r.def
}

// Fallbacks returns how many requests used the default because their
// workload type was unknown.
func (r *Router) Fallbacks() int64 { return r.fallbacks.Load() }
