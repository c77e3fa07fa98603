// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// NETWORK CALLS
// =============================================================================

// DefaultCallTimeout bounds a single network call on either transport.
const DefaultCallTimeout = 60 * time.Second

// =============================================================================
// CONNECTION POOLS
// =============================================================================

// DefaultPoolMin is the number of connections kept warm per pool.
const DefaultPoolMin = 1

// DefaultPoolMax is the pool growth ceiling.
const DefaultPoolMax = 8

// DefaultPoolIdleTimeout is when idle connections above min are destroyed.
const DefaultPoolIdleTimeout = 5 * time.Minute

// DefaultLeaseTimeout bounds how long a caller waits for a connection.
const DefaultLeaseTimeout = 10 * time.Second

// DefaultFreshness is the last-used age beyond which a connection is
// health-checked before being handed out.
const DefaultFreshness = 30 * time.Second

// =============================================================================
// RETRY
// =============================================================================

// DefaultRetryAttempts is the total tries per transport (first + retries).
const DefaultRetryAttempts = 3

// DefaultBackoffBase is the first retry delay before jitter.
const DefaultBackoffBase = 200 * time.Millisecond

// DefaultBackoffMax caps the exponential backoff.
const DefaultBackoffMax = 5 * time.Second

// =============================================================================
// CACHE
// =============================================================================

// DefaultCacheSweepInterval is the frequency of the background TTL sweep.
const DefaultCacheSweepInterval = 1 * time.Minute

// =============================================================================
// CREDITS
// =============================================================================

// DefaultSoftWarnPct is the consumption percentage that raises a warning.
const DefaultSoftWarnPct = 80.0

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

// DefaultFailureThreshold opens the circuit after this many failures
// inside the evaluation window.
const DefaultFailureThreshold = 5

// DefaultEvaluationWindow is the failure-counting window.
const DefaultEvaluationWindow = 30 * time.Second

// DefaultCoolDown is how long an open circuit waits before probing.
const DefaultCoolDown = 15 * time.Second

// =============================================================================
// ACCESS TOKENS
// =============================================================================

// DefaultRotationWarn raises a rotation warning this long before expiry
// (7 days, for a 90-day rotation policy).
const DefaultRotationWarn = 7 * 24 * time.Hour

// DefaultTokenPollInterval is how often the secret source is polled.
const DefaultTokenPollInterval = 5 * time.Minute

// =============================================================================
// ROUTING
// =============================================================================

// DefaultWarehouse receives workloads with no configured mapping.
const DefaultWarehouse = "COMPUTE_GENERAL"

// =============================================================================
// HTTP SERVER
// =============================================================================

// DefaultListenAddr is the gateway's HTTP listen address.
const DefaultListenAddr = "127.0.0.1:8090"

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP server (long queries stream slowly).
const DefaultServerWriteTimeout = 5 * time.Minute
