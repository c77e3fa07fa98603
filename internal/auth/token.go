// Package auth tracks the lifecycle of backend access tokens.
//
// DESIGN: Tokens are issued and rotated by an external secret store; this
// package only observes them. The manager polls a Source in the background
// and serves the last-known token from memory, so the request path never
// blocks on the secret store. A token nearing expiry is still usable and
// raises a rotation warning once; an expired token is never handed out for
// new connections.
package auth

import "time"

// Token is one issued backend credential.
type Token struct {
	// ID identifies the credential for rotation detection; it changes when
	// the secret store rotates the token.
	ID string `json:"id"`
	// Secret is the credential material presented to the backend.
	Secret string `json:"secret"`
	// Environment is the issuing scope ("prod", "staging").
	Environment string    `json:"environment"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsZero reports whether the token is unset.
func (t Token) IsZero() bool { return t.Secret == "" }

// ExpiredAt reports whether the token is past expiry at the given instant.
func (t Token) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
