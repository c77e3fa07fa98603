package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
)

func TestTransient_PreservesChain(t *testing.T) {
	base := errors.New("connection reset by peer")
	err := transient(base)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, base)
}

func TestClassifyBackendCode(t *testing.T) {
	base := errors.New("backend error")

	tests := []struct {
		code string
		want error
	}{
		{"auth_failed", ErrAuthentication},
		{"authentication_error", ErrAuthentication},
		{"unauthorized", ErrAuthentication},
		{"token_expired", ErrAuthentication},
		{"invalid_sql", ErrValidation},
		{"invalid_request", ErrValidation},
		{"validation", ErrValidation},
		{"malformed", ErrValidation},
		{"warehouse_busy", ErrTransient},
		{"internal", ErrTransient},
		{"", ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifyBackendCode(tt.code, base)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, base)
		})
	}
}

func TestLeaseError(t *testing.T) {
	dial := errors.New("dial tcp 127.0.0.1:443: connect: connection refused")

	err := leaseError(dial)
	assert.ErrorIs(t, err, ErrTransient, "dial failures are retryable")
	assert.ErrorIs(t, err, dial)

	err = leaseError(pool.ErrExhausted)
	assert.ErrorIs(t, err, pool.ErrExhausted)
	assert.NotErrorIs(t, err, ErrTransient, "exhaustion keeps its own kind")

	err = leaseError(pool.ErrClosed)
	assert.ErrorIs(t, err, pool.ErrClosed)
	assert.NotErrorIs(t, err, ErrTransient)
}
