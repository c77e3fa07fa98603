package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTokenFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

type fakeSource struct {
	mu  sync.Mutex
	tok Token
	err error
}

func (s *fakeSource) Fetch(_ context.Context, environment string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Token{}, s.err
	}
	tok := s.tok
	tok.Environment = environment
	return tok, nil
}

func (s *fakeSource) set(tok Token) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

func newTestManager(src Source) (*Manager, *time.Time) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(src, Config{
		Environment:  "prod",
		RotationWarn: 7 * 24 * time.Hour,
		PollInterval: time.Hour,
	})
	m.now = func() time.Time { return now }
	return m, &now
}

func TestManager_CurrentTokenBeforeRefresh(t *testing.T) {
	m, _ := newTestManager(&fakeSource{})

	_, err := m.CurrentToken("prod")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestManager_RefreshServesToken(t *testing.T) {
	src := &fakeSource{tok: Token{ID: "tok-1", Secret: "s3cret"}}
	m, _ := newTestManager(src)

	require.NoError(t, m.Refresh(context.Background()))

	tok, err := m.CurrentToken("prod")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.ID)
	assert.Equal(t, "s3cret", tok.Secret)
	assert.Equal(t, "prod", tok.Environment)
}

func TestManager_FailedRefreshKeepsLastKnown(t *testing.T) {
	src := &fakeSource{tok: Token{ID: "tok-1", Secret: "s3cret"}}
	m, _ := newTestManager(src)
	require.NoError(t, m.Refresh(context.Background()))

	src.mu.Lock()
	src.err = errors.New("secret store unreachable")
	src.mu.Unlock()

	require.Error(t, m.Refresh(context.Background()))
	tok, err := m.CurrentToken("prod")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.ID, "stale token still served")
}

func TestManager_RotationFiresCallbacks(t *testing.T) {
	src := &fakeSource{tok: Token{ID: "tok-1", Secret: "old"}}
	m, _ := newTestManager(src)

	var rotations int
	m.OnRotate(func() { rotations++ })

	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, 0, rotations, "initial load is not a rotation")

	// Same id again: not a rotation.
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, 0, rotations)

	src.set(Token{ID: "tok-2", Secret: "new"})
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, 1, rotations)

	tok, err := m.CurrentToken("prod")
	require.NoError(t, err)
	assert.Equal(t, "new", tok.Secret)
}

func TestManager_RotationWarningOncePerToken(t *testing.T) {
	m, now := newTestManager(nil)
	expiring := Token{ID: "tok-1", Secret: "s", ExpiresAt: now.Add(24 * time.Hour)}
	src := &fakeSource{tok: expiring}
	m.src = src

	var warned []string
	m.OnRotationWarning(func(tok Token) { warned = append(warned, tok.ID) })

	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, []string{"tok-1"}, warned, "one warning per token id")

	// The replacement token warns again when it, too, nears expiry.
	src.set(Token{ID: "tok-2", Secret: "s", ExpiresAt: now.Add(24 * time.Hour)})
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, []string{"tok-1", "tok-2"}, warned)
}

func TestManager_IsNearExpiry(t *testing.T) {
	m, now := newTestManager(nil)

	assert.False(t, m.IsNearExpiry(Token{Secret: "s"}), "no expiry means never near")
	assert.False(t, m.IsNearExpiry(Token{Secret: "s", ExpiresAt: now.Add(30 * 24 * time.Hour)}))
	assert.True(t, m.IsNearExpiry(Token{Secret: "s", ExpiresAt: now.Add(time.Hour)}))
}

func TestToken_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, Token{Secret: "s"}.ExpiredAt(now), "no expiry never expires")
	assert.False(t, Token{Secret: "s", ExpiresAt: now.Add(time.Minute)}.ExpiredAt(now))
	assert.True(t, Token{Secret: "s", ExpiresAt: now.Add(-time.Minute)}.ExpiredAt(now))
}

func TestFileSource_SingleToken(t *testing.T) {
	path := writeTokenFile(t, `{"id":"tok-1","secret":"s3cret","environment":"prod"}`)
	src := &FileSource{Path: path}

	tok, err := src.Fetch(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.ID)
}

func TestFileSource_PerEnvironment(t *testing.T) {
	path := writeTokenFile(t, `{
		"prod":    {"id":"tok-p","secret":"ps"},
		"staging": {"id":"tok-s","secret":"ss"}
	}`)
	src := &FileSource{Path: path}

	tok, err := src.Fetch(context.Background(), "staging")
	require.NoError(t, err)
	assert.Equal(t, "tok-s", tok.ID)

	_, err = src.Fetch(context.Background(), "dev")
	assert.Error(t, err)
}

func TestEnvSource(t *testing.T) {
	t.Setenv(EnvAccessToken, "s3cret")
	t.Setenv(EnvTokenID, "tok-env")
	t.Setenv(EnvTokenExpiresAt, "2027-01-01T00:00:00Z")

	src := &EnvSource{}
	tok, err := src.Fetch(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, "tok-env", tok.ID)
	assert.Equal(t, "s3cret", tok.Secret)
	assert.Equal(t, 2027, tok.ExpiresAt.Year())
}

func TestEnvSource_MissingSecret(t *testing.T) {
	t.Setenv(EnvAccessToken, "")

	src := &EnvSource{}
	_, err := src.Fetch(context.Background(), "prod")
	assert.Error(t, err)
}
