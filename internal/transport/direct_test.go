package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/auth"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
)

type staticSource struct{ tok auth.Token }

func (s staticSource) Fetch(_ context.Context, environment string) (auth.Token, error) {
	tok := s.tok
	tok.Environment = environment
	return tok, nil
}

func testTokens(t *testing.T, tok auth.Token) *auth.Manager {
	t.Helper()
	m := auth.NewManager(staticSource{tok: tok}, auth.Config{
		Environment:  "prod",
		RotationWarn: time.Hour,
		PollInterval: time.Hour,
	})
	require.NoError(t, m.Refresh(context.Background()))
	return m
}

// fakeBackend answers framed requests with a fixed handler per operation.
type fakeBackend struct {
	ln      net.Listener
	handler func(req wireRequest) wireResponse
}

func newFakeBackend(t *testing.T, handler func(req wireRequest) wireResponse) *fakeBackend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &fakeBackend{ln: ln, handler: handler}
	go b.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return b
}

func (b *fakeBackend) addr() string { return b.ln.Addr().String() }

func (b *fakeBackend) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.serveConn(conn)
	}
}

func (b *fakeBackend) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		var header [4]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		var req wireRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return
		}

		resp := wireResponse{Status: "ok"}
		if req.Op != "ping" {
			resp = b.handler(req)
		}
		out, _ := json.Marshal(resp)
		binary.BigEndian.PutUint32(header[:], uint32(len(out)))
		if _, err := conn.Write(header[:]); err != nil {
			return
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func newDirectPool(t *testing.T, addr string) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{
		Name:         "direct",
		Min:          1,
		Max:          2,
		IdleTimeout:  time.Minute,
		LeaseTimeout: time.Second,
		Freshness:    time.Minute,
	}, DirectFactory(addr))
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestDirect_Call(t *testing.T) {
	credits := 3.5
	backend := newFakeBackend(t, func(req wireRequest) wireResponse {
		if req.Token != "s3cret" {
			return wireResponse{Status: "error", Code: "unauthorized", Message: "bad token"}
		}
		return wireResponse{
			Status:  "ok",
			Result:  json.RawMessage(`{"text":"hi"}`),
			Credits: &credits,
		}
	})

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	d := NewDirect(newDirectPool(t, backend.addr()), tokens, "prod", 5*time.Second)

	resp, err := d.Call(context.Background(), Request{
		Operation: "generate_text",
		Warehouse: "COMPUTE_AI",
		Payload:   json.RawMessage(`{"prompt":"hello"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(resp.Result))
	assert.Equal(t, 3.5, resp.Credits)
}

func TestDirect_CallPassesWarehouse(t *testing.T) {
	var got wireRequest
	backend := newFakeBackend(t, func(req wireRequest) wireResponse {
		got = req
		return wireResponse{Status: "ok", Result: json.RawMessage(`{}`)}
	})

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	d := NewDirect(newDirectPool(t, backend.addr()), tokens, "prod", 5*time.Second)

	_, err := d.Call(context.Background(), Request{
		Operation: "run_query",
		Warehouse: "COMPUTE_ANALYTICS",
		Payload:   json.RawMessage(`{"sql":"SELECT 1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "run_query", got.Op)
	assert.Equal(t, "COMPUTE_ANALYTICS", got.Warehouse)
	assert.Equal(t, "s3cret", got.Token)
}

func TestDirect_BackendErrorClassification(t *testing.T) {
	backend := newFakeBackend(t, func(req wireRequest) wireResponse {
		return wireResponse{Status: "error", Code: "invalid_sql", Message: "syntax error"}
	})

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	p := newDirectPool(t, backend.addr())
	d := NewDirect(p, tokens, "prod", 5*time.Second)

	_, err := d.Call(context.Background(), Request{Operation: "run_query"})
	require.ErrorIs(t, err, ErrValidation)

	// A protocol-level error keeps the connection; it is not a broken socket.
	assert.Equal(t, int64(1), p.Stats().Idle)
}

func TestDirect_MissingCreditsReportedNegative(t *testing.T) {
	backend := newFakeBackend(t, func(req wireRequest) wireResponse {
		return wireResponse{Status: "ok", Result: json.RawMessage(`{}`)}
	})

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	d := NewDirect(newDirectPool(t, backend.addr()), tokens, "prod", 5*time.Second)

	resp, err := d.Call(context.Background(), Request{Operation: "analyze_sentiment"})
	require.NoError(t, err)
	assert.Equal(t, -1.0, resp.Credits)
}

func TestDirect_ExpiredTokenRejectedWithoutDialing(t *testing.T) {
	tokens := testTokens(t, auth.Token{
		ID:        "tok-1",
		Secret:    "s3cret",
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	p := newDirectPool(t, "127.0.0.1:1") // never dialed
	d := NewDirect(p, tokens, "prod", 5*time.Second)

	_, err := d.Call(context.Background(), Request{Operation: "generate_text"})
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, int64(0), p.Stats().Created)
}

func TestDirect_IOErrorIsTransientAndDiscards(t *testing.T) {
	// Backend that closes connections without answering.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	p := newDirectPool(t, ln.Addr().String())
	d := NewDirect(p, tokens, "prod", time.Second)

	_, err = d.Call(context.Background(), Request{Operation: "generate_text"})
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int64(0), p.Stats().Idle, "broken connection discarded")
}

func TestDirect_DialFailureIsTransient(t *testing.T) {
	// Listen then close so the port refuses connections.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	d := NewDirect(newDirectPool(t, addr), tokens, "prod", time.Second)

	_, err = d.Call(context.Background(), Request{Operation: "generate_text"})
	require.ErrorIs(t, err, ErrTransient, "failed connect is retryable")
	assert.NotErrorIs(t, err, pool.ErrExhausted)
}

func TestDirect_PoolExhaustionKeepsItsKind(t *testing.T) {
	backend := newFakeBackend(t, func(req wireRequest) wireResponse {
		return wireResponse{Status: "ok", Result: json.RawMessage(`{}`)}
	})

	p := pool.New(pool.Config{
		Name:         "direct",
		Min:          0,
		Max:          1,
		IdleTimeout:  time.Minute,
		LeaseTimeout: 50 * time.Millisecond,
		Freshness:    time.Minute,
	}, DirectFactory(backend.addr()))
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	held, err := p.Lease(context.Background())
	require.NoError(t, err)
	defer p.Release(held)

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	d := NewDirect(p, tokens, "prod", time.Second)

	_, err = d.Call(context.Background(), Request{Operation: "generate_text"})
	require.ErrorIs(t, err, pool.ErrExhausted)
	assert.NotErrorIs(t, err, ErrTransient, "exhaustion is not retried on this transport")
}

func TestDirect_HealthCheck(t *testing.T) {
	backend := newFakeBackend(t, nil)

	tokens := testTokens(t, auth.Token{ID: "tok-1", Secret: "s3cret"})
	d := NewDirect(newDirectPool(t, backend.addr()), tokens, "prod", 5*time.Second)

	assert.NoError(t, d.HealthCheck(context.Background()))
}
