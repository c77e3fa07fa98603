package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/auth"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
)

// maxRelayResponseSize bounds a relay response body (50MB).
const maxRelayResponseSize = 50 * 1024 * 1024

// relayConn is one logical session to the relay service. Each session owns
// its own HTTP client pinned to a single TCP connection so the pool size
// genuinely bounds sockets to the relay.
type relayConn struct {
	baseURL string
	client  *http.Client
}

// Ping verifies the relay is reachable.
func (c *relayConn) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay health returned %d", resp.StatusCode)
	}
	return nil
}

func (c *relayConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// RelayFactory creates relay sessions against baseURL.
func RelayFactory(baseURL string) pool.Factory {
	return func(_ context.Context) (pool.Conn, error) {
		return &relayConn{
			baseURL: baseURL,
			client: &http.Client{
				Transport: &http.Transport{
					MaxConnsPerHost:     1,
					MaxIdleConnsPerHost: 1,
					IdleConnTimeout:     90 * time.Second,
				},
			},
		}, nil
	}
}

// Relay executes calls over the HTTP relay service, the fallback transport
// when Direct is circuit-open or unavailable.
type Relay struct {
	pool        *pool.Pool
	tokens      *auth.Manager
	environment string
	callTimeout time.Duration
}

// NewRelay builds the relay transport around an existing pool.
func NewRelay(p *pool.Pool, tokens *auth.Manager, environment string, callTimeout time.Duration) *Relay {
	return &Relay{
		pool:        p,
		tokens:      tokens,
		environment: environment,
		callTimeout: callTimeout,
	}
}

// Name implements Transport.
func (r *Relay) Name() string { return NameRelay }

// Pool exposes the transport's session pool for stats and recycling.
func (r *Relay) Pool() *pool.Pool { return r.pool }

// Call implements Transport.
func (r *Relay) Call(ctx context.Context, req Request) (Response, error) {
	tok, err := usableToken(r.tokens, r.environment)
	if err != nil {
		return Response{}, err
	}

	pc, err := r.pool.Lease(ctx)
	if err != nil {
		return Response{}, leaseError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	conn := pc.Raw().(*relayConn)
	resp, err := r.roundTrip(ctx, conn, tok, req)
	if err != nil {
		r.pool.Discard(pc)
		return Response{}, err
	}
	r.pool.Release(pc)
	return resp, nil
}

func (r *Relay) roundTrip(ctx context.Context, conn *relayConn, tok auth.Token, req Request) (Response, error) {
	body := req.Payload
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	body, err := sjson.SetBytes(body, "warehouse", req.Warehouse)
	if err != nil {
		return Response{}, fmt.Errorf("%w: decorating relay payload: %v", ErrValidation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		conn.baseURL+"/v1/"+req.Operation, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: building relay request: %v", ErrValidation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.Secret)

	httpResp, err := conn.client.Do(httpReq)
	if err != nil {
		return Response{}, transient(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxRelayResponseSize))
	if err != nil {
		return Response{}, transient(err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
	case httpResp.StatusCode == http.StatusUnauthorized, httpResp.StatusCode == http.StatusForbidden:
		return Response{}, fmt.Errorf("%w: relay returned %d: %s",
			ErrAuthentication, httpResp.StatusCode, relayErrorMessage(respBody))
	case httpResp.StatusCode == http.StatusBadRequest, httpResp.StatusCode == http.StatusUnprocessableEntity:
		return Response{}, fmt.Errorf("%w: relay returned %d: %s",
			ErrValidation, httpResp.StatusCode, relayErrorMessage(respBody))
	default:
		// 429, 5xx and everything else: retryable.
		return Response{}, transient(fmt.Errorf("relay returned %d: %s",
			httpResp.StatusCode, relayErrorMessage(respBody)))
	}

	out := Response{Credits: -1}
	if result := gjson.GetBytes(respBody, "result"); result.Exists() {
		out.Result = []byte(result.Raw)
	} else {
		out.Result = respBody
	}
	if credits := gjson.GetBytes(respBody, "usage.credits"); credits.Exists() {
		out.Credits = credits.Float()
	}
	return out, nil
}

// HealthCheck implements Transport.
func (r *Relay) HealthCheck(ctx context.Context) error {
	pc, err := r.pool.Lease(ctx)
	if err != nil {
		return leaseError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pc.Raw().Ping(ctx); err != nil {
		r.pool.Discard(pc)
		return transient(err)
	}
	r.pool.Release(pc)
	return nil
}

// relayErrorMessage extracts a useful message from an error body.
func relayErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
