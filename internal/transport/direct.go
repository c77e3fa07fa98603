package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/auth"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
)

// maxFrameSize bounds a single protocol frame (64MB).
const maxFrameSize = 64 << 20

// directDialTimeout bounds establishing one backend connection.
const directDialTimeout = 10 * time.Second

// wireRequest is one frame sent to the backend.
type wireRequest struct {
	Op        string          `json:"op"`
	Warehouse string          `json:"warehouse,omitempty"`
	Token     string          `json:"token,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wireResponse is one frame received from the backend.
type wireResponse struct {
	Status  string          `json:"status"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Credits *float64        `json:"credits,omitempty"`
}

// directConn is one native-protocol connection, owned by the pool.
type directConn struct {
	nc net.Conn
}

// Ping exchanges a ping frame to verify the connection is alive.
func (c *directConn) Ping(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, wireRequest{Op: "ping"})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ping rejected: %s", resp.Message)
	}
	return nil
}

func (c *directConn) Close() error { return c.nc.Close() }

// roundTrip writes one frame and reads one frame, bounded by the context
// deadline.
func (c *directConn) roundTrip(ctx context.Context, req wireRequest) (*wireResponse, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.nc.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer func() { _ = c.nc.SetDeadline(time.Time{}) }()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := c.nc.Write(header[:]); err != nil {
		return nil, err
	}
	if _, err := c.nc.Write(body); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(c.nc, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.nc, payload); err != nil {
		return nil, err
	}

	var resp wireResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return &resp, nil
}

// DirectFactory dials one native-protocol connection to addr.
func DirectFactory(addr string) pool.Factory {
	return func(ctx context.Context) (pool.Conn, error) {
		dialer := net.Dialer{Timeout: directDialTimeout}
		nc, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return &directConn{nc: nc}, nil
	}
}

// Direct executes calls over the backend's native connection-oriented
// protocol using a pool of framed TCP connections.
type Direct struct {
	pool        *pool.Pool
	tokens      *auth.Manager
	environment string
	callTimeout time.Duration
}

// NewDirect builds the direct transport around an existing pool.
func NewDirect(p *pool.Pool, tokens *auth.Manager, environment string, callTimeout time.Duration) *Direct {
	return &Direct{
		pool:        p,
		tokens:      tokens,
		environment: environment,
		callTimeout: callTimeout,
	}
}

// Name implements Transport.
func (d *Direct) Name() string { return NameDirect }

// Pool exposes the transport's connection pool for stats and recycling.
func (d *Direct) Pool() *pool.Pool { return d.pool }

// Call implements Transport. Broken connections are discarded rather than
// returned to the pool.
func (d *Direct) Call(ctx context.Context, req Request) (Response, error) {
	tok, err := usableToken(d.tokens, d.environment)
	if err != nil {
		return Response{}, err
	}

	pc, err := d.pool.Lease(ctx)
	if err != nil {
		return Response{}, leaseError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	conn := pc.Raw().(*directConn)
	resp, err := conn.roundTrip(ctx, wireRequest{
		Op:        req.Operation,
		Warehouse: req.Warehouse,
		Token:     tok.Secret,
		Payload:   req.Payload,
	})
	if err != nil {
		d.pool.Discard(pc)
		return Response{}, transient(err)
	}
	d.pool.Release(pc)

	if resp.Status != "ok" {
		return Response{}, classifyBackendCode(resp.Code,
			fmt.Errorf("backend error %s: %s", resp.Code, resp.Message))
	}

	out := Response{Result: resp.Result, Credits: -1}
	if resp.Credits != nil {
		out.Credits = *resp.Credits
	}
	return out, nil
}

// HealthCheck implements Transport by pinging a pooled connection.
func (d *Direct) HealthCheck(ctx context.Context) error {
	pc, err := d.pool.Lease(ctx)
	if err != nil {
		return leaseError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pc.Raw().Ping(ctx); err != nil {
		d.pool.Discard(pc)
		return transient(err)
	}
	d.pool.Release(pc)
	return nil
}
