package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/breaker"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/cache"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/config"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/gateway"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/ledger"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/monitoring"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/router"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/transport"
)

type scriptedTransport struct {
	result  string
	credits float64
	err     error
}

func (s *scriptedTransport) Name() string { return transport.NameDirect }

func (s *scriptedTransport) Call(context.Context, transport.Request) (transport.Response, error) {
	if s.err != nil {
		return transport.Response{}, s.err
	}
	return transport.Response{Result: json.RawMessage(s.result), Credits: s.credits}, nil
}

func (s *scriptedTransport) HealthCheck(context.Context) error { return s.err }

func newTestServer(t *testing.T, direct transport.Transport, quota float64) (*httptest.Server, *prometheus.Registry) {
	t.Helper()

	cfg := &config.Config{
		Retry: config.RetryConfig{
			MaxAttempts: 1,
			BackoffBase: config.Duration(time.Millisecond),
			BackoffMax:  config.Duration(time.Millisecond),
		},
		Credits: config.CreditsConfig{Window: "daily", Quota: quota, SoftWarnPct: 80},
	}

	c := cache.New(time.Hour)
	t.Cleanup(c.Stop)

	gw := gateway.New(cfg, gateway.Deps{
		Direct: direct,
		DirectBreaker: breaker.New(transport.NameDirect, breaker.Config{
			FailureThreshold: 5,
			EvaluationWindow: time.Minute,
			CoolDown:         time.Minute,
		}),
		Ledger:  ledger.New(ledger.Config{Window: 24 * time.Hour, Quota: quota, SoftWarnPct: 80}),
		Pricing: ledger.NewPricing(map[string]float64{gateway.OpAnalyzeSentiment: 1}, nil),
		Cache:   c,
		Router:  router.New(nil, "COMPUTE_GENERAL", nil),
		Metrics: monitoring.NewMetrics(prometheus.NewRegistry()),
	})

	reg := prometheus.NewRegistry()
	srv := httptest.NewServer(New(gw, nil, reg).Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServer_Sentiment(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{result: `{"score":0.8}`, credits: 1}, 100)

	resp := postJSON(t, srv.URL+"/v1/sentiment", `{"text":"great quarter"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.8, gjson.Get(readBody(t, resp), "score").Float())
}

func TestServer_MissingFieldIs400(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{result: `{"score":0.8}`, credits: 1}, 100)

	resp := postJSON(t, srv.URL+"/v1/sentiment", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_MalformedBodyIs400(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{result: `{"score":0.8}`, credits: 1}, 100)

	resp := postJSON(t, srv.URL+"/v1/sentiment", `{"text": `)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_QuotaExceededIs429(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{result: `{"score":0.8}`, credits: 1}, 0.5)

	resp := postJSON(t, srv.URL+"/v1/sentiment", `{"text":"hello"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "quota_exceeded", gjson.Get(readBody(t, resp), "error.kind").String())
}

func TestServer_TransportFailureIs502(t *testing.T) {
	flaky := &scriptedTransport{err: transport.ErrTransient}
	srv, _ := newTestServer(t, flaky, 100)

	resp := postJSON(t, srv.URL+"/v1/sentiment", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{result: `{}`, credits: 1}, 100)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Equal(t, "up", gjson.Get(body, "direct").String())
	assert.Equal(t, 100.0, gjson.Get(body, "credit_remaining").Float())
}

func TestServer_HealthzDownIs503(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{err: transport.ErrTransient}, 100)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_UsageRecentWithoutJournalIs404(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{result: `{}`, credits: 1}, 100)

	resp, err := http.Get(srv.URL + "/usage/recent")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedTransport{result: `{}`, credits: 1}, 100)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
