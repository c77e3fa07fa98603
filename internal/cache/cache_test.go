package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*Cache, *time.Time) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(time.Hour)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newTestCache()
	defer c.Stop()

	c.Put("k", []byte(`{"text":"hello"}`), time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"text":"hello"}`), v)
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	c, now := newTestCache()
	defer c.Stop()

	c.Put("k", []byte("v"), time.Minute)

	*now = now.Add(61 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry evicted on read")
}

func TestCache_ZeroTTLDisablesCaching(t *testing.T) {
	c, _ := newTestCache()
	defer c.Stop()

	c.Put("k", []byte("v"), 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_SweepEvictsExpired(t *testing.T) {
	c, now := newTestCache()
	defer c.Stop()

	c.Put("a", []byte("1"), time.Minute)
	c.Put("b", []byte("2"), time.Hour)

	*now = now.Add(2 * time.Minute)
	c.Sweep()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}

func TestCache_PutRefreshesTTL(t *testing.T) {
	c, now := newTestCache()
	defer c.Stop()

	c.Put("k", []byte("old"), time.Minute)
	*now = now.Add(50 * time.Second)
	c.Put("k", []byte("new"), time.Minute)
	*now = now.Add(30 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestKey_DeterministicAcrossCalls(t *testing.T) {
	type args struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}

	k1, err := Key("semantic_search", args{Query: "churn drivers", TopK: 5})
	require.NoError(t, err)
	k2, err := Key("semantic_search", args{Query: "churn drivers", TopK: 5})
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestKey_DistinguishesOpAndArgs(t *testing.T) {
	type args struct {
		Text string `json:"text"`
	}

	k1, _ := Key("compute_embedding", args{Text: "alpha"})
	k2, _ := Key("compute_embedding", args{Text: "beta"})
	k3, _ := Key("analyze_sentiment", args{Text: "alpha"})

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestKey_PrefixedByOperation(t *testing.T) {
	k, err := Key("run_query", map[string]string{"sql": "SELECT 1"})
	require.NoError(t, err)
	assert.Regexp(t, `^run_query:[0-9a-f]{64}$`, k)
}
