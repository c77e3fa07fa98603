package monitoring

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_RecordAndRecent(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		j.Record(UsageEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Operation: "run_query",
			Transport: "direct",
			Status:    "success",
			Credits:   float64(i),
			LatencyMS: 12,
		})
	}

	events, err := j.Recent(3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, 4.0, events[0].Credits)
	assert.Equal(t, "run_query", events[0].Operation)
	assert.Equal(t, "direct", events[0].Transport)
}

func TestJournal_RecentOnEmpty(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	events, err := j.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
