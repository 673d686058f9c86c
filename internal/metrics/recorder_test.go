package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Record(RunStats{
		WorkloadsObserved: 12,
		Degraded:          2,
		Alerting:          1,
		TriggersEmitted:   1,
		ResolvesEmitted:   3,
		Success:           true,
	})

	path := filepath.Join(t.TempDir(), "replica_sentinel.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "replica_sentinel_workloads_observed 12")
	assert.Contains(t, text, "replica_sentinel_workloads_alerting 1")
	assert.Contains(t, text, "replica_sentinel_triggers_emitted 1")
	assert.Contains(t, text, "replica_sentinel_last_run_success 1")
}

func TestRecorder_RecordFailure(t *testing.T) {
	r := NewRecorder()
	r.Record(RunStats{FetchFailures: 1, Success: false})

	path := filepath.Join(t.TempDir(), "replica_sentinel.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "replica_sentinel_namespace_fetch_failures 1")
	assert.Contains(t, string(data), "replica_sentinel_last_run_success 0")
}
