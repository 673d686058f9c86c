package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

func testRecords(t *testing.T) map[model.WorkloadIdentity]model.TrackingRecord {
	t.Helper()
	healthyID := model.WorkloadIdentity{Kind: model.WorkloadKindDeployment, Namespace: "payments", Name: "api"}
	alertingID := model.WorkloadIdentity{Kind: model.WorkloadKindStatefulSet, Namespace: "checkout", Name: "db"}
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return map[model.WorkloadIdentity]model.TrackingRecord{
		healthyID: {
			Identity:       healthyID,
			State:          model.StateHealthy,
			LastObservedAt: since.Add(time.Hour),
		},
		alertingID: {
			Identity:       alertingID,
			State:          model.StateAlerting,
			DegradedSince:  &since,
			DedupKey:       "replica-shortfall-checkout-db-0123456789ab",
			LastObservedAt: since.Add(time.Hour),
		},
	}
}

func TestFileStore_FirstRunIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	records, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileStore_CommitLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)
	want := testRecords(t)

	require.NoError(t, s.Commit(context.Background(), want))

	got, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for id, rec := range want {
		loaded, ok := got[id]
		require.True(t, ok, "missing record for %s", id)
		assert.Equal(t, rec.State, loaded.State)
		assert.Equal(t, rec.DedupKey, loaded.DedupKey)
		if rec.DegradedSince == nil {
			assert.Nil(t, loaded.DegradedSince)
		} else {
			require.NotNil(t, loaded.DegradedSince)
			assert.True(t, rec.DegradedSince.Equal(*loaded.DegradedSince))
		}
	}
}

func TestFileStore_CorruptFileIsNotFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	require.ErrorIs(t, err, ErrCorruptState)
}

func TestFileStore_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	data, err := json.Marshal(map[string]any{"version": 99, "records": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = NewFileStore(path).Load(context.Background())
	require.ErrorIs(t, err, ErrCorruptState)
}

func TestFileStore_InvariantViolationIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// Degraded record with no degraded-since timestamp.
	raw := `{
	  "version": 1,
	  "records": {
	    "Deployment/payments/api": {
	      "identity": {"kind": "Deployment", "namespace": "payments", "name": "api"},
	      "state": "Degraded",
	      "lastObservedAt": "2026-03-01T12:00:00Z"
	    }
	  }
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	require.ErrorIs(t, err, ErrCorruptState)
}

func TestFileStore_CommitReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, testRecords(t)))

	// Second commit with different content fully replaces the first.
	id := model.WorkloadIdentity{Kind: model.WorkloadKindDaemonSet, Namespace: "infra", Name: "node-agent"}
	next := map[model.WorkloadIdentity]model.TrackingRecord{
		id: model.NewHealthyRecord(id, time.Now().UTC()),
	}
	require.NoError(t, s.Commit(ctx, next))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok := got[id]
	assert.True(t, ok)

	// No temp files may survive a successful commit.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_LeftoverTempFileDoesNotAffectLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, testRecords(t)))

	// Simulate a crash mid-commit: a half-written temp file next to the
	// committed state. Load must still see the complete committed state.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json.tmp-crashed"), []byte(`{"version":1,"rec`), 0o644))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFileStore_LockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first := NewFileStore(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second := NewFileStore(path)
	err := second.Acquire()
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestSortedIdentities(t *testing.T) {
	records := testRecords(t)
	ids := SortedIdentities(records)
	require.Len(t, ids, 2)
	assert.Equal(t, "Deployment/payments/api", ids[0].Key())
	assert.Equal(t, "StatefulSet/checkout/db", ids[1].Key())
}
