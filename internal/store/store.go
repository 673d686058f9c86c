// Package store persists workload tracking records between invocations. The
// state file is the sole continuity mechanism across runs, so loading treats
// anything it cannot fully parse as corruption rather than as a first run:
// silently starting fresh would re-trigger every open incident.
package store

import (
	"context"
	"errors"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

var (
	// ErrCorruptState means persisted state exists but cannot be trusted.
	ErrCorruptState = errors.New("corrupt persisted state")
	// ErrLockHeld means another invocation currently owns the store.
	ErrLockHeld = errors.New("state lock held by another invocation")
)

// Store is the durable mapping from workload identity to tracking record.
type Store interface {
	// Load returns the full prior state, or an empty map on first run.
	Load(ctx context.Context) (map[model.WorkloadIdentity]model.TrackingRecord, error)
	// Commit atomically replaces the persisted state. A crash mid-commit
	// leaves either the old or the new state, never a partial write.
	Commit(ctx context.Context, records map[model.WorkloadIdentity]model.TrackingRecord) error
}
