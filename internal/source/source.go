// Package source reads desired/available replica counts from the cluster.
package source

import (
	"context"
	"errors"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

var (
	// ErrUnavailable means the cluster API could not be reached for a
	// namespace (network, auth, timeout).
	ErrUnavailable = errors.New("metrics source unavailable")
	// ErrMalformed means the cluster API answered with data the source
	// could not turn into snapshots.
	ErrMalformed = errors.New("metrics source returned malformed data")
)

// Malformed names a workload whose replica counts could not be read. The
// coordinator keeps its prior record untouched instead of deciding on bad
// data.
type Malformed struct {
	Identity model.WorkloadIdentity
	Reason   string
}

// Result is one namespace's worth of observations.
type Result struct {
	Snapshots []model.ReplicaSnapshot
	Malformed []Malformed
}

// MetricsSource supplies a fresh snapshot per monitored workload. A failure
// for one namespace is isolated from the others by the caller.
type MetricsSource interface {
	ListWorkloads(ctx context.Context, namespace string) (Result, error)
}
