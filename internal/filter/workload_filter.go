// Package filter narrows the set of workloads the sentinel tracks within the
// allow-listed namespaces.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

// WorkloadFilterConfig holds the include/exclude rules applied to observed
// workloads. Patterns are glob-style and match against "kind/namespace/name"
// when they contain a slash, otherwise against the bare workload name.
type WorkloadFilterConfig struct {
	// Include restricts tracking to matching workloads. Empty means track
	// everything in the allow-listed namespaces.
	Include []string
	// Exclude drops matching workloads even when included.
	Exclude []string
}

// WorkloadFilter decides which observed workloads are tracked.
type WorkloadFilter struct {
	config WorkloadFilterConfig
}

// NewWorkloadFilter creates a filter from the given rules.
func NewWorkloadFilter(config WorkloadFilterConfig) *WorkloadFilter {
	return &WorkloadFilter{config: config}
}

// Keep reports whether a workload should be tracked.
func (f *WorkloadFilter) Keep(id model.WorkloadIdentity) bool {
	for _, pattern := range f.config.Exclude {
		if matchWorkload(pattern, id) {
			return false
		}
	}

	if len(f.config.Include) == 0 {
		return true
	}

	for _, pattern := range f.config.Include {
		if matchWorkload(pattern, id) {
			return true
		}
	}
	return false
}

// Apply filters a snapshot slice in place, preserving order.
func (f *WorkloadFilter) Apply(snaps []model.ReplicaSnapshot) []model.ReplicaSnapshot {
	kept := snaps[:0]
	for _, snap := range snaps {
		if f.Keep(snap.Identity) {
			kept = append(kept, snap)
		}
	}
	return kept
}

// matchWorkload matches a glob pattern against the identity. Patterns with a
// slash match the full "kind/namespace/name" key, bare patterns match the
// workload name only.
func matchWorkload(pattern string, id model.WorkloadIdentity) bool {
	subject := id.Name
	if strings.Contains(pattern, "/") {
		subject = id.Key()
	}
	matched, err := filepath.Match(pattern, subject)
	if err != nil {
		return false
	}
	return matched
}
