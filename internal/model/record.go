package model

import "time"

// HealthState is the tracked health of a workload across runs.
type HealthState string

const (
	// StateHealthy means available >= desired at the last observation.
	StateHealthy HealthState = "Healthy"
	// StateDegraded means a shortfall has been observed but the grace period
	// has not yet elapsed, so no incident has been raised.
	StateDegraded HealthState = "Degraded"
	// StateAlerting means a trigger has been delivered for the current
	// degradation episode and no resolve has been sent yet.
	StateAlerting HealthState = "Alerting"
)

// TrackingRecord is the per-workload state persisted between runs. It is the
// only continuity mechanism across invocations: the grace-period timer and the
// trigger/resolve dedup key both live here.
type TrackingRecord struct {
	Identity WorkloadIdentity `json:"identity"`
	State    HealthState      `json:"state"`

	// DegradedSince is set when a shortfall is first observed and cleared on
	// recovery. Non-nil exactly when State is Degraded or Alerting.
	DegradedSince *time.Time `json:"degradedSince,omitempty"`

	// DedupKey correlates the trigger and resolve of one degradation episode
	// at the alert sink. It is fixed for the episode's lifetime and never
	// reused for a later episode of the same workload.
	DedupKey string `json:"dedupKey,omitempty"`

	// LastObservedAt is the observation time of the snapshot that produced
	// this record, used to detect workloads that have disappeared.
	LastObservedAt time.Time `json:"lastObservedAt"`
}

// NewHealthyRecord returns the baseline record for a workload seen for the
// first time.
func NewHealthyRecord(id WorkloadIdentity, observedAt time.Time) TrackingRecord {
	return TrackingRecord{
		Identity:       id,
		State:          StateHealthy,
		LastObservedAt: observedAt,
	}
}
