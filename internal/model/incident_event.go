package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceMetadata identifies the cluster and sentinel build an incident event
// originated from.
type SourceMetadata struct {
	ClusterID       string `json:"clusterId"`
	SentinelVersion string `json:"sentinelVersion"`
}

// WorkloadRef is the wire form of a workload identity.
type WorkloadRef struct {
	Kind      WorkloadKind `json:"kind"`
	Namespace string       `json:"namespace"`
	Name      string       `json:"name"`
}

// ReplicaCounts carries the snapshot numbers that produced an incident event.
type ReplicaCounts struct {
	Desired   int32 `json:"desired"`
	Available int32 `json:"available"`
}

// IncidentEventPayload is the JSON event shape shared by the event-stream
// sinks. Each delivery gets a fresh EventID; consumers that need exactly-once
// semantics deduplicate on DedupKey plus Action instead.
type IncidentEventPayload struct {
	EventID   string         `json:"eventId"`
	Timestamp string         `json:"timestamp"`
	Action    ActionKind     `json:"action"`
	DedupKey  string         `json:"dedupKey"`
	Workload  WorkloadRef    `json:"workload"`
	Replicas  ReplicaCounts  `json:"replicas"`
	Source    SourceMetadata `json:"source"`
}

// NewIncidentEventPayload builds the event payload for one alert action.
func NewIncidentEventPayload(action AlertAction, clusterID, sentinelVersion string) IncidentEventPayload {
	return IncidentEventPayload{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Action:    action.Kind,
		DedupKey:  action.DedupKey,
		Workload: WorkloadRef{
			Kind:      action.Identity.Kind,
			Namespace: action.Identity.Namespace,
			Name:      action.Identity.Name,
		},
		Replicas: ReplicaCounts{
			Desired:   action.Desired,
			Available: action.Available,
		},
		Source: SourceMetadata{
			ClusterID:       clusterID,
			SentinelVersion: sentinelVersion,
		},
	}
}
