package model

import (
	"fmt"
	"time"
)

// WorkloadKind identifies the Kubernetes workload type a snapshot was taken from.
type WorkloadKind string

const (
	WorkloadKindDeployment  WorkloadKind = "Deployment"
	WorkloadKindStatefulSet WorkloadKind = "StatefulSet"
	WorkloadKindDaemonSet   WorkloadKind = "DaemonSet"
	WorkloadKindCronJob     WorkloadKind = "CronJob"
)

// AllWorkloadKinds lists every kind the sentinel knows how to observe.
var AllWorkloadKinds = []WorkloadKind{
	WorkloadKindDeployment,
	WorkloadKindStatefulSet,
	WorkloadKindDaemonSet,
	WorkloadKindCronJob,
}

// ParseWorkloadKind validates a kind string from configuration.
func ParseWorkloadKind(s string) (WorkloadKind, error) {
	for _, k := range AllWorkloadKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown workload kind %q", s)
}

// WorkloadIdentity uniquely names a monitored workload. Kind is part of the
// identity because a Deployment and a StatefulSet may share a namespace/name
// pair in the same cluster.
type WorkloadIdentity struct {
	Kind      WorkloadKind `json:"kind"`
	Namespace string       `json:"namespace"`
	Name      string       `json:"name"`
}

// Key returns the stable map/sort key for this identity.
func (id WorkloadIdentity) Key() string {
	return fmt.Sprintf("%s/%s/%s", id.Kind, id.Namespace, id.Name)
}

func (id WorkloadIdentity) String() string {
	return id.Key()
}

// ReplicaSnapshot is one point-in-time reading of desired/available replicas
// for a workload. Snapshots are produced fresh each run and never persisted.
type ReplicaSnapshot struct {
	Identity   WorkloadIdentity
	Desired    int32
	Available  int32
	ObservedAt time.Time
}

// Valid reports whether the replica counts could actually be read from the
// cluster. Negative counts mean the source handed us garbage and no health
// decision may be made from this snapshot.
func (s ReplicaSnapshot) Valid() bool {
	return s.Desired >= 0 && s.Available >= 0
}

// Short reports whether the workload is running below its desired count.
// A workload scaled to zero is never short, no matter what available says.
func (s ReplicaSnapshot) Short() bool {
	return s.Desired > 0 && s.Available < s.Desired
}
