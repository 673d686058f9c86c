package model

// ActionKind distinguishes incident triggers from resolves.
type ActionKind string

const (
	ActionTrigger ActionKind = "trigger"
	ActionResolve ActionKind = "resolve"
)

// AlertAction is an incident event the tracker asks the coordinator to
// deliver. Trigger carries the replica counts that caused it; Resolve only
// needs the dedup key of the episode it closes.
type AlertAction struct {
	Kind      ActionKind
	DedupKey  string
	Identity  WorkloadIdentity
	Desired   int32
	Available int32
}
