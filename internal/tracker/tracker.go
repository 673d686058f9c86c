// Package tracker holds the degradation-detection state machine. Advance is a
// pure function of the previous record, one fresh snapshot, and the run clock,
// which is what makes the persisted state recoverable and the machine testable
// without mocking anything beyond the clock argument.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

// ErrMalformedSnapshot is returned when a snapshot carries replica counts that
// could not have come from a healthy source read. The previous record is
// passed through unchanged in that case.
var ErrMalformedSnapshot = errors.New("malformed replica snapshot")

// Advance folds one snapshot into a workload's tracking record.
//
// The state machine is Healthy -> Degraded -> Alerting -> Healthy, with no
// other edges:
//   - Healthy + shortfall: Degraded, degraded-since anchored at now, fresh
//     dedup key, no action (grace period not yet elapsed).
//   - Degraded + recovery: Healthy, no action (nothing was ever sent).
//   - Degraded + shortfall past the grace period: Alerting, Trigger emitted.
//   - Alerting + shortfall: stays Alerting, no action (at most one trigger
//     per episode).
//   - Alerting + recovery: Healthy, Resolve emitted with the episode's key.
//
// Grace-period elapse is measured against the snapshot's observation time so
// a delayed invocation does not shorten or stretch the window. The initial
// degraded-since anchor is the run clock, since there is no prior state to
// anchor it; that approximation is deliberate.
func Advance(prev *model.TrackingRecord, snap model.ReplicaSnapshot, now time.Time, grace time.Duration) (model.TrackingRecord, *model.AlertAction, error) {
	if !snap.Valid() {
		if prev != nil {
			return *prev, nil, fmt.Errorf("%w: %s desired=%d available=%d",
				ErrMalformedSnapshot, snap.Identity, snap.Desired, snap.Available)
		}
		return model.TrackingRecord{}, nil, fmt.Errorf("%w: %s desired=%d available=%d",
			ErrMalformedSnapshot, snap.Identity, snap.Desired, snap.Available)
	}

	rec := model.NewHealthyRecord(snap.Identity, snap.ObservedAt)
	if prev != nil {
		rec = *prev
		rec.LastObservedAt = snap.ObservedAt
	}

	short := snap.Short()

	switch rec.State {
	case model.StateHealthy, "":
		if !short {
			rec.State = model.StateHealthy
			return rec, nil, nil
		}
		since := now
		rec.State = model.StateDegraded
		rec.DegradedSince = &since
		rec.DedupKey = dedupKey(snap.Identity, since)
		return rec, nil, nil

	case model.StateDegraded:
		if !short {
			rec.State = model.StateHealthy
			rec.DegradedSince = nil
			rec.DedupKey = ""
			return rec, nil, nil
		}
		if snap.ObservedAt.Sub(*rec.DegradedSince) >= grace {
			rec.State = model.StateAlerting
			action := &model.AlertAction{
				Kind:      model.ActionTrigger,
				DedupKey:  rec.DedupKey,
				Identity:  snap.Identity,
				Desired:   snap.Desired,
				Available: snap.Available,
			}
			return rec, action, nil
		}
		return rec, nil, nil

	case model.StateAlerting:
		if short {
			return rec, nil, nil
		}
		action := &model.AlertAction{
			Kind:      model.ActionResolve,
			DedupKey:  rec.DedupKey,
			Identity:  snap.Identity,
			Desired:   snap.Desired,
			Available: snap.Available,
		}
		rec.State = model.StateHealthy
		rec.DegradedSince = nil
		rec.DedupKey = ""
		return rec, action, nil

	default:
		if prev != nil {
			return *prev, nil, fmt.Errorf("tracking record for %s has unknown state %q", rec.Identity, rec.State)
		}
		return rec, nil, fmt.Errorf("tracking record for %s has unknown state %q", rec.Identity, rec.State)
	}
}

// dedupKey derives the episode's dedup key from the identity and the moment
// the shortfall was first observed. Deterministic, so Advance stays a pure
// function, and unique per episode because two episodes of the same workload
// can never start at the same instant.
func dedupKey(id model.WorkloadIdentity, since time.Time) string {
	h := sha256.New()
	h.Write([]byte(id.Key()))
	h.Write([]byte(strconv.FormatInt(since.UTC().UnixNano(), 10)))
	return fmt.Sprintf("replica-shortfall-%s-%s-%s", id.Namespace, id.Name, hex.EncodeToString(h.Sum(nil))[:12])
}
