// Package runner orchestrates one sentinel invocation: load prior state,
// observe the cluster, fold the observations through the tracker, deliver the
// resulting alert actions, and commit the new state. Periodicity comes from
// an external scheduler; there is no loop in here.
package runner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apptrail-sh/replica-sentinel/internal/filter"
	"github.com/apptrail-sh/replica-sentinel/internal/metrics"
	"github.com/apptrail-sh/replica-sentinel/internal/model"
	"github.com/apptrail-sh/replica-sentinel/internal/sink"
	"github.com/apptrail-sh/replica-sentinel/internal/source"
	"github.com/apptrail-sh/replica-sentinel/internal/store"
	"github.com/apptrail-sh/replica-sentinel/internal/tracker"
)

// LockingStore is the persisted state store plus the single-writer lock the
// coordinator holds for the duration of the run.
type LockingStore interface {
	store.Store
	Acquire() error
	Release() error
}

// Options are the knobs the coordinator needs, resolved once at the boundary.
type Options struct {
	Namespaces       []string
	GracePeriod      time.Duration
	StaleRetention   time.Duration
	FetchTimeout     time.Duration
	FetchConcurrency int
	DeliveryTimeout  time.Duration
	MetricsTextfile  string
	DryRun           bool
}

// Report is the aggregate outcome of one run.
type Report struct {
	WorkloadsObserved int
	Degraded          int
	Alerting          int
	Triggers          int
	Resolves          int
	Pruned            int
	FailedNamespaces  []string
	MalformedCount    int
	DeliveryFailures  int
}

// Partial reports whether the run completed but with isolated failures.
func (r Report) Partial() bool {
	return len(r.FailedNamespaces) > 0 || r.MalformedCount > 0 || r.DeliveryFailures > 0
}

// Runner coordinates one invocation.
type Runner struct {
	opts     Options
	store    LockingStore
	source   source.MetricsSource
	sink     sink.AlertSink
	filter   *filter.WorkloadFilter
	recorder *metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a runner. The filter and recorder may be nil.
func New(opts Options, st LockingStore, src source.MetricsSource, snk sink.AlertSink, wf *filter.WorkloadFilter, rec *metrics.Recorder, logger *zap.Logger) *Runner {
	return &Runner{
		opts:     opts,
		store:    st,
		source:   src,
		sink:     snk,
		filter:   wf,
		recorder: rec,
		logger:   logger,
		now:      time.Now,
	}
}

// pendingAction pairs an alert action with the records needed to roll its
// state transition back when delivery fails.
type pendingAction struct {
	action model.AlertAction
	// prev is the record to restore on delivery failure. nil means the
	// identity is removed from state on failure (never happens today:
	// every action originates from an existing record).
	prev *model.TrackingRecord
	// prune removes the identity from state once the action is delivered.
	prune bool
}

// RunOnce performs one full pass. The returned error is fatal (lock, corrupt
// state, commit): nothing was committed and no decision took effect. Isolated
// failures are reported in the Report instead.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	if err := r.store.Acquire(); err != nil {
		return report, fmt.Errorf("acquiring state lock: %w", err)
	}
	defer func() {
		if err := r.store.Release(); err != nil {
			r.logger.Error("failed to release state lock", zap.Error(err))
		}
	}()

	prior, err := r.store.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("loading state: %w", err)
	}
	r.logger.Info("state loaded", zap.Int("records", len(prior)))

	snapshots, failedNamespaces, malformed := r.fetchSnapshots(ctx)
	report.FailedNamespaces = failedNamespaces
	report.MalformedCount = len(malformed)
	report.WorkloadsObserved = len(snapshots)

	now := r.now().UTC()
	next := make(map[model.WorkloadIdentity]model.TrackingRecord, len(prior)+len(snapshots))
	var pending []pendingAction

	observed := make(map[model.WorkloadIdentity]bool, len(snapshots))
	for _, snap := range snapshots {
		observed[snap.Identity] = true

		var prev *model.TrackingRecord
		if rec, ok := prior[snap.Identity]; ok {
			prevCopy := rec
			prev = &prevCopy
		}

		rec, action, err := tracker.Advance(prev, snap, now, r.opts.GracePeriod)
		if err != nil {
			// No decision without trustworthy data; keep what we had.
			r.logger.Warn("snapshot not usable, record unchanged",
				zap.String("workload", snap.Identity.Key()), zap.Error(err))
			report.MalformedCount++
			if prev != nil {
				next[snap.Identity] = *prev
			}
			continue
		}

		if prev == nil || prev.State != rec.State {
			r.logger.Info("workload state transition",
				zap.String("workload", snap.Identity.Key()),
				zap.String("from", string(stateOf(prev))),
				zap.String("to", string(rec.State)),
				zap.Int32("desired", snap.Desired),
				zap.Int32("available", snap.Available),
			)
		}

		next[snap.Identity] = rec
		if action != nil {
			pending = append(pending, pendingAction{action: *action, prev: prev})
		}
	}

	r.carryUnobserved(prior, observed, failedNamespaces, malformed, now, next, &pending, &report)

	r.deliver(ctx, pending, next, &report)

	for _, rec := range next {
		switch rec.State {
		case model.StateDegraded:
			report.Degraded++
		case model.StateAlerting:
			report.Alerting++
		}
	}

	if r.opts.DryRun {
		r.logSummary(report, true)
		return report, nil
	}

	if err := r.store.Commit(ctx, next); err != nil {
		return report, fmt.Errorf("committing state: %w", err)
	}

	r.writeMetrics(report)
	r.logSummary(report, false)
	return report, nil
}

// fetchSnapshots lists every allow-listed namespace with bounded concurrency
// and a per-namespace timeout, then merges the results in identity order so
// the rest of the run is reproducible regardless of fetch completion order.
func (r *Runner) fetchSnapshots(ctx context.Context) ([]model.ReplicaSnapshot, []string, map[model.WorkloadIdentity]bool) {
	results := make([]source.Result, len(r.opts.Namespaces))
	errs := make([]error, len(r.opts.Namespaces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FetchConcurrency)
	for i, namespace := range r.opts.Namespaces {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, r.opts.FetchTimeout)
			defer cancel()
			results[i], errs[i] = r.source.ListWorkloads(fctx, namespace)
			return nil
		})
	}
	// Goroutines report through the slices; the group only bounds them.
	_ = g.Wait()

	var snapshots []model.ReplicaSnapshot
	var failed []string
	malformed := make(map[model.WorkloadIdentity]bool)

	for i, namespace := range r.opts.Namespaces {
		if errs[i] != nil {
			r.logger.Error("namespace fetch failed",
				zap.String("namespace", namespace), zap.Error(errs[i]))
			failed = append(failed, namespace)
			continue
		}
		for _, m := range results[i].Malformed {
			r.logger.Warn("workload counts unreadable, record unchanged",
				zap.String("workload", m.Identity.Key()),
				zap.String("reason", m.Reason))
			malformed[m.Identity] = true
		}
		snapshots = append(snapshots, results[i].Snapshots...)
	}

	if r.filter != nil {
		snapshots = r.filter.Apply(snapshots)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Identity.Key() < snapshots[j].Identity.Key()
	})
	return snapshots, failed, malformed
}

// carryUnobserved handles identities present in prior state but absent from
// this run's snapshots. Records in failed namespaces and records with
// unreadable counts are carried unchanged; everything else ages against the
// retention window and is pruned once it expires. Pruning an Alerting record
// first resolves its incident so it does not stay open forever.
func (r *Runner) carryUnobserved(
	prior map[model.WorkloadIdentity]model.TrackingRecord,
	observed map[model.WorkloadIdentity]bool,
	failedNamespaces []string,
	malformed map[model.WorkloadIdentity]bool,
	now time.Time,
	next map[model.WorkloadIdentity]model.TrackingRecord,
	pending *[]pendingAction,
	report *Report,
) {
	failed := make(map[string]bool, len(failedNamespaces))
	for _, namespace := range failedNamespaces {
		failed[namespace] = true
	}

	for _, id := range store.SortedIdentities(prior) {
		if observed[id] {
			continue
		}
		rec := prior[id]

		if failed[id.Namespace] || malformed[id] {
			next[id] = rec
			continue
		}

		if now.Sub(rec.LastObservedAt) <= r.opts.StaleRetention {
			r.logger.Debug("workload not observed, retaining record",
				zap.String("workload", id.Key()),
				zap.Time("lastObservedAt", rec.LastObservedAt))
			next[id] = rec
			continue
		}

		if rec.State == model.StateAlerting {
			// Keep the record until the resolve is actually delivered.
			next[id] = rec
			*pending = append(*pending, pendingAction{
				action: model.AlertAction{
					Kind:     model.ActionResolve,
					DedupKey: rec.DedupKey,
					Identity: id,
				},
				prev:  &rec,
				prune: true,
			})
			continue
		}

		r.logger.Info("pruning stale record",
			zap.String("workload", id.Key()),
			zap.Time("lastObservedAt", rec.LastObservedAt))
		report.Pruned++
	}
}

// deliver sends each pending action through the sink. A failed delivery rolls
// the identity back to its pre-transition record so the next run re-attempts
// the same decision; the sink's dedup key idempotency makes that safe.
func (r *Runner) deliver(ctx context.Context, pending []pendingAction, next map[model.WorkloadIdentity]model.TrackingRecord, report *Report) {
	for _, p := range pending {
		if r.opts.DryRun {
			r.logger.Info("dry run, would deliver alert action",
				zap.String("action", string(p.action.Kind)),
				zap.String("workload", p.action.Identity.Key()),
				zap.String("dedupKey", p.action.DedupKey))
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, r.opts.DeliveryTimeout)
		err := r.sink.Send(dctx, p.action)
		cancel()

		if err != nil {
			r.logger.Error("alert delivery failed, rolling back state transition",
				zap.String("action", string(p.action.Kind)),
				zap.String("workload", p.action.Identity.Key()),
				zap.String("dedupKey", p.action.DedupKey),
				zap.Error(err))
			report.DeliveryFailures++
			if p.prev != nil {
				next[p.action.Identity] = *p.prev
			} else {
				delete(next, p.action.Identity)
			}
			continue
		}

		r.logger.Info("alert action delivered",
			zap.String("action", string(p.action.Kind)),
			zap.String("workload", p.action.Identity.Key()),
			zap.String("dedupKey", p.action.DedupKey))

		switch p.action.Kind {
		case model.ActionTrigger:
			report.Triggers++
		case model.ActionResolve:
			report.Resolves++
		}
		if p.prune {
			delete(next, p.action.Identity)
			report.Pruned++
			r.logger.Info("pruned stale record after resolving its incident",
				zap.String("workload", p.action.Identity.Key()))
		}
	}
}

func (r *Runner) writeMetrics(report Report) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(metrics.RunStats{
		WorkloadsObserved: report.WorkloadsObserved,
		Degraded:          report.Degraded,
		Alerting:          report.Alerting,
		TriggersEmitted:   report.Triggers,
		ResolvesEmitted:   report.Resolves,
		FetchFailures:     len(report.FailedNamespaces),
		DeliveryFailures:  report.DeliveryFailures,
		Success:           !report.Partial(),
	})
	if r.opts.MetricsTextfile == "" {
		return
	}
	if err := r.recorder.WriteTextfile(r.opts.MetricsTextfile); err != nil {
		r.logger.Error("failed to write metrics textfile",
			zap.String("path", r.opts.MetricsTextfile), zap.Error(err))
	}
}

func (r *Runner) logSummary(report Report, dryRun bool) {
	r.logger.Info("run complete",
		zap.Bool("dryRun", dryRun),
		zap.Int("workloadsObserved", report.WorkloadsObserved),
		zap.Int("degraded", report.Degraded),
		zap.Int("alerting", report.Alerting),
		zap.Int("triggers", report.Triggers),
		zap.Int("resolves", report.Resolves),
		zap.Int("pruned", report.Pruned),
		zap.Strings("failedNamespaces", report.FailedNamespaces),
		zap.Int("malformed", report.MalformedCount),
		zap.Int("deliveryFailures", report.DeliveryFailures),
	)
}

func stateOf(rec *model.TrackingRecord) model.HealthState {
	if rec == nil {
		return "none"
	}
	return rec.State
}
