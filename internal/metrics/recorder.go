// Package metrics exposes per-run gauges for the node-exporter textfile
// collector. A one-shot process cannot serve a scrape endpoint, so the run
// summary is written to a file the collector picks up.
package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// RunStats is the aggregate outcome of one invocation.
type RunStats struct {
	WorkloadsObserved int
	Degraded          int
	Alerting          int
	TriggersEmitted   int
	ResolvesEmitted   int
	FetchFailures     int
	DeliveryFailures  int
	Success           bool
}

// Recorder owns a private registry so run metrics never mix with default
// process collectors.
type Recorder struct {
	registry *prometheus.Registry

	observed         prometheus.Gauge
	degraded         prometheus.Gauge
	alerting         prometheus.Gauge
	triggers         prometheus.Gauge
	resolves         prometheus.Gauge
	fetchFailures    prometheus.Gauge
	deliveryFailures prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
}

// NewRecorder creates a recorder with all gauges registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		observed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_workloads_observed",
			Help: "Workloads observed in the last run.",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_workloads_degraded",
			Help: "Workloads in Degraded state after the last run.",
		}),
		alerting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_workloads_alerting",
			Help: "Workloads in Alerting state after the last run.",
		}),
		triggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_triggers_emitted",
			Help: "Trigger events delivered in the last run.",
		}),
		resolves: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_resolves_emitted",
			Help: "Resolve events delivered in the last run.",
		}),
		fetchFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_namespace_fetch_failures",
			Help: "Namespaces whose snapshot fetch failed in the last run.",
		}),
		deliveryFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_delivery_failures",
			Help: "Alert actions that could not be delivered in the last run.",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replica_sentinel_last_run_success",
			Help: "Whether the last run completed without any failure.",
		}),
	}

	r.registry.MustRegister(
		r.observed, r.degraded, r.alerting,
		r.triggers, r.resolves,
		r.fetchFailures, r.deliveryFailures,
		r.lastRunTimestamp, r.lastRunSuccess,
	)
	return r
}

// Record sets all gauges from one run's stats.
func (r *Recorder) Record(stats RunStats) {
	r.observed.Set(float64(stats.WorkloadsObserved))
	r.degraded.Set(float64(stats.Degraded))
	r.alerting.Set(float64(stats.Alerting))
	r.triggers.Set(float64(stats.TriggersEmitted))
	r.resolves.Set(float64(stats.ResolvesEmitted))
	r.fetchFailures.Set(float64(stats.FetchFailures))
	r.deliveryFailures.Set(float64(stats.DeliveryFailures))
	r.lastRunTimestamp.Set(float64(time.Now().Unix()))
	if stats.Success {
		r.lastRunSuccess.Set(1)
	} else {
		r.lastRunSuccess.Set(0)
	}
}

// WriteTextfile renders the registry in the exposition format and atomically
// replaces the target file, matching what the textfile collector expects.
func (r *Recorder) WriteTextfile(path string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp metrics file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close metrics file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace metrics file: %w", err)
	}
	return nil
}
