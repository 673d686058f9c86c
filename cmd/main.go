/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/apptrail-sh/replica-sentinel/internal/buildinfo"
	"github.com/apptrail-sh/replica-sentinel/internal/cluster"
	"github.com/apptrail-sh/replica-sentinel/internal/config"
	"github.com/apptrail-sh/replica-sentinel/internal/filter"
	"github.com/apptrail-sh/replica-sentinel/internal/metrics"
	"github.com/apptrail-sh/replica-sentinel/internal/runner"
	"github.com/apptrail-sh/replica-sentinel/internal/sink"
	"github.com/apptrail-sh/replica-sentinel/internal/sink/pagerduty"
	"github.com/apptrail-sh/replica-sentinel/internal/sink/pubsub"
	"github.com/apptrail-sh/replica-sentinel/internal/source"
	"github.com/apptrail-sh/replica-sentinel/internal/store"
)

// Exit codes. Schedulers alert on 1 (the sentinel itself is broken) and can
// tolerate a streak of 2 (the cluster or a destination is misbehaving).
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

type cliOptions struct {
	configPath string
	kubeconfig string
	statePath  string
	dryRun     bool
	debug      bool
}

func main() {
	os.Exit(execute())
}

func execute() int {
	var opts cliOptions
	exitCode := exitOK

	root := &cobra.Command{
		Use:           "replica-sentinel",
		Short:         "Detects sustained replica shortfalls in Kubernetes workloads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "/etc/replica-sentinel/config.yaml", "Path to the YAML configuration file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one detection pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := runOnce(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if report.Partial() {
				exitCode = exitPartial
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&opts.kubeconfig, "kubeconfig", "", "Path to a kubeconfig file (default: in-cluster, then standard loading rules)")
	runCmd.Flags().StringVar(&opts.statePath, "state", "", "Override the state file path from the config")
	runCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Compute and log decisions without delivering alerts or committing state")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the sentinel version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Version())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "replica-sentinel: %v\n", err)
		return exitFatal
	}
	return exitCode
}

func runOnce(ctx context.Context, opts cliOptions) (runner.Report, error) {
	logger, err := newLogger(opts.debug)
	if err != nil {
		return runner.Report{}, fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return runner.Report{}, err
	}
	if opts.statePath != "" {
		cfg.StatePath = opts.statePath
	}
	if opts.dryRun {
		cfg.DryRun = true
	}

	version := buildinfo.Version()
	logger.Info("replica-sentinel starting",
		zap.String("version", version),
		zap.Strings("namespaces", cfg.Namespaces),
		zap.Bool("dryRun", cfg.DryRun),
	)

	clusterID, err := resolveClusterID(ctx, cfg, logger)
	if err != nil {
		return runner.Report{}, err
	}

	client, err := source.NewClientset(opts.kubeconfig)
	if err != nil {
		return runner.Report{}, fmt.Errorf("building kubernetes client: %w", err)
	}
	kinds, err := cfg.WorkloadKinds()
	if err != nil {
		return runner.Report{}, err
	}
	src := source.NewKubeSource(client, kinds)

	var sinks []sink.AlertSink
	if !cfg.DryRun {
		sinks = append(sinks, pagerduty.NewPublisher(
			cfg.PagerDuty.Endpoint, cfg.PagerDuty.RoutingKey, clusterID, version, logger))

		if cfg.PubSubTopic != "" {
			psPublisher, err := pubsub.NewPublisher(ctx, cfg.PubSubTopic, clusterID, version, logger)
			if err != nil {
				return runner.Report{}, fmt.Errorf("building pubsub publisher: %w", err)
			}
			defer psPublisher.Stop()
			sinks = append(sinks, psPublisher)
			logger.Info("pubsub mirror enabled", zap.String("topic", cfg.PubSubTopic))
		}
	}

	var workloadFilter *filter.WorkloadFilter
	if len(cfg.IncludeWorkloads) > 0 || len(cfg.ExcludeWorkloads) > 0 {
		workloadFilter = filter.NewWorkloadFilter(filter.WorkloadFilterConfig{
			Include: cfg.IncludeWorkloads,
			Exclude: cfg.ExcludeWorkloads,
		})
	}

	var recorder *metrics.Recorder
	if cfg.MetricsTextfile != "" {
		recorder = metrics.NewRecorder()
	}

	r := runner.New(
		runner.Options{
			Namespaces:       cfg.Namespaces,
			GracePeriod:      cfg.GracePeriod.Std(),
			StaleRetention:   cfg.StaleRetention.Std(),
			FetchTimeout:     cfg.FetchTimeout.Std(),
			FetchConcurrency: cfg.FetchConcurrency,
			DeliveryTimeout:  cfg.DeliveryTimeout.Std(),
			MetricsTextfile:  cfg.MetricsTextfile,
			DryRun:           cfg.DryRun,
		},
		store.NewFileStore(cfg.StatePath),
		src,
		sink.NewFanout(sinks...),
		workloadFilter,
		recorder,
		logger,
	)
	return r.RunOnce(ctx)
}

// resolveClusterID prefers the configured ID and falls back to cloud
// metadata. A dry run tolerates an unknown cluster; a real run does not,
// because the ID ends up in every incident payload.
func resolveClusterID(ctx context.Context, cfg *config.Config, logger *zap.Logger) (string, error) {
	if cfg.ClusterID != "" {
		return cfg.ClusterID, nil
	}

	identity, err := cluster.NewResolver(3 * time.Second).Resolve(ctx)
	if err == nil {
		logger.Info("cluster identity resolved from metadata", zap.String("clusterID", identity.ID))
		return identity.ID, nil
	}
	if cfg.DryRun {
		logger.Warn("cluster identity not resolvable, using placeholder", zap.Error(err))
		return "unknown-cluster", nil
	}
	return "", fmt.Errorf("cluster ID is not configured and could not be resolved from metadata (set clusterID or CLUSTER_ID): %w", err)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
