// Package config loads the sentinel's configuration once at the process
// boundary. The core packages only ever see the resulting immutable struct;
// nothing inside the decision logic reads files or environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apptrail-sh/replica-sentinel/internal/model"
)

// Duration wraps time.Duration so YAML values like "2m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PagerDutyConfig holds the Events v2 destination. The routing key is a
// secret and is normally injected via PAGERDUTY_ROUTING_KEY rather than the
// config file.
type PagerDutyConfig struct {
	Endpoint   string `yaml:"endpoint"`
	RoutingKey string `yaml:"routingKey"`
}

// Config is the full invocation configuration.
type Config struct {
	// ClusterID identifies this cluster in alert payloads. Empty means
	// resolve it from cloud metadata at startup.
	ClusterID string `yaml:"clusterID"`

	// Namespaces is the ordered allow-list of monitored namespaces.
	Namespaces []string `yaml:"namespaces"`

	// Kinds restricts which workload kinds are observed. Empty means all.
	Kinds []string `yaml:"kinds"`

	// IncludeWorkloads / ExcludeWorkloads are glob patterns applied to
	// observed workloads within the allow-listed namespaces.
	IncludeWorkloads []string `yaml:"includeWorkloads"`
	ExcludeWorkloads []string `yaml:"excludeWorkloads"`

	// GracePeriod is the minimum continuous shortfall before an incident
	// is raised.
	GracePeriod Duration `yaml:"gracePeriod"`

	// StaleRetention is how long a record for a workload that has vanished
	// from the cluster is kept before being pruned.
	StaleRetention Duration `yaml:"staleRetention"`

	// StatePath is the persisted state file location.
	StatePath string `yaml:"statePath"`

	FetchTimeout     Duration `yaml:"fetchTimeout"`
	FetchConcurrency int      `yaml:"fetchConcurrency"`
	DeliveryTimeout  Duration `yaml:"deliveryTimeout"`

	PagerDuty PagerDutyConfig `yaml:"pagerduty"`

	// PubSubTopic optionally mirrors incident events to a Pub/Sub topic
	// (projects/<project>/topics/<topic>).
	PubSubTopic string `yaml:"pubsubTopic"`

	// MetricsTextfile optionally exports run metrics for the node-exporter
	// textfile collector.
	MetricsTextfile string `yaml:"metricsTextfile"`

	// DryRun computes and logs decisions without delivering or committing.
	DryRun bool `yaml:"dryRun"`
}

// Load reads the YAML config file, applies environment overrides for
// secrets, fills defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PAGERDUTY_ROUTING_KEY"); v != "" {
		c.PagerDuty.RoutingKey = v
	}
	if v := os.Getenv("PUBSUB_TOPIC"); v != "" {
		c.PubSubTopic = v
	}
	if v := os.Getenv("CLUSTER_ID"); v != "" {
		c.ClusterID = v
	}
}

func (c *Config) applyDefaults() {
	if c.GracePeriod == 0 {
		c.GracePeriod = Duration(2 * time.Minute)
	}
	if c.StaleRetention == 0 {
		c.StaleRetention = Duration(24 * time.Hour)
	}
	if c.StatePath == "" {
		c.StatePath = "/var/lib/replica-sentinel/state.json"
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = Duration(30 * time.Second)
	}
	if c.FetchConcurrency == 0 {
		c.FetchConcurrency = 4
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = Duration(30 * time.Second)
	}
	if len(c.Kinds) == 0 {
		for _, k := range model.AllWorkloadKinds {
			c.Kinds = append(c.Kinds, string(k))
		}
	}
}

// Validate checks the configuration before a run starts.
func (c *Config) Validate() error {
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("config: at least one namespace must be allow-listed")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("config: gracePeriod must not be negative")
	}
	if _, err := c.WorkloadKinds(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !c.DryRun && c.PagerDuty.RoutingKey == "" {
		return fmt.Errorf("config: pagerduty routing key is required (set PAGERDUTY_ROUTING_KEY)")
	}
	return nil
}

// WorkloadKinds parses the configured kind names.
func (c *Config) WorkloadKinds() ([]model.WorkloadKind, error) {
	kinds := make([]model.WorkloadKind, 0, len(c.Kinds))
	for _, s := range c.Kinds {
		k, err := model.ParseWorkloadKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
