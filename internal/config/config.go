// Package config defines service configuration structures and loading hooks.
//
// Configuration is versioned and injected: nothing in the service reads
// globals or environment variables directly.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/repairflow/internal/domain/escalation"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/scoring"
	"github.com/okian/repairflow/internal/domain/sla"
)

// CurrentVersion is the configuration schema version this build understands.
const CurrentVersion = 1

// Config contains process configuration.
type Config struct {
	// Version of the configuration layout.
	Version int `koanf:"version"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	HTTP       HTTPConfig       `koanf:"http"`
	Service    ServiceConfig    `koanf:"service"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	SLA        SLAConfig        `koanf:"sla"`
	Escalation EscalationConfig `koanf:"escalation"`
	Store      StoreConfig      `koanf:"store"`
	Notify     NotifyConfig     `koanf:"notify"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RetryAttempts bounds retries of retryable service errors.
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryInitial  time.Duration `koanf:"retry_initial"`
	RetryMax      time.Duration `koanf:"retry_max"`
}

// ServiceConfig configures the job lifecycle service.
type ServiceConfig struct {
	// Shards is the number of per-job command workers.
	Shards int `koanf:"shards"`
	// QueueCapacity bounds each shard queue.
	QueueCapacity int `koanf:"queue_capacity"`
	// MaxRework caps QC failures before a job is escalated.
	MaxRework int `koanf:"max_rework"`
	// AssignOnEscalation requests a technician when an unassigned job escalates.
	AssignOnEscalation bool `koanf:"assign_on_escalation"`
	// DedupeSize bounds the outcome ledger.
	DedupeSize int `koanf:"dedupe_size"`
	// DefaultEstimatedHours is used for jobs created without an estimate.
	DefaultEstimatedHours float64 `koanf:"default_estimated_hours"`
}

// ScoringConfig configures technician scoring and ranking.
type ScoringConfig struct {
	Weights          scoring.Weights `koanf:"weights"`
	Tiers            scoring.Tiers   `koanf:"tiers"`
	MaxTravelKm      float64         `koanf:"max_travel_km"`
	WorkloadCapacity int             `koanf:"workload_capacity"`
	WorkloadExponent float64         `koanf:"workload_exponent"`
	ResponseGrace    time.Duration   `koanf:"response_grace"`
	Concurrency      int             `koanf:"concurrency"`
	MaxAlternatives  int             `koanf:"max_alternatives"`
	ConfidenceSpread float64         `koanf:"confidence_spread"`
}

// SLAConfig holds overrides of the built-in SLA tables, keyed by enum name
// (case-insensitive). Missing entries keep their defaults.
type SLAConfig struct {
	Response       map[string]time.Duration `koanf:"response"`
	Completion     map[string]time.Duration `koanf:"completion"`
	StateThreshold map[string]time.Duration `koanf:"state_threshold"`
	PriorityFactor map[string]float64       `koanf:"priority_factor"`
	TierFactor     map[string]float64       `koanf:"tier_factor"`
}

// EscalationConfig configures the escalation ladder and sweep.
type EscalationConfig struct {
	Levels        []escalation.Level `koanf:"levels"`
	SweepInterval time.Duration      `koanf:"sweep_interval"`
}

// StoreConfig selects and tunes the job/technician store.
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver  string        `koanf:"driver"`
	DSN     string        `koanf:"dsn"`
	Timeout time.Duration `koanf:"timeout"`
	// RosterPath optionally seeds technicians from a YAML file at startup.
	RosterPath string `koanf:"roster_path"`
}

// NotifyConfig configures escalation delivery.
type NotifyConfig struct {
	// WebhookURL, when set, receives escalations as JSON posts.
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// MetricsConfig controls Prometheus collection.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
	// RefreshInterval paces store and process gauge updates.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// New creates a Config with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		Version:   CurrentVersion,
		LogLevel:  "info",
		LogFormat: "text",
		HTTP: HTTPConfig{
			Addr:            ":9080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RetryAttempts:   3,
			RetryInitial:    25 * time.Millisecond,
			RetryMax:        500 * time.Millisecond,
		},
		Service: ServiceConfig{
			Shards:        runtime.NumCPU(),
			QueueCapacity: 1024,
			MaxRework:     3,
			DedupeSize:    100_000,

			DefaultEstimatedHours: 2,
		},
		Scoring: ScoringConfig{
			Weights:          scoring.DefaultWeights(),
			Tiers:            scoring.DefaultTiers(),
			MaxTravelKm:      50,
			WorkloadCapacity: 8,
			WorkloadExponent: 2,
			ResponseGrace:    time.Hour,
			Concurrency:      8,
			MaxAlternatives:  3,
			ConfidenceSpread: 25,
		},
		Escalation: EscalationConfig{
			Levels:        escalation.DefaultLevels(),
			SweepInterval: time.Minute,
		},
		Store: StoreConfig{
			Driver:  "memory",
			Timeout: 2 * time.Second,
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			RefreshInterval: 10 * time.Second,
		},
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidConfig, c.Version)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http.addr must not be empty", ErrInvalidConfig)
	}
	if c.Service.Shards < 1 || c.Service.QueueCapacity < 1 {
		return fmt.Errorf("%w: service shards and queue_capacity must be positive", ErrInvalidConfig)
	}
	if c.Service.DefaultEstimatedHours <= 0 {
		return fmt.Errorf("%w: service.default_estimated_hours must be positive", ErrInvalidConfig)
	}
	if c.Service.MaxRework < 1 {
		return fmt.Errorf("%w: service.max_rework must be at least 1", ErrInvalidConfig)
	}
	if err := c.Scoring.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for name, d := range map[string]time.Duration{
		"store.timeout":             c.Store.Timeout,
		"notify.timeout":            c.Notify.Timeout,
		"escalation.sweep_interval": c.Escalation.SweepInterval,
		"scoring.response_grace":    c.Scoring.ResponseGrace,
		"metrics.refresh_interval":  c.Metrics.RefreshInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if err := escalation.ValidateLevels(c.Escalation.Levels); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.SLA.Policy(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for %s", ErrInvalidConfig, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	return nil
}

// Policy overlays the configured entries on sla.DefaultPolicy and validates the result.
func (s SLAConfig) Policy() (sla.Policy, error) {
	p := sla.DefaultPolicy()
	if err := parseKeys(s.Response, p.Response, model.ParsePriority); err != nil {
		return sla.Policy{}, err
	}
	if err := parseKeys(s.Completion, p.Completion, model.ParsePriority); err != nil {
		return sla.Policy{}, err
	}
	if err := parseKeys(s.StateThreshold, p.StateThreshold, model.ParseState); err != nil {
		return sla.Policy{}, err
	}
	if err := parseKeys(s.PriorityFactor, p.PriorityFactor, model.ParsePriority); err != nil {
		return sla.Policy{}, err
	}
	if err := parseKeys(s.TierFactor, p.TierFactor, model.ParseCustomerTier); err != nil {
		return sla.Policy{}, err
	}
	if err := p.Validate(); err != nil {
		return sla.Policy{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

func parseKeys[K ~string, V any](in map[string]V, out map[K]V, parse func(string) (K, error)) error {
	for k, v := range in {
		key, err := parse(k)
		if err != nil {
			return fmt.Errorf("%w: sla: %w", ErrInvalidConfig, err)
		}
		out[key] = v
	}
	return nil
}
