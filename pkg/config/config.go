// Package config loads and validates the decay/maintenance configuration
// that drives the memory lifecycle subsystem.
package config

import (
	"fmt"
	"log"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Threshold holds the days/decay_score/max_importance gate for one
// lifecycle transition target.
type Threshold struct {
	Days          float64 `yaml:"days"`
	DecayScore    float64 `yaml:"decay_score"`
	MaxImportance int     `yaml:"max_importance,omitempty"`
}

// Thresholds is the dormant/archived/expired transition table.
type Thresholds struct {
	Dormant  Threshold `yaml:"dormant"`
	Archived Threshold `yaml:"archived"`
	Expired  Threshold `yaml:"expired"`
}

// SearchWeights is the semantic/recency/importance re-rank blend; must sum to 1.0.
type SearchWeights struct {
	Semantic   float64 `yaml:"semantic"`
	Recency    float64 `yaml:"recency"`
	Importance float64 `yaml:"importance"`
}

// Retention controls soft-delete recovery window.
type Retention struct {
	SoftDeleteDays int `yaml:"soft_delete_days"`
	// ResetAccessCountOnRecovery decides whether access_count is zeroed when a
	// SOFT_DELETED node is recovered back to ARCHIVED. Spec leaves this
	// unspecified; default false (preserve history).
	ResetAccessCountOnRecovery bool `yaml:"reset_access_count_on_recovery"`
}

// Maintenance controls the batched orchestrator's pacing.
type Maintenance struct {
	BatchSize         int `yaml:"batch_size"`
	MaxDurationSeconds int `yaml:"max_duration_seconds"`
	ClassifyChunkSize int `yaml:"classify_chunk_size"`
}

// Decay is the top-level decay.* YAML section.
type Decay struct {
	BaseHalfLifeDays int           `yaml:"base_half_life_days"`
	Thresholds       Thresholds    `yaml:"thresholds"`
	Retention        Retention     `yaml:"retention"`
	SearchWeights    SearchWeights `yaml:"search_weights"`
	RecencyTauDays   float64       `yaml:"recency_tau_days"`
}

// LLM selects and configures the classifier's completion backend. An empty
// Provider is a valid, explicit choice: pkg/llm.NewFromConfig then returns a
// nil client and the classifier runs in permanent fallback mode.
type LLM struct {
	Provider  string `yaml:"provider"` // "", "openai", or "ollama"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"` // env var holding the provider API key
}

// Tracing configures the sanitized per-operation trace exporter. An empty
// FilePath is a valid, explicit choice: pkg/trace.NewFileExporter("") (and
// the non-tracing build's stub) both return a no-op exporter.
type Tracing struct {
	FilePath string `yaml:"file_path"`
}

// Config is the full decay maintenance configuration file.
type Config struct {
	Decay       Decay       `yaml:"decay"`
	Maintenance Maintenance `yaml:"maintenance"`
	LLM         LLM         `yaml:"llm"`
	Tracing     Tracing     `yaml:"tracing"`
}

// Defaults returns the hard-coded configuration used whenever a file is
// missing, malformed, or carries an out-of-range value.
func Defaults() *Config {
	return &Config{
		Decay: Decay{
			BaseHalfLifeDays: 180,
			Thresholds: Thresholds{
				Dormant:  Threshold{Days: 30, DecayScore: 0.3},
				Archived: Threshold{Days: 90, DecayScore: 0.5},
				Expired:  Threshold{Days: 180, DecayScore: 0.7, MaxImportance: 2},
			},
			Retention: Retention{
				SoftDeleteDays:             90,
				ResetAccessCountOnRecovery: false,
			},
			SearchWeights: SearchWeights{Semantic: 0.6, Recency: 0.2, Importance: 0.2},
			RecencyTauDays: 30,
		},
		Maintenance: Maintenance{
			BatchSize:          500,
			MaxDurationSeconds: 600,
			ClassifyChunkSize:  100,
		},
		LLM: LLM{
			Provider: "",
			Model:    "gpt-4o-mini",
		},
		Tracing: Tracing{
			FilePath: "",
		},
	}
}

const weightSumTolerance = 1e-6

// Load reads and validates the YAML file at path. It never returns an error
// to a caller that only wants a usable config: on a missing file, malformed
// YAML, or an out-of-range field, it logs a warning and substitutes the
// default for that field (or the whole document) while still returning a
// consistent Config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("memlife: config file %q not found, using defaults", path)
			return cfg, nil
		}
		log.Printf("memlife: failed to read config file %q: %v, using defaults", path, err)
		return cfg, nil
	}

	loaded := Defaults()
	if err := yaml.Unmarshal(raw, loaded); err != nil {
		log.Printf("memlife: malformed config YAML in %q: %v, using defaults", path, err)
		return cfg, nil
	}

	sanitize(loaded)
	return loaded, nil
}

// MustLoad loads path, always returning a usable Config (see Load). It exists
// for call sites that have already decided a degraded config is acceptable
// and do not want to handle an error value that Load never actually produces.
func MustLoad(path string) *Config {
	cfg, _ := Load(path)
	return cfg
}

// Validate reports every field that fails validation without mutating the
// config; useful for health/status surfaces that want to report a degraded
// configuration without re-deriving the defaulting logic.
func (c *Config) Validate() []error {
	var errs []error
	d := c.Decay

	if d.BaseHalfLifeDays <= 0 {
		errs = append(errs, fmt.Errorf("decay.base_half_life_days must be positive, got %d", d.BaseHalfLifeDays))
	}
	if !(d.Thresholds.Dormant.Days < d.Thresholds.Archived.Days && d.Thresholds.Archived.Days < d.Thresholds.Expired.Days) {
		errs = append(errs, fmt.Errorf("decay.thresholds.*.days must be strictly increasing (dormant < archived < expired)"))
	}
	if !(d.Thresholds.Dormant.DecayScore < d.Thresholds.Archived.DecayScore && d.Thresholds.Archived.DecayScore < d.Thresholds.Expired.DecayScore) {
		errs = append(errs, fmt.Errorf("decay.thresholds.*.decay_score must be strictly increasing"))
	}
	sum := d.SearchWeights.Semantic + d.SearchWeights.Recency + d.SearchWeights.Importance
	if math.Abs(sum-1.0) > weightSumTolerance {
		errs = append(errs, fmt.Errorf("decay.search_weights must sum to 1.0 (+/- %g), got %g", weightSumTolerance, sum))
	}
	if d.Retention.SoftDeleteDays <= 0 {
		errs = append(errs, fmt.Errorf("decay.retention.soft_delete_days must be positive, got %d", d.Retention.SoftDeleteDays))
	}
	if c.Maintenance.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("maintenance.batch_size must be positive, got %d", c.Maintenance.BatchSize))
	}
	if c.Maintenance.MaxDurationSeconds <= 0 {
		errs = append(errs, fmt.Errorf("maintenance.max_duration_seconds must be positive, got %d", c.Maintenance.MaxDurationSeconds))
	}
	return errs
}

// sanitize replaces any individually out-of-range field with its default,
// logging each substitution. It never rejects the whole document over one
// bad field.
func sanitize(c *Config) {
	defaults := Defaults()

	if c.Decay.BaseHalfLifeDays <= 0 {
		log.Printf("memlife: decay.base_half_life_days must be positive, got %d, using default %d", c.Decay.BaseHalfLifeDays, defaults.Decay.BaseHalfLifeDays)
		c.Decay.BaseHalfLifeDays = defaults.Decay.BaseHalfLifeDays
	}

	if !(c.Decay.Thresholds.Dormant.Days < c.Decay.Thresholds.Archived.Days &&
		c.Decay.Thresholds.Archived.Days < c.Decay.Thresholds.Expired.Days) ||
		!(c.Decay.Thresholds.Dormant.DecayScore < c.Decay.Thresholds.Archived.DecayScore &&
			c.Decay.Thresholds.Archived.DecayScore < c.Decay.Thresholds.Expired.DecayScore) {
		log.Printf("memlife: decay.thresholds are non-monotonic, using defaults")
		c.Decay.Thresholds = defaults.Decay.Thresholds
	}

	sum := c.Decay.SearchWeights.Semantic + c.Decay.SearchWeights.Recency + c.Decay.SearchWeights.Importance
	if sum <= 0 || math.Abs(sum-1.0) > weightSumTolerance {
		log.Printf("memlife: decay.search_weights sum to %g, not 1.0, using defaults", sum)
		c.Decay.SearchWeights = defaults.Decay.SearchWeights
	}

	if c.Decay.Retention.SoftDeleteDays <= 0 {
		log.Printf("memlife: decay.retention.soft_delete_days must be positive, got %d, using default", c.Decay.Retention.SoftDeleteDays)
		c.Decay.Retention.SoftDeleteDays = defaults.Decay.Retention.SoftDeleteDays
	}

	if c.Decay.RecencyTauDays <= 0 {
		c.Decay.RecencyTauDays = defaults.Decay.RecencyTauDays
	}

	if c.Maintenance.BatchSize <= 0 {
		log.Printf("memlife: maintenance.batch_size must be positive, got %d, using default %d", c.Maintenance.BatchSize, defaults.Maintenance.BatchSize)
		c.Maintenance.BatchSize = defaults.Maintenance.BatchSize
	}
	if c.Maintenance.MaxDurationSeconds <= 0 {
		log.Printf("memlife: maintenance.max_duration_seconds must be positive, got %d, using default %d", c.Maintenance.MaxDurationSeconds, defaults.Maintenance.MaxDurationSeconds)
		c.Maintenance.MaxDurationSeconds = defaults.Maintenance.MaxDurationSeconds
	}
	if c.Maintenance.ClassifyChunkSize <= 0 {
		c.Maintenance.ClassifyChunkSize = defaults.Maintenance.ClassifyChunkSize
	}
}
