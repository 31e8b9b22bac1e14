// Package config loads engine configuration from YAML with environment
// overrides.
//
// Resolution order: built-in defaults, then the YAML file (if given), then
// MUNINN_* environment variables. Every tuning constant in the engine is
// reachable here so deployments can adjust behavior without rebuilding.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/muninn/pkg/activation"
	"github.com/orneryd/muninn/pkg/fusion"
	"github.com/orneryd/muninn/pkg/hebbian"
	"github.com/orneryd/muninn/pkg/inhibit"
	"github.com/orneryd/muninn/pkg/query"
	"github.com/orneryd/muninn/pkg/querycache"
)

// Config is the full engine configuration.
type Config struct {
	// DataDir is where snapshots persist. Empty runs memory-only.
	DataDir string `yaml:"data_dir"`

	Activation  ActivationConfig  `yaml:"activation"`
	Fusion      FusionConfig      `yaml:"fusion"`
	Hebbian     HebbianConfig     `yaml:"hebbian"`
	Inhibition  InhibitionConfig  `yaml:"inhibition"`
	Cache       CacheConfig       `yaml:"cache"`
	Query       QueryConfig       `yaml:"query"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type ActivationConfig struct {
	Epsilon             float64 `yaml:"epsilon"`
	ActivationWeight    float64 `yaml:"activation_weight"`
	ConfidenceWeight    float64 `yaml:"confidence_weight"`
	ExactMatchScore     float64 `yaml:"exact_match_score"`
	PrefixMatchScore    float64 `yaml:"prefix_match_score"`
	PathSuffixScore     float64 `yaml:"path_suffix_score"`
	SubstringMatchScore float64 `yaml:"substring_match_score"`
}

type FusionConfig struct {
	ConflictThreshold float64 `yaml:"conflict_threshold"`
	ConflictPenalty   float64 `yaml:"conflict_penalty"`
}

type HebbianConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	DecayRate    float64 `yaml:"decay_rate"`
	PruneEpsilon float64 `yaml:"prune_epsilon"`
}

type InhibitionConfig struct {
	InitialStrength      float64 `yaml:"initial_strength"`
	ReinforceRate        float64 `yaml:"reinforce_rate"`
	ReinforceThreshold   float64 `yaml:"reinforce_threshold"`
	Floor                float64 `yaml:"floor"`
	DecayRate            float64 `yaml:"decay_rate"`
	PruneEpsilon         float64 `yaml:"prune_epsilon"`
	PatternNodeThreshold int     `yaml:"pattern_node_threshold"`
}

type CacheConfig struct {
	MaxEntries     int           `yaml:"max_entries"`
	MaxMemoryBytes int64         `yaml:"max_memory_bytes"`
	TTL            time.Duration `yaml:"ttl"`
}

type QueryConfig struct {
	DefaultLimit          int           `yaml:"default_limit"`
	ActivationLevels      int           `yaml:"activation_levels"`
	Decay                 float64       `yaml:"decay"`
	CoOccurrenceThreshold float64       `yaml:"co_occurrence_threshold"`
	AnalyzeTimeout        time.Duration `yaml:"analyze_timeout"`
	MaxLimit              int           `yaml:"max_limit"`
}

type MaintenanceConfig struct {
	// DecayInterval is how often Hebbian and inhibitory decay run.
	DecayInterval time.Duration `yaml:"decay_interval"`
	// PersistInterval is how often a snapshot is written. Zero persists
	// only on Close.
	PersistInterval time.Duration `yaml:"persist_interval"`
}

// Default returns the documented production defaults.
func Default() *Config {
	act := activation.DefaultConfig()
	fus := fusion.DefaultConfig()
	heb := hebbian.DefaultConfig()
	inh := inhibit.DefaultConfig()
	cache := querycache.DefaultConfig()
	q := query.DefaultConfig()
	opts := query.DefaultOptions()

	return &Config{
		Activation: ActivationConfig{
			Epsilon:             act.Epsilon,
			ActivationWeight:    act.ActivationWeight,
			ConfidenceWeight:    act.ConfidenceWeight,
			ExactMatchScore:     act.ExactMatchScore,
			PrefixMatchScore:    act.PrefixMatchScore,
			PathSuffixScore:     act.PathSuffixScore,
			SubstringMatchScore: act.SubstringMatchScore,
		},
		Fusion: FusionConfig{
			ConflictThreshold: fus.ConflictThreshold,
			ConflictPenalty:   fus.ConflictPenalty,
		},
		Hebbian: HebbianConfig{
			LearningRate: heb.LearningRate,
			DecayRate:    heb.DecayRate,
			PruneEpsilon: heb.PruneEpsilon,
		},
		Inhibition: InhibitionConfig{
			InitialStrength:      inh.InitialStrength,
			ReinforceRate:        inh.ReinforceRate,
			ReinforceThreshold:   inh.ReinforceThreshold,
			Floor:                inh.Floor,
			DecayRate:            inh.DecayRate,
			PruneEpsilon:         inh.PruneEpsilon,
			PatternNodeThreshold: inh.PatternNodeThreshold,
		},
		Cache: CacheConfig{
			MaxEntries:     cache.MaxEntries,
			MaxMemoryBytes: cache.MaxMemoryBytes,
			TTL:            cache.TTL,
		},
		Query: QueryConfig{
			DefaultLimit:          opts.Limit,
			ActivationLevels:      opts.ActivationLevels,
			Decay:                 opts.Decay,
			CoOccurrenceThreshold: q.CoOccurrenceThreshold,
			AnalyzeTimeout:        q.AnalyzeTimeout,
			MaxLimit:              q.MaxLimit,
		},
		Maintenance: MaintenanceConfig{
			DecayInterval:   time.Hour,
			PersistInterval: 5 * time.Minute,
		},
	}
}

// Load builds configuration from defaults, an optional YAML file, and
// MUNINN_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MUNINN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	envInt("MUNINN_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	envInt64("MUNINN_CACHE_MAX_MEMORY_BYTES", &c.Cache.MaxMemoryBytes)
	envDuration("MUNINN_CACHE_TTL", &c.Cache.TTL)
	envFloat("MUNINN_HEBBIAN_LEARNING_RATE", &c.Hebbian.LearningRate)
	envFloat("MUNINN_HEBBIAN_DECAY_RATE", &c.Hebbian.DecayRate)
	envFloat("MUNINN_INHIBITION_INITIAL_STRENGTH", &c.Inhibition.InitialStrength)
	envInt("MUNINN_QUERY_DEFAULT_LIMIT", &c.Query.DefaultLimit)
	envInt("MUNINN_QUERY_ACTIVATION_LEVELS", &c.Query.ActivationLevels)
	envFloat("MUNINN_QUERY_DECAY", &c.Query.Decay)
	envDuration("MUNINN_ANALYZE_TIMEOUT", &c.Query.AnalyzeTimeout)
	envDuration("MUNINN_DECAY_INTERVAL", &c.Maintenance.DecayInterval)
	envDuration("MUNINN_PERSIST_INTERVAL", &c.Maintenance.PersistInterval)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	checks := []struct {
		ok   bool
		what string
	}{
		{c.Activation.Epsilon > 0, "activation.epsilon must be positive"},
		{c.Activation.ActivationWeight >= 0 && c.Activation.ConfidenceWeight >= 0, "activation weights must be non-negative"},
		{c.Hebbian.LearningRate > 0 && c.Hebbian.LearningRate <= 1, "hebbian.learning_rate must be in (0,1]"},
		{c.Hebbian.DecayRate >= 0 && c.Hebbian.DecayRate < 1, "hebbian.decay_rate must be in [0,1)"},
		{c.Inhibition.InitialStrength > 0 && c.Inhibition.InitialStrength <= 1, "inhibition.initial_strength must be in (0,1]"},
		{c.Inhibition.ReinforceThreshold > 0 && c.Inhibition.ReinforceThreshold <= 1, "inhibition.reinforce_threshold must be in (0,1]"},
		{c.Cache.MaxEntries > 0, "cache.max_entries must be positive"},
		{c.Query.DefaultLimit > 0, "query.default_limit must be positive"},
		{c.Query.ActivationLevels > 0, "query.activation_levels must be positive"},
		{c.Query.Decay > 0 && c.Query.Decay <= 1, "query.decay must be in (0,1]"},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("config: %s", check.what)
		}
	}
	return nil
}

// ActivationSettings converts to the activation subsystem config.
func (c *Config) ActivationSettings() activation.Config {
	return activation.Config{
		Epsilon:             c.Activation.Epsilon,
		ActivationWeight:    c.Activation.ActivationWeight,
		ConfidenceWeight:    c.Activation.ConfidenceWeight,
		ExactMatchScore:     c.Activation.ExactMatchScore,
		PrefixMatchScore:    c.Activation.PrefixMatchScore,
		PathSuffixScore:     c.Activation.PathSuffixScore,
		SubstringMatchScore: c.Activation.SubstringMatchScore,
	}
}

func (c *Config) FusionSettings() fusion.Config {
	return fusion.Config{
		ConflictThreshold: c.Fusion.ConflictThreshold,
		ConflictPenalty:   c.Fusion.ConflictPenalty,
	}
}

func (c *Config) HebbianSettings() hebbian.Config {
	return hebbian.Config{
		LearningRate: c.Hebbian.LearningRate,
		DecayRate:    c.Hebbian.DecayRate,
		PruneEpsilon: c.Hebbian.PruneEpsilon,
	}
}

func (c *Config) InhibitionSettings() inhibit.Config {
	return inhibit.Config{
		InitialStrength:      c.Inhibition.InitialStrength,
		ReinforceRate:        c.Inhibition.ReinforceRate,
		ReinforceThreshold:   c.Inhibition.ReinforceThreshold,
		Floor:                c.Inhibition.Floor,
		DecayRate:            c.Inhibition.DecayRate,
		PruneEpsilon:         c.Inhibition.PruneEpsilon,
		PatternNodeThreshold: c.Inhibition.PatternNodeThreshold,
	}
}

func (c *Config) CacheSettings() querycache.Config {
	return querycache.Config{
		MaxEntries:     c.Cache.MaxEntries,
		MaxMemoryBytes: c.Cache.MaxMemoryBytes,
		TTL:            c.Cache.TTL,
	}
}

func (c *Config) QuerySettings() query.Config {
	return query.Config{
		CoOccurrenceThreshold: c.Query.CoOccurrenceThreshold,
		AnalyzeTimeout:        c.Query.AnalyzeTimeout,
		MaxLimit:              c.Query.MaxLimit,
	}
}

// QueryOptions returns the default per-query options under this config.
func (c *Config) QueryOptions() query.Options {
	opts := query.DefaultOptions()
	opts.Limit = c.Query.DefaultLimit
	opts.ActivationLevels = c.Query.ActivationLevels
	opts.Decay = c.Query.Decay
	return opts
}
