// Package config loads lineage run configuration from YAML files and
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/lineage/internal/simplify"
	"github.com/nvandessel/lineage/internal/simulation"
)

// DefaultFile is read by Load when no path is given and it exists in the
// working directory.
const DefaultFile = "lineage.yaml"

// ErrCadenceMisconfigured is returned by Validate for a non-positive
// compaction cadence.
var ErrCadenceMisconfigured = simulation.ErrCadenceMisconfigured

// LineageConfig contains all settings for a run.
type LineageConfig struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Simplify   SimplifyConfig   `json:"simplify" yaml:"simplify"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Output     OutputConfig     `json:"output" yaml:"output"`
}

// SimulationConfig describes the population and genome.
type SimulationConfig struct {
	CohortSize        int     `json:"cohort_size" yaml:"cohort_size" validate:"gt=0"`
	Ploidy            int     `json:"ploidy" yaml:"ploidy" validate:"gte=1"`
	Generations       int     `json:"generations" yaml:"generations" validate:"gte=0"`
	SequenceLength    float64 `json:"sequence_length" yaml:"sequence_length" validate:"gt=0"`
	RecombinationRate float64 `json:"recombination_rate" yaml:"recombination_rate" validate:"gte=0"`
	// IntegerSites places crossovers on whole sites only.
	IntegerSites bool `json:"integer_sites" yaml:"integer_sites"`
	// Mating is "random" (selfing allowed) or "outcrossing".
	Mating string `json:"mating" yaml:"mating" validate:"oneof=random outcrossing"`
	Seed   uint64 `json:"seed" yaml:"seed"`
}

// SimplifyConfig controls compaction.
type SimplifyConfig struct {
	Cadence        Cadence `json:"cadence" yaml:"cadence"`
	KeepUnary      bool    `json:"keep_unary" yaml:"keep_unary"`
	KeepInputRoots bool    `json:"keep_input_roots" yaml:"keep_input_roots"`
	// RetainAllNodes prunes edges only; the node table keeps every row.
	RetainAllNodes bool `json:"retain_all_nodes" yaml:"retain_all_nodes"`
}

// LoggingConfig configures log verbosity: "info" (default), "debug" or
// "trace". Debug and trace also write compactions.jsonl to the output dir.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=info debug trace"`
}

// OutputConfig says where results go.
type OutputConfig struct {
	Dir     string   `json:"dir" yaml:"dir" validate:"required"`
	Formats []string `json:"formats" yaml:"formats" validate:"dive,oneof=sqlite jsonl"`
	// CheckpointDir receives a snapshot after every compaction. Empty
	// disables checkpoints.
	CheckpointDir  string `json:"checkpoint_dir,omitempty" yaml:"checkpoint_dir,omitempty"`
	CheckpointKeep int    `json:"checkpoint_keep" yaml:"checkpoint_keep" validate:"gte=0"`
	MetricsFile    string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
}

// Cadence is a compaction interval in generations, or final-only.
// In YAML it is a positive integer or one of "final-only" and "never".
type Cadence struct {
	Every     int
	FinalOnly bool
}

// ParseCadence parses "final-only", "never" or a decimal interval.
func ParseCadence(s string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "final-only", "final", "never":
		return Cadence{FinalOnly: true}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Cadence{}, fmt.Errorf("%w: %q is neither an integer nor final-only/never", ErrCadenceMisconfigured, s)
	}
	return Cadence{Every: n}, nil
}

func (c Cadence) String() string {
	if c.FinalOnly {
		return "final-only"
	}
	return strconv.Itoa(c.Every)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Cadence) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: cadence must be a scalar", value.Line)
	}
	parsed, err := ParseCadence(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*c = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Cadence) MarshalYAML() (any, error) {
	if c.FinalOnly {
		return "final-only", nil
	}
	return c.Every, nil
}

// MarshalJSON implements json.Marshaler.
func (c Cadence) MarshalJSON() ([]byte, error) {
	if c.FinalOnly {
		return json.Marshal("final-only")
	}
	return json.Marshal(c.Every)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Cadence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("cadence: %w", err)
		}
		*c = Cadence{Every: n}
		return nil
	}
	parsed, err := ParseCadence(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Default returns a LineageConfig with sensible defaults.
func Default() *LineageConfig {
	return &LineageConfig{
		Simulation: SimulationConfig{
			CohortSize:        100,
			Ploidy:            2,
			Generations:       1000,
			SequenceLength:    1e6,
			RecombinationRate: 1e-8,
			Mating:            "random",
			Seed:              1,
		},
		Simplify: SimplifyConfig{
			Cadence: Cadence{Every: 100},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Output: OutputConfig{
			Dir:            "out",
			Formats:        []string{"sqlite"},
			CheckpointKeep: 5,
		},
	}
}

// Load reads path, or DefaultFile when path is empty and the file exists,
// then applies environment overrides.
// Order: defaults -> file -> environment variables.
func Load(path string) (*LineageConfig, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileConfig
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*LineageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Output.Dir = os.ExpandEnv(cfg.Output.Dir)
	cfg.Output.CheckpointDir = os.ExpandEnv(cfg.Output.CheckpointDir)
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the compaction cadence.
func (c *LineageConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %v fails %q", fe.Namespace(), fe.Value(), fieldRule(fe))
		}
		return fmt.Errorf("validating config: %w", err)
	}
	if !c.Simplify.Cadence.FinalOnly && c.Simplify.Cadence.Every <= 0 {
		return fmt.Errorf("%w: cadence must be a positive number of generations or final-only, got %d",
			ErrCadenceMisconfigured, c.Simplify.Cadence.Every)
	}
	return nil
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Driver returns the simulation settings in the form the driver takes.
func (c *LineageConfig) Driver() simulation.Config {
	return simulation.Config{
		CohortSize:        c.Simulation.CohortSize,
		Ploidy:            c.Simulation.Ploidy,
		Generations:       c.Simulation.Generations,
		SequenceLength:    c.Simulation.SequenceLength,
		RecombinationRate: c.Simulation.RecombinationRate,
		IntegerSites:      c.Simulation.IntegerSites,
		Seed:              c.Simulation.Seed,
		Cadence: simulation.Cadence{
			Every:     c.Simplify.Cadence.Every,
			FinalOnly: c.Simplify.Cadence.FinalOnly,
		},
		Simplify: c.SimplifyOptions(),
	}
}

// SimplifyOptions returns the node retention flags.
func (c *LineageConfig) SimplifyOptions() simplify.Options {
	return simplify.Options{
		KeepUnary:      c.Simplify.KeepUnary,
		KeepInputRoots: c.Simplify.KeepInputRoots,
		RetainAllNodes: c.Simplify.RetainAllNodes,
	}
}

// HasFormat reports whether output format f is enabled.
func (c *LineageConfig) HasFormat(f string) bool {
	for _, have := range c.Output.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies LINEAGE_* environment variables. Malformed
// values are errors.
func applyEnvOverrides(cfg *LineageConfig) error {
	if v := os.Getenv("LINEAGE_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("LINEAGE_SEED: %w", err)
		}
		cfg.Simulation.Seed = n
	}
	if v := os.Getenv("LINEAGE_COHORT_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LINEAGE_COHORT_SIZE: %w", err)
		}
		cfg.Simulation.CohortSize = n
	}
	if v := os.Getenv("LINEAGE_GENERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LINEAGE_GENERATIONS: %w", err)
		}
		cfg.Simulation.Generations = n
	}
	if v := os.Getenv("LINEAGE_RECOMBINATION_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LINEAGE_RECOMBINATION_RATE: %w", err)
		}
		cfg.Simulation.RecombinationRate = f
	}
	if v := os.Getenv("LINEAGE_CADENCE"); v != "" {
		c, err := ParseCadence(v)
		if err != nil {
			return fmt.Errorf("LINEAGE_CADENCE: %w", err)
		}
		cfg.Simplify.Cadence = c
	}
	if v := os.Getenv("LINEAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LINEAGE_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	return nil
}
