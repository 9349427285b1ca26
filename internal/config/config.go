// Package config provides unified run configuration loading. It
// supports YAML files and CVMANOVA_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes one full run: where the session matrices live, which
// analyses to evaluate, and how to regularize, permute and sweep.
type Config struct {
	Sessions       []SessionConfig      `yaml:"sessions"`
	Analyses       []AnalysisConfig     `yaml:"analyses"`
	Permutations   PermutationConfig    `yaml:"permutations"`
	Regularization RegularizationConfig `yaml:"regularization"`
	Searchlight    SearchlightConfig    `yaml:"searchlight"`
	Output         OutputConfig         `yaml:"output"`
}

// SessionConfig names one session's matrix files. DF zero means derive
// residual degrees of freedom from the design rank.
type SessionConfig struct {
	Data   string  `yaml:"data"`
	Design string  `yaml:"design"`
	DF     float64 `yaml:"df,omitempty"`
}

// AnalysisConfig describes one analysis. Contrast alone requests the
// self-validating form; Training and Validation together request the
// cross form. Folds defaults to leave-one-out; explicit fold matrices
// list, per fold, which sessions train and which validate.
type AnalysisConfig struct {
	Name       string      `yaml:"name,omitempty"`
	Contrast   [][]float64 `yaml:"contrast,omitempty"`
	Training   [][]float64 `yaml:"training_contrast,omitempty"`
	Validation [][]float64 `yaml:"validation_contrast,omitempty"`

	Folds              string   `yaml:"folds,omitempty"` // "leave-one-out" (default) or "explicit"
	TrainingSessions   [][]bool `yaml:"training_sessions,omitempty"`
	ValidationSessions [][]bool `yaml:"validation_sessions,omitempty"`
}

// PermutationConfig enables sign-permutation enrichment.
type PermutationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Max     int    `yaml:"max,omitempty"`
	Seed    uint64 `yaml:"seed,omitempty"`
}

// RegularizationConfig controls covariance shrinkage.
type RegularizationConfig struct {
	Lambda             float64 `yaml:"lambda"`
	Optimize           bool    `yaml:"optimize,omitempty"`
	ConditionThreshold float64 `yaml:"condition_threshold,omitempty"`
}

// SearchlightConfig describes the sweep geometry and scheduling. A zero
// Dims disables the searchlight; Mask empty means the full grid.
type SearchlightConfig struct {
	Radius             float64   `yaml:"radius"`
	Transform          []float64 `yaml:"transform,omitempty"` // 9 row-major entries
	Dims               [3]int    `yaml:"dims,omitempty"`
	Mask               string    `yaml:"mask,omitempty"`
	ChunkSize          int       `yaml:"chunk_size,omitempty"`
	Workers            int       `yaml:"workers,omitempty"`
	CheckpointDir      string    `yaml:"checkpoint_dir,omitempty"`
	CheckpointInterval string    `yaml:"checkpoint_interval,omitempty"`
}

// OutputConfig names result destinations.
type OutputConfig struct {
	Maps string `yaml:"maps,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Permutations: PermutationConfig{
			Enabled: false,
			Max:     1000,
			Seed:    42,
		},
		Regularization: RegularizationConfig{
			Lambda:             0,
			ConditionThreshold: 1000,
		},
		Searchlight: SearchlightConfig{
			ChunkSize:          64,
			Workers:            1,
			CheckpointDir:      ".cvmanova",
			CheckpointInterval: "30s",
		},
		Output: OutputConfig{
			Maps: "maps.csv",
		},
	}
}

// Load loads configuration from a YAML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file on top of
// the defaults, without overrides or validation.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Sessions) == 0 {
		return fmt.Errorf("sessions must list at least one data/design pair")
	}
	for k, s := range c.Sessions {
		if s.Data == "" || s.Design == "" {
			return fmt.Errorf("session %d needs both data and design paths", k)
		}
		if s.DF < 0 {
			return fmt.Errorf("session %d df must be non-negative, got %g", k, s.DF)
		}
	}

	if len(c.Analyses) == 0 {
		return fmt.Errorf("analyses must list at least one entry")
	}
	for i, a := range c.Analyses {
		if err := a.validate(len(c.Sessions)); err != nil {
			return fmt.Errorf("analysis %d (%s): %w", i, a.Label(i), err)
		}
	}

	if c.Permutations.Max < 1 {
		return fmt.Errorf("permutations.max must be at least 1, got %d", c.Permutations.Max)
	}
	if c.Regularization.Lambda < 0 || c.Regularization.Lambda > 1 {
		return fmt.Errorf("regularization.lambda must lie in [0,1], got %g", c.Regularization.Lambda)
	}
	if c.Regularization.ConditionThreshold < 0 {
		return fmt.Errorf("regularization.condition_threshold must be non-negative, got %g",
			c.Regularization.ConditionThreshold)
	}

	if c.Searchlight.Enabled() {
		if err := c.Searchlight.validate(); err != nil {
			return fmt.Errorf("searchlight: %w", err)
		}
	}
	return nil
}

func (a AnalysisConfig) validate(sessions int) error {
	hasSelf := len(a.Contrast) > 0
	hasCross := len(a.Training) > 0 || len(a.Validation) > 0
	switch {
	case hasSelf && hasCross:
		return fmt.Errorf("use either contrast or training/validation contrasts, not both")
	case hasSelf:
		if err := validateContrast("contrast", a.Contrast); err != nil {
			return err
		}
	case len(a.Training) > 0 && len(a.Validation) > 0:
		if err := validateContrast("training_contrast", a.Training); err != nil {
			return err
		}
		if err := validateContrast("validation_contrast", a.Validation); err != nil {
			return err
		}
	default:
		return fmt.Errorf("needs a contrast, or both training and validation contrasts")
	}

	switch a.Folds {
	case "", "leave-one-out":
		if len(a.TrainingSessions) > 0 || len(a.ValidationSessions) > 0 {
			return fmt.Errorf("fold matrices require folds: explicit")
		}
	case "explicit":
		if len(a.TrainingSessions) == 0 || len(a.ValidationSessions) == 0 {
			return fmt.Errorf("folds: explicit requires training_sessions and validation_sessions")
		}
		if len(a.TrainingSessions) != len(a.ValidationSessions) {
			return fmt.Errorf("training_sessions and validation_sessions must have the same fold count")
		}
		for l, row := range a.TrainingSessions {
			if len(row) != sessions || len(a.ValidationSessions[l]) != sessions {
				return fmt.Errorf("fold %d must flag all %d sessions", l, sessions)
			}
		}
	default:
		return fmt.Errorf("folds must be leave-one-out or explicit, got %q", a.Folds)
	}
	return nil
}

func validateContrast(name string, c [][]float64) error {
	cols := len(c[0])
	if cols == 0 {
		return fmt.Errorf("%s must have at least one column", name)
	}
	for i, row := range c {
		if len(row) != cols {
			return fmt.Errorf("%s row %d has %d entries, want %d", name, i, len(row), cols)
		}
	}
	return nil
}

// Label returns the analysis name, or a positional fallback.
func (a AnalysisConfig) Label(i int) string {
	if a.Name != "" {
		return a.Name
	}
	return "analysis " + strconv.Itoa(i)
}

// Enabled reports whether a searchlight sweep is configured.
func (s SearchlightConfig) Enabled() bool {
	return s.Dims != [3]int{}
}

// Interval parses the checkpoint interval.
func (s SearchlightConfig) Interval() (time.Duration, error) {
	if s.CheckpointInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.CheckpointInterval)
	if err != nil {
		return 0, fmt.Errorf("checkpoint_interval: %w", err)
	}
	return d, nil
}

func (s SearchlightConfig) validate() error {
	if s.Radius < 0 {
		return fmt.Errorf("radius must be non-negative, got %g", s.Radius)
	}
	for i, d := range s.Dims {
		if d <= 0 {
			return fmt.Errorf("dims[%d] must be positive, got %d", i, d)
		}
	}
	if len(s.Transform) != 0 && len(s.Transform) != 9 {
		return fmt.Errorf("transform must have 9 row-major entries, got %d", len(s.Transform))
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", s.ChunkSize)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if d, err := s.Interval(); err != nil {
		return err
	} else if d < 0 {
		return fmt.Errorf("checkpoint_interval must be non-negative, got %s", d)
	}
	return nil
}

// applyEnvOverrides applies CVMANOVA_* environment variables on top of
// the loaded configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CVMANOVA_LAMBDA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Regularization.Lambda = f
		}
	}
	if v := os.Getenv("CVMANOVA_PERMUTATIONS"); v != "" {
		config.Permutations.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CVMANOVA_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Permutations.Seed = n
		}
	}
	if v := os.Getenv("CVMANOVA_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Searchlight.Workers = n
		}
	}
	if v := os.Getenv("CVMANOVA_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Searchlight.ChunkSize = n
		}
	}
	if v := os.Getenv("CVMANOVA_CHECKPOINT_DIR"); v != "" {
		config.Searchlight.CheckpointDir = v
	}
	if v := os.Getenv("CVMANOVA_CHECKPOINT_INTERVAL"); v != "" {
		config.Searchlight.CheckpointInterval = v
	}
	if v := os.Getenv("CVMANOVA_OUTPUT"); v != "" {
		config.Output.Maps = v
	}
}
