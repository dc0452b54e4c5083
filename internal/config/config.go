package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edp1096/spicecore/pkg/analysis"
)

const (
	DefaultPrecision  = 6
	DefaultPlotWidth  = 72
	DefaultPlotHeight = 16
	DefaultWorkers    = 4
	DefaultTrials     = 100
	DefaultTolerance  = 0.05
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel string           `yaml:"log_level"`
	Solver   analysis.Options `yaml:"solver"`
	Output   OutputConfig     `yaml:"output"`
	Batch    BatchConfig      `yaml:"batch"`
	Metrics  MetricsConfig    `yaml:"metrics"`
}

type OutputConfig struct {
	Precision  int      `yaml:"precision"` // significant digits
	Plot       bool     `yaml:"plot"`
	PlotWidth  int      `yaml:"plot_width"`
	PlotHeight int      `yaml:"plot_height"`
	SVG        string   `yaml:"svg,omitempty"` // output path, empty disables
	Signals    []string `yaml:"signals,omitempty"`
}

// BatchConfig drives Monte Carlo runs: every trial perturbs R, C and L
// values by a uniform relative Tolerance.
type BatchConfig struct {
	Workers   int     `yaml:"workers"`
	Trials    int     `yaml:"trials"`
	Seed      uint64  `yaml:"seed"`
	Tolerance float64 `yaml:"tolerance"`
}

type MetricsConfig struct {
	Dump bool `yaml:"dump"` // print the registry in text format after the run
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "warn",
		Solver:   analysis.DefaultOptions(),
		Output: OutputConfig{
			Precision:  DefaultPrecision,
			PlotWidth:  DefaultPlotWidth,
			PlotHeight: DefaultPlotHeight,
		},
		Batch: BatchConfig{
			Workers:   DefaultWorkers,
			Trials:    DefaultTrials,
			Seed:      1,
			Tolerance: DefaultTolerance,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML on top of DefaultConfig. Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("%w: solver: %w", ErrInvalidConfig, err)
	}
	if c.Output.Precision < 1 || c.Output.Precision > 17 {
		return fmt.Errorf("%w: output precision %d outside 1..17", ErrInvalidConfig, c.Output.Precision)
	}
	if c.Output.PlotWidth < 8 || c.Output.PlotHeight < 2 {
		return fmt.Errorf("%w: plot size %dx%d too small", ErrInvalidConfig, c.Output.PlotWidth, c.Output.PlotHeight)
	}
	if c.Batch.Workers < 1 || c.Batch.Trials < 1 {
		return fmt.Errorf("%w: batch needs at least one worker and one trial", ErrInvalidConfig)
	}
	if c.Batch.Tolerance < 0 || c.Batch.Tolerance >= 1 {
		return fmt.Errorf("%w: batch tolerance %g outside [0, 1)", ErrInvalidConfig, c.Batch.Tolerance)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
