// Package config resolves run settings from defaults, an optional YAML
// file and FISHERPHI_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gilchrisn/edge-significance/pkg/checkpoint"
	"github.com/gilchrisn/edge-significance/pkg/loader"
	"github.com/gilchrisn/edge-significance/pkg/multitest"
	"github.com/gilchrisn/edge-significance/pkg/partition"
	"github.com/gilchrisn/edge-significance/pkg/runner"
)

// EnvPrefix prefixes every environment override, e.g. FISHERPHI_CHECKPOINT_DIR
const EnvPrefix = "FISHERPHI"

// ErrInvalid wraps struct validation failures.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Input        string `mapstructure:"input" yaml:"input"`
	WeightColumn string `mapstructure:"weight_column" yaml:"weight_column"`
	Delimiter    string `mapstructure:"delimiter" yaml:"delimiter" validate:"max=1"`
	Output       string `mapstructure:"output" yaml:"output" validate:"required"`

	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`

	Workers          int           `mapstructure:"workers" yaml:"workers" validate:"min=1"`
	Chunks           int           `mapstructure:"chunks" yaml:"chunks" validate:"min=1"`
	Alpha            float64       `mapstructure:"alpha" yaml:"alpha" validate:"gt=0,lt=1"`
	DegeneratePolicy string        `mapstructure:"degenerate_policy" yaml:"degenerate_policy" validate:"oneof=record skip abort"`
	Resume           bool          `mapstructure:"resume" yaml:"resume"`
	ChunkTimeout     time.Duration `mapstructure:"chunk_timeout" yaml:"chunk_timeout" validate:"min=0"`

	Log         LogConfig `mapstructure:"log" yaml:"log"`
	MetricsAddr string    `mapstructure:"metrics_addr" yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

type CheckpointConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=dir badger"`
	Dir     string `mapstructure:"dir" yaml:"dir" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
}

// Default matches the historical command line: 10 workers, 100 chunks,
// alpha 0.05 and out.csv.
func Default() Config {
	return Config{
		WeightColumn: loader.DefaultWeightColumn,
		Output:       "out.csv",
		Checkpoint: CheckpointConfig{
			Backend: checkpoint.BackendDir,
			Dir:     "chunks",
		},
		Workers:          runner.DefaultWorkers,
		Chunks:           partition.DefaultChunks,
		Alpha:            multitest.DefaultAlpha,
		DegeneratePolicy: string(runner.PolicyRecord),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func newViper() *viper.Viper {
	d := Default()
	v := viper.New()

	v.SetDefault("input", d.Input)
	v.SetDefault("weight_column", d.WeightColumn)
	v.SetDefault("delimiter", d.Delimiter)
	v.SetDefault("output", d.Output)
	v.SetDefault("checkpoint.backend", d.Checkpoint.Backend)
	v.SetDefault("checkpoint.dir", d.Checkpoint.Dir)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("chunks", d.Chunks)
	v.SetDefault("alpha", d.Alpha)
	v.SetDefault("degenerate_policy", d.DegeneratePolicy)
	v.SetDefault("resume", d.Resume)
	v.SetDefault("chunk_timeout", d.ChunkTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration. path may be empty.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints; the input file itself is checked by
// package validation since aggregation runs without one.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", ErrInvalid, f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// WriteYAML writes the resolved settings in the config file format
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Runner converts the settings the chunk runner consumes
func (c Config) Runner() runner.Config {
	return runner.Config{
		Chunks:       c.Chunks,
		Workers:      c.Workers,
		Policy:       runner.Policy(c.DegeneratePolicy),
		Resume:       c.Resume,
		ChunkTimeout: c.ChunkTimeout,
	}
}

// Loader converts the edge table settings
func (c Config) Loader() loader.Options {
	opts := loader.Options{WeightColumn: c.WeightColumn}
	if c.Delimiter != "" {
		opts.Delimiter = []rune(c.Delimiter)[0]
	}
	return opts
}
