package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tomasbasham/tierload"
)

// Config describes a simulation run. It is read from a YAML file and
// overridden by any flag set on the command line.
type Config struct {
	MaxPriority  tierload.Priority   `yaml:"max_priority" validate:"gte=0"`
	Window       time.Duration       `yaml:"window" validate:"gte=0"`
	MaxBatchSize int                 `yaml:"max_batch_size" validate:"gte=0"`
	Workers      int                 `yaml:"workers" validate:"gt=0"`
	Loads        int                 `yaml:"loads" validate:"gt=0"`
	Keys         int                 `yaml:"keys" validate:"gt=0"`
	Priorities   []tierload.Priority `yaml:"priorities" validate:"dive,gte=0"`
	Seed         uint64              `yaml:"seed"`
	LogLevel     string              `yaml:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
	MetricsAddr  string              `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the configuration used when neither a file nor a
// flag sets a value.
func DefaultConfig() Config {
	return Config{
		MaxPriority: tierload.DefaultMaxPriority,
		Window:      tierload.DefaultWindow,
		Workers:     8,
		Loads:       1000,
		Keys:        64,
		Seed:        42,
		LogLevel:    "info",
	}
}

// LoadConfig reads the YAML file at path over base. Fields missing from the
// file keep their value from base.
func LoadConfig(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field of c.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// priorities returns the priorities loads are spread over: the configured
// list, or every priority up to the ceiling.
func (c Config) priorities() []tierload.Priority {
	if len(c.Priorities) > 0 {
		return c.Priorities
	}
	ps := make([]tierload.Priority, 0, c.MaxPriority+1)
	for p := tierload.Priority(0); p <= c.MaxPriority; p++ {
		ps = append(ps, p)
	}
	return ps
}
