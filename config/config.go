// Package config holds the run configuration consumed by the pipeline
// core and the executor backends.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the per-run configuration. Zero values are filled in by
// ApplyDefaults; Load applies them automatically.
type Config struct {
	// Executor selects the backend: "local", "custom" or "lsf".
	Executor string `yaml:"executor"`

	// Concurrency bounds simultaneous backend invocations process-wide.
	Concurrency int `yaml:"concurrency"`

	// Workers sizes the pool that runs fan-out branches.
	Workers int `yaml:"workers"`

	// Poll timing for backends that monitor jobs by repeated status
	// queries. All values are milliseconds.
	MinPollInterval int64 `yaml:"minimumCommandStatusPollInterval"`
	MaxPollInterval int64 `yaml:"maxCommandStatusPollInterval"`
	BackoffPeriod   int64 `yaml:"commandStatusBackoffPeriod"`

	// Script is the path of the user-provided control script for the
	// custom executor.
	Script string `yaml:"script"`

	// Scheduler options forwarded to batch backends.
	Account  string `yaml:"account"`
	Walltime string `yaml:"walltime"`
	Memory   string `yaml:"memory"`
	Procs    string `yaml:"procs"`
	Queue    string `yaml:"queue"`
	JobName  string `yaml:"jobname"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Executor == "" {
		c.Executor = "local"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Workers <= 0 {
		c.Workers = c.Concurrency
	}
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = 2000
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = 5000
	}
	if c.BackoffPeriod <= 0 {
		c.BackoffPeriod = 180000
	}
}

// Load reads a YAML configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
