// Package config loads helix configuration from the project config
// file with environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/uke16/Helix-sub002/internal/agent"
	"github.com/uke16/Helix-sub002/internal/backoff"
	"github.com/uke16/Helix-sub002/internal/phase"
)

// Config is the full helix configuration.
type Config struct {
	Logging LoggingConfig `koanf:"logging"`
	Run     RunConfig     `koanf:"run"`
	Backoff BackoffConfig `koanf:"backoff"`
	Agent   AgentConfig   `koanf:"agent"`
	Notify  NotifyConfig  `koanf:"notify"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RunConfig bounds phase execution.
type RunConfig struct {
	PhaseTimeoutSeconds int `koanf:"phase_timeout_seconds"`
	MaxRetries          int `koanf:"max_retries"`
}

// BackoffConfig shapes the retry delay curve.
type BackoffConfig struct {
	InitialDelaySeconds float64 `koanf:"initial_delay_seconds"`
	Base                float64 `koanf:"base"`
	MaxDelaySeconds     float64 `koanf:"max_delay_seconds"`
}

// AgentConfig selects and parameterizes the agent CLI.
type AgentConfig struct {
	Command          string   `koanf:"command"`
	Args             []string `koanf:"args"`
	InstructionsFile string   `koanf:"instructions_file"`
}

// NotifyConfig controls desktop notifications for escalations.
type NotifyConfig struct {
	Enabled bool `koanf:"enabled"`
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Run.PhaseTimeoutSeconds == 0 {
		cfg.Run.PhaseTimeoutSeconds = int(phase.DefaultTimeout / time.Second)
	}
	if cfg.Run.MaxRetries == 0 {
		cfg.Run.MaxRetries = backoff.DefaultConfig().MaxRetries
	}
	if cfg.Backoff.InitialDelaySeconds == 0 {
		cfg.Backoff.InitialDelaySeconds = 1
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = 2.0
	}
	if cfg.Backoff.MaxDelaySeconds == 0 {
		cfg.Backoff.MaxDelaySeconds = 60
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = agent.DefaultCommand
	}
	if cfg.Agent.InstructionsFile == "" {
		cfg.Agent.InstructionsFile = phase.DefaultInstructionsFile
	}
}

// Validate rejects configurations the run loop cannot honor.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of console, json", c.Logging.Format)
	}
	if c.Run.PhaseTimeoutSeconds < 0 {
		return fmt.Errorf("run.phase_timeout_seconds must not be negative")
	}
	if c.Run.MaxRetries < 0 {
		return fmt.Errorf("run.max_retries must not be negative")
	}
	if c.Backoff.InitialDelaySeconds <= 0 {
		return fmt.Errorf("backoff.initial_delay_seconds must be positive")
	}
	if c.Backoff.Base <= 1.0 {
		return fmt.Errorf("backoff.base must be greater than 1.0")
	}
	if c.Backoff.MaxDelaySeconds < c.Backoff.InitialDelaySeconds {
		return fmt.Errorf("backoff.max_delay_seconds must not undercut the initial delay")
	}
	return nil
}

// PhaseTimeout returns the default per-phase timeout.
func (c *Config) PhaseTimeout() time.Duration {
	return time.Duration(c.Run.PhaseTimeoutSeconds) * time.Second
}

// ToBackoff maps the retry settings onto a backoff.Config.
func (c *Config) ToBackoff() backoff.Config {
	return backoff.Config{
		InitialDelay: time.Duration(c.Backoff.InitialDelaySeconds * float64(time.Second)),
		Base:         c.Backoff.Base,
		MaxDelay:     time.Duration(c.Backoff.MaxDelaySeconds * float64(time.Second)),
		MaxRetries:   c.Run.MaxRetries,
	}
}
