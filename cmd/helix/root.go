package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/uke16/Helix-sub002/internal/config"
	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/status"
)

const version = "0.1.0"

var (
	flagProject string
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "helix",
	Short: "Phase-by-phase agent orchestration",
	Long: `helix drives a coding agent through the phases declared in phases.yaml:
staging inputs from upstream outputs, running the agent, checking quality
gates, and recording progress under .helix/ so interrupted runs resume
where they stopped.

Start with 'helix init', edit spec.md and phases.yaml, then 'helix run'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <project>/.helix/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// projectDir resolves the --project flag to an absolute path.
func projectDir() (string, error) {
	return filepath.Abs(flagProject)
}

func loadRunConfig(dir string) (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = status.ConfigPath(dir)
	}
	return config.Load(path)
}

// newLogger builds the CLI logger; --verbose wins over the configured
// level.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := cfg.Logging.Level
	if flagVerbose {
		level = "debug"
	}
	return logging.New(level, cfg.Logging.Format)
}
