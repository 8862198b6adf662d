// Package agent runs the coding agent CLI for a single phase and
// captures its output.
package agent

import (
	"context"
	"time"
)

// RunRequest describes one agent invocation.
type RunRequest struct {
	// PhaseDir is the working directory for the invocation. The agent
	// reads input/ and writes output/ relative to it.
	PhaseDir string
	// Instructions is the prompt text handed to the agent.
	Instructions string
	// Model overrides the CLI's default model when non-empty.
	Model string
	// LogPath receives the full stdout/stderr transcript when set.
	LogPath string
	// OnLine, when set, is called for every output line as it arrives,
	// tagged with the stream it came from ("stdout" or "stderr"). Calls
	// for different streams can happen concurrently.
	OnLine func(stream, line string)
}

// RunResult is the outcome of a finished invocation. A non-zero exit
// is a result, not an error: errors are reserved for failures to run
// the command at all.
type RunResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs one phase's agent invocation to completion. Cancelling
// the context kills the agent process.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}
