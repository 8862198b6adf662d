// Package phase runs a single phase: it validates the phase directory,
// invokes the agent with the phase instructions, and reports the
// outcome.
package phase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uke16/Helix-sub002/internal/agent"
	"github.com/uke16/Helix-sub002/internal/dataflow"
	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
	"github.com/uke16/Helix-sub002/internal/planfile"
)

const (
	// DefaultInstructionsFile is the per-phase prompt read from the
	// phase directory.
	DefaultInstructionsFile = "instructions.md"

	// DefaultTimeout bounds a phase when neither the declaration nor
	// the configuration sets one.
	DefaultTimeout = 30 * time.Minute

	// stderrExcerptLen caps how much agent stderr lands in the error
	// message. The full transcript is in the agent log.
	stderrExcerptLen = 300
)

// ValidationError reports a phase that cannot run because its working
// directory is incomplete. It is not retryable.
type ValidationError struct {
	PhaseID string
	Missing string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("phase %s: missing %s", e.PhaseID, e.Missing)
}

// Options configures an Executor.
type Options struct {
	// DryRun walks the phase without invoking the agent.
	DryRun bool
	// DefaultTimeout applies to phases without timeout_seconds.
	DefaultTimeout time.Duration
	// InstructionsFile names the prompt file inside each phase dir.
	InstructionsFile string
	// LogDir receives one transcript file per phase when set.
	LogDir string
	// OnOutput, when set, receives every agent output line live,
	// tagged with the phase and stream it came from.
	OnOutput func(phaseID, stream, line string)
}

// Executor runs phases through an agent.Runner.
type Executor struct {
	runner agent.Runner
	opts   Options
	log    *logging.Logger
}

func NewExecutor(runner agent.Runner, opts Options, log *logging.Logger) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.InstructionsFile == "" {
		opts.InstructionsFile = DefaultInstructionsFile
	}
	return &Executor{runner: runner, opts: opts, log: log.Named("phase")}
}

// Execute runs one phase to completion. When the phase ran, the
// returned result is non-nil even on failure; the error carries the
// failure for retry classification. Context cancellation from the
// caller is returned as-is.
func (e *Executor) Execute(ctx context.Context, projectDir string, decl *model.PhaseDeclaration) (*model.PhaseResult, error) {
	phaseDir := dataflow.PhaseDir(projectDir, decl.ID)
	for _, dir := range []string{dataflow.InputDir(projectDir, decl.ID), dataflow.OutputDir(projectDir, decl.ID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare phase dir: %w", err)
		}
	}

	if e.opts.DryRun {
		now := time.Now()
		e.log.Info("dry run, agent not invoked", zap.String("phase", decl.ID))
		return &model.PhaseResult{
			PhaseID:     decl.ID,
			Success:     true,
			StartedAt:   now,
			CompletedAt: now,
		}, nil
	}

	instructionsPath := filepath.Join(phaseDir, e.opts.InstructionsFile)
	instructions, err := os.ReadFile(instructionsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ValidationError{PhaseID: decl.ID, Missing: instructionsPath}
		}
		return nil, fmt.Errorf("read instructions for phase %s: %w", decl.ID, err)
	}

	timeout := decl.Timeout(e.opts.DefaultTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := agent.RunRequest{
		PhaseDir:     phaseDir,
		Instructions: string(instructions),
		Model:        decl.Model,
	}
	if e.opts.LogDir != "" {
		req.LogPath = filepath.Join(e.opts.LogDir, decl.ID+".log")
	}
	if e.opts.OnOutput != nil {
		id := decl.ID
		req.OnLine = func(stream, line string) { e.opts.OnOutput(id, stream, line) }
	}

	started := time.Now()
	e.log.Info("phase starting",
		zap.String("phase", decl.ID),
		zap.String("model", decl.Model),
		zap.Duration("timeout", timeout))

	runRes, runErr := e.runner.Run(runCtx, req)
	completed := time.Now()

	result := &model.PhaseResult{
		PhaseID:     decl.ID,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}

	if runErr != nil {
		// The parent being cancelled aborts the run outright.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("phase %s timed out after %s", decl.ID, timeout)
			e.log.Warn("phase timed out", zap.String("phase", decl.ID), zap.Duration("timeout", timeout))
			return result, errors.New(result.Error)
		}
		return nil, fmt.Errorf("run agent for phase %s: %w", decl.ID, runErr)
	}

	if !runRes.Success {
		result.Error = fmt.Sprintf("agent exited with code %d: %s", runRes.ExitCode, stderrExcerpt(runRes.Stderr))
		e.log.Warn("phase failed",
			zap.String("phase", decl.ID),
			zap.Int("exit_code", runRes.ExitCode))
		return result, errors.New(result.Error)
	}

	result.Success = true
	planPath := filepath.Join(dataflow.OutputDir(projectDir, decl.ID), planfile.SubPlanFileName)
	if info, err := os.Stat(planPath); err == nil && !info.IsDir() {
		result.HasPlan = true
		result.PlanPath = planPath
	}

	e.log.Info("phase completed",
		zap.String("phase", decl.ID),
		zap.Duration("duration", result.Duration),
		zap.Bool("has_plan", result.HasPlan))
	return result, nil
}

// stderrExcerpt compresses agent stderr into a single short line.
func stderrExcerpt(stderr string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return "(no stderr)"
	}
	s = strings.ReplaceAll(s, "\n", " | ")
	if len(s) > stderrExcerptLen {
		s = s[:stderrExcerptLen] + "..."
	}
	return s
}
