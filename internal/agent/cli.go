package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uke16/Helix-sub002/internal/logging"
)

const (
	// DefaultCommand is the agent CLI invoked when none is configured.
	DefaultCommand = "claude"

	// maxCapturedBytes caps how much of each stream is kept in memory.
	// The full transcript still goes to LogPath; the in-memory copy is
	// for error messages and result records.
	maxCapturedBytes = 64 * 1024

	// scanBufferSize bounds single output lines. Agents emit long
	// JSON lines well past bufio's default token size.
	scanBufferSize = 1024 * 1024
)

// CLIRunner runs the agent as a headless subprocess: instructions are
// passed with -p, outputs are written by the agent into the working
// directory.
type CLIRunner struct {
	command string
	args    []string
	log     *logging.Logger
}

// NewCLIRunner creates a runner for the given command. extraArgs are
// inserted before the built-in flags on every invocation.
func NewCLIRunner(command string, extraArgs []string, log *logging.Logger) *CLIRunner {
	if command == "" {
		command = DefaultCommand
	}
	return &CLIRunner{command: command, args: extraArgs, log: log.Named("agent")}
}

// Run executes the agent and waits for it to exit. A non-zero exit
// code yields a RunResult with Success=false; an error return means
// the process could not be run or was killed by context cancellation.
func (r *CLIRunner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, r.command, buildArgs(req, r.args)...)
	cmd.Dir = req.PhaseDir
	// Run the agent in its own process group and kill the whole group
	// on cancellation, so subprocesses the agent spawned cannot outlive
	// the timeout holding the output pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// Clear CLAUDECODE so the agent can be launched from inside a
	// parent agent session.
	cmd.Env = filterEnv(os.Environ(), "CLAUDECODE")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stderr pipe: %w", err)
	}

	var transcript io.Writer = io.Discard
	if req.LogPath != "" {
		f, err := os.OpenFile(req.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open agent log %s: %w", req.LogPath, err)
		}
		defer f.Close()
		transcript = f
	}

	start := time.Now()
	r.log.Debug("agent starting",
		zap.String("command", r.command),
		zap.String("model", req.Model),
		zap.String("dir", req.PhaseDir))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %s: %w", r.command, err)
	}

	var outBuf, errBuf tailBuffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.drain(stdout, &outBuf, transcript, "stdout", req.OnLine)
	}()
	go func() {
		defer wg.Done()
		r.drain(stderr, &errBuf, transcript, "stderr", req.OnLine)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	duration := time.Since(start)

	// A killed process after cancellation is reported as the context
	// error so callers can tell timeouts from agent failures.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res := &RunResult{
		ExitCode: 0,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Duration: duration,
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("run agent %s: %w", r.command, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
		r.log.Warn("agent exited with failure",
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", duration))
		return res, nil
	}

	res.Success = true
	r.log.Debug("agent finished", zap.Duration("duration", duration))
	return res, nil
}

// drain copies one stream line by line into the capped buffer, the
// transcript file, and the optional per-line callback.
func (r *CLIRunner) drain(src io.Reader, buf *tailBuffer, transcript io.Writer, stream string, onLine func(stream, line string)) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteLine(line)
		fmt.Fprintln(transcript, line)
		if onLine != nil {
			onLine(stream, line)
		}
	}
	if err := scanner.Err(); err != nil {
		r.log.Debug("agent stream closed", zap.String("stream", stream), zap.Error(err))
	}
}

// buildArgs constructs the CLI arguments for one invocation: the
// configured extras first, then the model, then the prompt.
func buildArgs(req RunRequest, extra []string) []string {
	args := append([]string(nil), extra...)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.Instructions != "" {
		args = append(args, "-p", req.Instructions)
	}
	return args
}

// filterEnv returns a copy of environ with the named variable removed.
func filterEnv(environ []string, name string) []string {
	prefix := name + "="
	out := make([]string, 0, len(environ))
	for _, e := range environ {
		if !strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// tailBuffer keeps the most recent maxCapturedBytes of written lines.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func (b *tailBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	b.size += len(line) + 1
	for b.size > maxCapturedBytes && len(b.lines) > 1 {
		b.size -= len(b.lines[0]) + 1
		b.lines = b.lines[1:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
