package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/uke16/Helix-sub002/internal/agent"
	"github.com/uke16/Helix-sub002/internal/engine"
	"github.com/uke16/Helix-sub002/internal/escalate"
	"github.com/uke16/Helix-sub002/internal/events"
	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
	"github.com/uke16/Helix-sub002/internal/notify"
	"github.com/uke16/Helix-sub002/internal/phase"
	"github.com/uke16/Helix-sub002/internal/status"
)

// errSuspended signals a run that stopped on an escalation. main maps
// it to exit code 2 so wrappers can tell "needs a decision" from
// "failed".
var errSuspended = errors.New("run suspended pending an escalation decision")

var (
	runResume     bool
	runDryRun     bool
	runWait       bool
	runStream     bool
	runProjectID  string
	runTimeout    time.Duration
	runMaxRetries int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the project's phases",
	Long: `Execute every declared phase in order: stage inputs, invoke the agent,
evaluate the quality gate, and persist progress after each step.

A run that is interrupted (Ctrl-C, crash) or suspended on an escalation
continues with 'helix run --resume'. Completed phases are not re-executed.
With --wait the run blocks on escalations until a decision is recorded
(by 'helix escalations resolve' or by editing the record) and resumes by
itself.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runResume, "resume", false, "continue the previous run instead of starting over")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "walk the plan without invoking the agent")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "block on escalations and resume once decided")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "print agent output live as it is produced")
	runCmd.Flags().StringVar(&runProjectID, "project-id", "", "project identifier (default: project directory name)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-phase timeout override (e.g. 45m)")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", -1, "transient failure retry override")
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(dir)
	if err != nil {
		return err
	}
	if runTimeout > 0 {
		cfg.Run.PhaseTimeoutSeconds = int(runTimeout.Seconds())
	}
	if runMaxRetries >= 0 {
		cfg.Run.MaxRetries = runMaxRetries
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier engine.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.Send
	}

	phaseOpts := phase.Options{
		DefaultTimeout:   cfg.PhaseTimeout(),
		InstructionsFile: cfg.Agent.InstructionsFile,
	}
	if runStream {
		phaseOpts.OnOutput = printAgentLine
	}

	runner := engine.NewRunner(engine.Deps{
		Agent:    agent.NewCLIRunner(cfg.Agent.Command, cfg.Agent.Args, log),
		Phase:    phaseOpts,
		Backoff:  cfg.ToBackoff(),
		Notifier: notifier,
		Log:      log,
	})

	opts := engine.RunOptions{
		ProjectDir: dir,
		ProjectID:  runProjectID,
		Resume:     runResume,
		DryRun:     runDryRun,
		OnProgress: printEvent,
	}

	for {
		st, err := runner.Run(ctx, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(os.Stderr, "\nrun interrupted; 'helix run --resume' continues where it stopped")
			}
			return err
		}

		switch {
		case st.Escalation != nil:
			if !runWait {
				fmt.Printf("\nPhase %s is waiting on a decision.\n", st.Escalation.PhaseID)
				fmt.Printf("Resolve it with 'helix escalations resolve %s --decision <retry|skip|fail>', then 'helix run --resume'.\n",
					st.Escalation.PhaseID)
				return errSuspended
			}
			fmt.Printf("\nPhase %s is waiting on a decision; blocking until one is recorded.\n", st.Escalation.PhaseID)
			fmt.Printf("From another terminal: helix escalations resolve %s --decision <retry|skip|fail>\n", st.Escalation.PhaseID)
			failed, err := awaitDecision(ctx, dir, st.Escalation.PhaseID)
			if err != nil {
				return err
			}
			if failed != "" {
				return fmt.Errorf("project failed: %s", failed)
			}
			opts.Resume = true
			continue

		case st.State == model.ProjectStateFailed:
			if st.Error != nil {
				return fmt.Errorf("project failed: %s", *st.Error)
			}
			return fmt.Errorf("project failed")

		default:
			fmt.Printf("\nProject %s completed: %d/%d phases.\n", st.ProjectID, st.CompletedPhases, st.TotalPhases)
			return nil
		}
	}
}

// awaitDecision blocks until the pending escalation for phaseID is
// resolved, applying the decision to the status when the resolver did
// not (a hand-edited record). A fail decision returns the failure
// message; retry and skip return empty, meaning resume.
func awaitDecision(ctx context.Context, dir, phaseID string) (string, error) {
	store := escalate.NewStore(status.HelixDir(dir), logging.NewNop())
	pending, err := store.Pending()
	if err != nil {
		return "", err
	}
	var path string
	for _, rec := range pending {
		if rec.Escalation.PhaseID == phaseID {
			path = rec.Path
		}
	}
	if path == "" {
		return "", fmt.Errorf("no pending escalation record for phase %s", phaseID)
	}

	rec, err := store.WaitForDecision(ctx, path)
	if err != nil {
		return "", err
	}
	fmt.Printf("Decision recorded: %s.\n", rec.Decision)

	tracker := status.NewTracker(logging.NewNop())
	st, found, err := tracker.Load(dir)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("no status recorded in %s", dir)
	}
	if st.Escalation != nil {
		if err := escalate.ApplyDecision(st, rec); err != nil {
			return "", err
		}
		if err := tracker.Save(dir, st); err != nil {
			return "", err
		}
	}
	if st.State == model.ProjectStateFailed {
		if st.Error != nil {
			return *st.Error, nil
		}
		return "escalation resolved as fail", nil
	}
	return "", nil
}

// printAgentLine renders one live agent output line. stderr lines keep
// their stream tag so they stand out from normal output.
func printAgentLine(phaseID, stream, line string) {
	if stream == "stderr" {
		fmt.Printf("  [%s %s] %s\n", phaseID, stream, line)
		return
	}
	fmt.Printf("  [%s] %s\n", phaseID, line)
}

// printEvent renders one progress event as a journal-style line.
func printEvent(ev events.Event) {
	id := ev.PhaseID
	if id == "" {
		id = "-"
	}
	fmt.Printf("%s  %-18s %-14s %s\n",
		ev.Timestamp.Local().Format("15:04:05"), ev.Type, id, ev.Message)
}
