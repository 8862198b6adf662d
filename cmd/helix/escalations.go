package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uke16/Helix-sub002/internal/escalate"
	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/status"
)

var (
	escListAll  bool
	escDecision string
)

var escalationsCmd = &cobra.Command{
	Use:     "escalations",
	Aliases: []string{"esc"},
	Short:   "Inspect and resolve escalated phases",
}

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalations awaiting a decision",
	Args:  cobra.NoArgs,
	RunE:  runEscalationsList,
}

var escalationsResolveCmd = &cobra.Command{
	Use:   "resolve <phase|record>",
	Short: "Record a decision for a pending escalation",
	Long: `Stamp a pending escalation with a decision and apply it to the project:

  retry  re-queue the phase; the next 'helix run --resume' runs it again
  skip   mark the phase skipped and move on
  fail   end the project as failed

The argument is a phase ID (resolves its newest pending record) or the
path of a record file under .helix/escalations/.`,
	Args: cobra.ExactArgs(1),
	RunE: runEscalationsResolve,
}

func init() {
	rootCmd.AddCommand(escalationsCmd)
	escalationsCmd.AddCommand(escalationsListCmd)
	escalationsCmd.AddCommand(escalationsResolveCmd)

	escalationsListCmd.Flags().BoolVar(&escListAll, "all", false, "include resolved records")
	escalationsResolveCmd.Flags().StringVar(&escDecision, "decision", "", "retry, skip, or fail (required)")
	_ = escalationsResolveCmd.MarkFlagRequired("decision")
}

func runEscalationsList(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	store := escalate.NewStore(status.HelixDir(dir), logging.NewNop())
	records, err := store.List()
	if err != nil {
		return err
	}
	if !escListAll {
		pending := records[:0:0]
		for _, rec := range records {
			if rec.Status == escalate.StatusPending {
				pending = append(pending, rec)
			}
		}
		records = pending
	}

	if len(records) == 0 {
		if escListAll {
			fmt.Println("No escalations recorded.")
		} else {
			fmt.Println("No pending escalations.")
		}
		return nil
	}

	fmt.Printf("  %-28s %-16s %-16s %-9s %s\n", "RECORD", "PHASE", "GATE", "STATUS", "RAISED")
	for _, rec := range records {
		st := string(rec.Status)
		if rec.Status == escalate.StatusResolved {
			st = fmt.Sprintf("%s:%s", rec.Status, rec.Decision)
		}
		fmt.Printf("  %-28s %-16s %-16s %-9s %s\n",
			filepath.Base(rec.Path), rec.Escalation.PhaseID, rec.Escalation.GateType, st, rec.Escalation.RaisedAt)
	}
	return nil
}

func runEscalationsResolve(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	store := escalate.NewStore(status.HelixDir(dir), logging.NewNop())
	path, err := findRecord(store, args[0])
	if err != nil {
		return err
	}

	rec, err := store.Resolve(path, escalate.Decision(escDecision))
	if err != nil {
		return err
	}

	tracker := status.NewTracker(logging.NewNop())
	st, found, err := tracker.Load(dir)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no status recorded in %s", dir)
	}
	if err := escalate.ApplyDecision(st, rec); err != nil {
		return err
	}
	if err := tracker.Save(dir, st); err != nil {
		return err
	}

	switch rec.Decision {
	case escalate.DecisionRetry:
		fmt.Printf("Phase %s re-queued; continue with 'helix run --resume'.\n", rec.Escalation.PhaseID)
	case escalate.DecisionSkip:
		fmt.Printf("Phase %s skipped; continue with 'helix run --resume'.\n", rec.Escalation.PhaseID)
	case escalate.DecisionFail:
		fmt.Printf("Project %s marked failed.\n", st.ProjectID)
	}
	return nil
}

// findRecord maps the resolve argument to a record path: anything that
// looks like a path is used directly, otherwise it is a phase ID and
// the newest pending record for that phase wins.
func findRecord(store *escalate.Store, arg string) (string, error) {
	if strings.ContainsRune(arg, filepath.Separator) || strings.HasSuffix(arg, ".yaml") {
		return arg, nil
	}

	pending, err := store.Pending()
	if err != nil {
		return "", err
	}
	var path string
	for _, rec := range pending {
		if rec.Escalation.PhaseID == arg {
			path = rec.Path
		}
	}
	if path == "" {
		return "", fmt.Errorf("no pending escalation for phase %q", arg)
	}
	return path, nil
}
