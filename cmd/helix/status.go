package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
	"github.com/uke16/Helix-sub002/internal/planfile"
	"github.com/uke16/Helix-sub002/internal/status"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project progress",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "machine-readable output")
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	tracker := status.NewTracker(logging.NewNop())
	st, found, err := tracker.Load(dir)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no status recorded in %s; start a run with 'helix run'", dir)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	renderStatus(os.Stdout, st, planOrder(dir))
	return nil
}

// planOrder returns phase IDs in declaration order. An unreadable plan
// yields nil and the caller falls back to lexical order.
func planOrder(dir string) []string {
	decls, err := planfile.Load(dir)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(decls))
	for _, d := range decls {
		ids = append(ids, d.ID)
	}
	return ids
}

func renderStatus(w io.Writer, st *model.ProjectStatus, order []string) {
	fmt.Fprintf(w, "Project: %s\n", st.ProjectID)
	fmt.Fprintf(w, "State:   %s (%d/%d phases)\n", st.State, st.CompletedPhases, st.TotalPhases)
	if st.RunID != "" {
		fmt.Fprintf(w, "Run:     %s\n", st.RunID)
	}
	if st.UpdatedAt != "" {
		fmt.Fprintf(w, "Updated: %s\n", st.UpdatedAt)
	}
	if st.Error != nil {
		fmt.Fprintf(w, "Error:   %s\n", *st.Error)
	}

	ids := orderedPhaseIDs(st, order)
	if len(ids) > 0 {
		fmt.Fprintf(w, "\n  %-20s %-10s %8s %10s %8s\n", "PHASE", "STATE", "RETRIES", "DURATION", "OUTPUTS")
		for _, id := range ids {
			ph := st.Phases[id]
			fmt.Fprintf(w, "  %-20s %-10s %8d %10s %8d\n",
				id, ph.State, ph.Retries, formatSeconds(ph.DurationSeconds), len(ph.OutputFiles))
		}
	}

	if st.Escalation != nil {
		fmt.Fprintf(w, "\nEscalation: phase %s is waiting on a decision (%s gate)\n",
			st.Escalation.PhaseID, st.Escalation.GateType)
		fmt.Fprintf(w, "  helix escalations resolve %s --decision <retry|skip|fail>\n", st.Escalation.PhaseID)
	}
}

// orderedPhaseIDs lists the recorded phases in plan order; phases only
// present in the status (sub-plan additions, renamed plans) follow in
// lexical order.
func orderedPhaseIDs(st *model.ProjectStatus, order []string) []string {
	seen := make(map[string]bool, len(order))
	ids := make([]string, 0, len(st.Phases))
	for _, id := range order {
		if _, ok := st.Phases[id]; ok {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range st.Phases {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

func formatSeconds(s float64) string {
	if s == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1fs", s)
}
