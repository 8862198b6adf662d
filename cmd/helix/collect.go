package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/uke16/Helix-sub002/internal/dataflow"
	"github.com/uke16/Helix-sub002/internal/logging"
)

var (
	collectOut    string
	collectPhases []string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Merge phase outputs into one directory",
	Long: `Copy the output trees of the selected phases (default: all) into a
single directory, later phases overwriting earlier ones on conflicting
paths. This is how a finished project becomes a deliverable tree.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().StringVarP(&collectOut, "out", "o", "collected", "destination directory")
	collectCmd.Flags().StringSliceVar(&collectPhases, "phases", nil, "phases to collect, in merge order (default: all, plan order)")
}

func runCollect(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}
	dest, err := filepath.Abs(collectOut)
	if err != nil {
		return err
	}

	var phaseIDs []string
	if len(collectPhases) > 0 {
		phaseIDs = collectPhases
	} else {
		// Plan order beats the lexical fallback when the plan loads.
		phaseIDs = planOrder(dir)
	}

	files, err := dataflow.NewManager(logging.NewNop()).CollectOutputs(dir, dest, phaseIDs)
	if err != nil {
		return err
	}

	fmt.Printf("Collected %d files into %s\n", len(files), dest)
	return nil
}
