package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uke16/Helix-sub002/internal/scaffold"
	"github.com/uke16/Helix-sub002/internal/status"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a project directory",
	Long: `Lay out a fresh helix project: the .helix/ state directory, a commented
config.yaml, a starter phases.yaml, a spec.md placeholder, and an
instruction stub for every declared phase.

Files you already wrote are kept as-is; only the missing pieces are
created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := flagProject
	if len(args) == 1 {
		dir = args[0]
	}

	res, err := scaffold.Run(dir)
	if err != nil {
		return err
	}

	fmt.Printf("Initialized %s/ in %s\n", status.HelixDirName, res.ProjectDir)
	if len(res.Phases) > 0 {
		fmt.Println("\nInstruction stubs created:")
		for _, id := range res.Phases {
			fmt.Printf("  phases/%s/instructions.md\n", id)
		}
	}
	fmt.Println("\nEdit spec.md and phases.yaml, then start with 'helix run'.")
	return nil
}
