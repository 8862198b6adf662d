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

	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
	"github.com/uke16/Helix-sub002/internal/status"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow project progress live",
	Long: `Re-render the project status every time a run persists a change.
Useful in a second terminal next to 'helix run'. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	order := planOrder(dir)
	tracker := status.NewTracker(logging.NewNop())
	err = tracker.Watch(ctx, dir, func(st *model.ProjectStatus) {
		fmt.Printf("--- %s ---\n", time.Now().Format("15:04:05"))
		renderStatus(os.Stdout, st, order)
		fmt.Println()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
