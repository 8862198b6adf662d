// Package main implements the helix CLI: project scaffolding, phase
// runs, progress inspection, and escalation handling.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errSuspended) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
