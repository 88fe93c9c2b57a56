package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "claude-eval",
		Short: "Claude Eval Harness - batch coding-exercise evaluations",
		Long: `Claude Eval Harness runs batches of coding exercises against an agent
host process. It spawns one isolated host per task, drives the task over a
local WebSocket protocol, scores the result with the exercise's unit tests,
and records outcomes, token usage and telemetry spans in SQLite.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
