package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "task-viewer",
		Short: "WebArena task viewer - browse, review and replay benchmark tasks",
		Long: `task-viewer serves a local web page over WebArena task definitions.
It shows each task with its site, start URL and expected answer, records
reviewed flags and notes per task file, and opens recorded Playwright
traces in a local or hosted trace viewer.`,
		SilenceUsage: true,
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
