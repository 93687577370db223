package commands

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "coachprobe",
	Short: "Probe a pitch coach backend",
	Long: `coachprobe drives a scripted coaching session over websocket and reports
what comes back: feedback text, scores and per-stage latency.

Point it at a live backend with --url, or pass --local to spin up an
in-process coach simulator and probe that instead.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(examplesCmd)
	rootCmd.AddCommand(wavCmd)
}
