// Package cmd implements the blackcat CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"
const logo = "🐈‍⬛"

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "blackcat",
	Short: logo + " blackcat — Personal AI Assistant",
	Long:  logo + " blackcat — an always-on personal AI agent runtime",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(channelsCmd)
}
