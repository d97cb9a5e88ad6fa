// Command PayPipe runs the WhatsApp front-end for the finance API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configFile string
	rootCmd := &cobra.Command{
		Use:           "paypipe",
		Short:         "WhatsApp conversations for account opening, payments and exchange rates",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			loadDotEnv()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (environment variables take precedence)")
	rootCmd.AddCommand(newServeCmd(&configFile), newChatCmd(&configFile), newPurgeCmd(&configFile))
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
