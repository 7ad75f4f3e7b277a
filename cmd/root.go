package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "wxreply",
	Short:        "Keyword auto-reply webhook for WeChat official accounts",
	Long:         "wxreply verifies the platform's webhook handshake, decodes pushed XML messages and answers text messages from an ordered rule set.",
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}
