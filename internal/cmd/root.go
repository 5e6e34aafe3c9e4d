// Package cmd implements the sessionbridge command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/sessionbridge/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sessionbridge",
	Short: "Session and role gateway for Supabase-backed applications",
	Long: `sessionbridge validates Supabase sessions carried in cookies or bearer
headers, refreshes them before they expire and enforces the role route table
(candidate, company_user, admin) in front of an upstream application.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: sessionbridge.yaml, then /etc/sessionbridge/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	return config.NewLoader().Load(configFile)
}
