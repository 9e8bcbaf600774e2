package main

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number of tcactl",
	Args:  cobra.NoArgs,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("tcactl version %s (%s)\n", version, shortCommit(commit))
		return nil
	},
}

func shortCommit(commit string) string {
	return commit[:min(len(commit), 7)]
}
