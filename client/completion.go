package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:       "completion bash|zsh|fish",
	Short:     "Generate shell completion scripts",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish"},

	// no connection needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return tcactlCmd.GenBashCompletionV2(cmd.OutOrStdout(), true)
		case "zsh":
			return tcactlCmd.GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return tcactlCmd.GenFishCompletion(cmd.OutOrStdout(), true)
		default:
			return fmt.Errorf("unsupported shell '%s'", args[0])
		}
	},
}
