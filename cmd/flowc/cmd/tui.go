package cmd

import (
	"github.com/spf13/cobra"

	"github.com/samaelod/flowc/tui"
)

func init() {
	rootCmd.AddCommand(tuiCmd)
}

// tuiCmd represents the tui command
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse, edit and compile profiles interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(AppVersion, compilerOptions())
	},
}
