package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}
