package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VishalHarindrakumar/rtc-p2p/internal/config"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/logging"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/ui"
	"github.com/VishalHarindrakumar/rtc-p2p/internal/version"
)

var flagEnvFile string

// logger is set up once the env file has been read.
var logger = zap.NewNop()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rtcp2p",
	Short: "Signaling server and client for two-party WebRTC calls",
	Long: `rtcp2p pairs two participants per named room and relays their WebRTC
negotiation messages. Extra joiners wait in a per-room queue and are promoted
in arrival order when a slot frees up.`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(flagEnvFile); err != nil {
			return err
		}
		logger = logging.Init()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file read before the environment")
	rootCmd.AddCommand(serveCmd, statsCmd, joinCmd, versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
