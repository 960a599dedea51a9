package cmd

import (
	"os"
	"os/signal"

	"github.com/clipcast/clipcast-cli/internal/ui"
	"github.com/clipcast/clipcast-cli/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "clipcast",
	Short:   "Go live, watch streams, and join rooms from your terminal",
	Long:    `Clipcast is a command-line client for the Clipcast live platform. It hosts and joins voice, camera, and studio sessions over WebRTC, with multi-guest rooms, live chat, and host moderation, all driven from the terminal.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
