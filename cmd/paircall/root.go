package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagServer string
	flagDebug  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "paircall",
	Short: "Headless client for the anonymous 1:1 calling service",
	Long: `paircall drives the full client stack without a browser: anonymous
session, partner search, ringing, WebRTC negotiation and synthetic
audio/video. The participant with the smaller id places the call; the
other side answers automatically, so two instances pointed at the same
server will find each other and talk.`,
}

// Execute runs the command tree. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8080", "Base URL of the pairing API")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}
