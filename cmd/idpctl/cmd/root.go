package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"go.pilab.hu/idp/log"
)

var (
	appLogger log.Logger
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "idpctl",
	Short:         "idpctl is a companion tool for the idp server",
	Long:          `A command-line tool for generating signing keys and PKCE pairs, fingerprinting refresh tokens and ending user sessions on a running idp server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		appLogger = log.NewZerologAdapter(level, true)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
