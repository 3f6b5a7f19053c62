package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.pilab.hu/idp/cache"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <refresh-token>...",
	Short: "Print the rft_id of refresh tokens",
	Long:  `Prints the fingerprint that access tokens carry in their rft_id claim and that the revocation list stores.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, token := range args {
			fmt.Fprintln(cmd.OutOrStdout(), cache.Fingerprint(token))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
}
