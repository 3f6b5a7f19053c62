package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.pilab.hu/idp/internal/crypto"
	"go.pilab.hu/idp/log"
)

var genkeyOut string

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate an RSA signing key for a tenant",
	Long:  `Writes a PEM encoded RSA private key usable as a tenant's signing_key_file.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateRSAKey()
		if err != nil {
			return err
		}
		pemBytes := crypto.EncodeRSAKey(key)

		if genkeyOut == "" {
			_, err := cmd.OutOrStdout().Write(pemBytes)
			return err
		}
		if err := os.WriteFile(genkeyOut, pemBytes, 0o600); err != nil {
			return fmt.Errorf("failed to write key: %w", err)
		}
		appLogger.Info(cmd.Context(), "Signing key written", log.Fields{"path": genkeyOut})
		return nil
	},
}

func init() {
	genkeyCmd.Flags().StringVarP(&genkeyOut, "out", "o", "", "file to write the key to (default stdout)")
	rootCmd.AddCommand(genkeyCmd)
}
