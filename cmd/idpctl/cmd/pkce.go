package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.pilab.hu/idp/services"
)

var pkceVerifierLength int

var pkceCmd = &cobra.Command{
	Use:   "pkce [verifier]",
	Short: "Print a PKCE verifier and its S256 challenge",
	Long:  `Generates a random code_verifier, or uses the one given, and prints it with the matching S256 code_challenge.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verifier := ""
		if len(args) == 1 {
			verifier = args[0]
		} else {
			if pkceVerifierLength < 43 || pkceVerifierLength > 128 {
				return fmt.Errorf("verifier length must be between 43 and 128, got %d", pkceVerifierLength)
			}
			v, err := services.RandomAlphanumeric(pkceVerifierLength)
			if err != nil {
				return err
			}
			verifier = v
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "code_verifier:         %s\n", verifier)
		fmt.Fprintf(out, "code_challenge:        %s\n", services.S256Challenge(verifier))
		fmt.Fprintf(out, "code_challenge_method: %s\n", services.PKCEMethodS256)
		return nil
	},
}

func init() {
	pkceCmd.Flags().IntVar(&pkceVerifierLength, "length", 64, "length of the generated verifier")
	rootCmd.AddCommand(pkceCmd)
}
