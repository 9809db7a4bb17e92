package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/portalguard/internal/util"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a PII encryption key",
	Long:  `Prints a fresh random 256-bit key as 64 hex characters, suitable for PORTALGUARD_ENCRYPTION_KEY.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := util.NewAESKey()
		if err != nil {
			return fmt.Errorf("generating key: %w", err)
		}
		defer util.WipeBytes(key)
		fmt.Fprintln(cmd.OutOrStdout(), util.HexEncode(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
