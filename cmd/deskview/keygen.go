package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"tarun-kavipurapu/desk-viewer/pkg/keys"
)

var keySize int

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random session key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keys.Generate(keySize)
		if err != nil {
			return err
		}
		defer keys.Wipe(key)
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().IntVarP(&keySize, "size", "s", keys.DefaultSize, "Key size in bytes (16, 24 or 32)")
}
