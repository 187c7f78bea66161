package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seif-protocol/seif-go/internal/seifcrypto"
)

func identityCmd() *cobra.Command {
	var dataDir string
	var passphraseEnv string

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show the local public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dataDir, passphraseEnv)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			kp, err := s.ReadKeypair()
			if err != nil {
				return fmt.Errorf("read keypair: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), seifcrypto.HexEncode(seifcrypto.ExportPublicKey(kp.Public)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the keypair store")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "SEIF_PASSPHRASE", "Environment variable holding the wrapping passphrase")

	return cmd
}
