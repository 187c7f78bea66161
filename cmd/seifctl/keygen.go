package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seif-protocol/seif-go/internal/seifcrypto"
	"github.com/seif-protocol/seif-go/internal/store"
)

func keygenCmd() *cobra.Command {
	var dataDir string
	var passphraseEnv string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate and store a local keypair",
		Long:  "Generate a new ECDH P-521 keypair and persist it, passphrase-wrapped, in the local store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := resolvePassphrase(passphraseEnv, true)
			if err != nil {
				return err
			}
			defer seifcrypto.ZeroBytes(pass)

			s, err := store.Open(dataDir, pass)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			if _, err := s.ReadKeypair(); err == nil && !force {
				return fmt.Errorf("a keypair already exists in %s (use --force to overwrite)", dataDir)
			} else if err != nil && err != store.ErrNotFound {
				return fmt.Errorf("read existing keypair: %w", err)
			}

			kp, err := seifcrypto.GenerateKeypair()
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}
			if err := s.WriteKeypair(kp); err != nil {
				return fmt.Errorf("write keypair: %w", err)
			}

			printOK("keypair generated in %s", dataDir)
			printInfo("public key: %s", seifcrypto.HexEncode(seifcrypto.ExportPublicKey(kp.Public)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the keypair store")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "SEIF_PASSPHRASE", "Environment variable holding the wrapping passphrase")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing keypair")

	return cmd
}
