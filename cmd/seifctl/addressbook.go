package main

import (
	"encoding/hex"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/seif-protocol/seif-go/internal/store"
)

func addressbookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "addressbook",
		Aliases: []string{"ab"},
		Short:   "Manage remembered peers (petname -> address/public key)",
	}

	cmd.AddCommand(addressbookListCmd())
	cmd.AddCommand(addressbookAddCmd())
	cmd.AddCommand(addressbookRemoveCmd())
	return cmd
}

func addressbookListCmd() *cobra.Command {
	var dataDir, passphraseEnv string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dataDir, passphraseEnv)
			if err != nil {
				return err
			}
			defer s.Close()

			acquaintances, err := s.ListAcquaintances()
			if err != nil {
				return fmt.Errorf("list acquaintances: %w", err)
			}
			if len(acquaintances) == 0 {
				printInfo("no remembered peers")
				return nil
			}
			for _, a := range acquaintances {
				fmt.Printf("%s\t%s\t%s\n", styleBold.Render(a.Petname), a.Address, hex.EncodeToString(a.PublicKey))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the keypair store")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "SEIF_PASSPHRASE", "Environment variable holding the wrapping passphrase")
	return cmd
}

func addressbookAddCmd() *cobra.Command {
	var dataDir, passphraseEnv string
	var petname, address, publicKeyHex string
	var interactive bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a remembered peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive || (petname == "" && address == "" && publicKeyHex == "") {
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().Title("Petname").Value(&petname).Validate(nonEmpty("petname")),
						huh.NewInput().Title("Address (host:port)").Value(&address).Validate(nonEmpty("address")),
						huh.NewInput().Title("Public key (hex)").Value(&publicKeyHex).Validate(nonEmpty("public key")),
					),
				)
				if err := form.Run(); err != nil {
					return fmt.Errorf("addressbook form: %w", err)
				}
			}

			pub, err := hex.DecodeString(publicKeyHex)
			if err != nil {
				return fmt.Errorf("decode public key: %w", err)
			}

			s, err := openStore(dataDir, passphraseEnv)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.AddAcquaintance(store.Acquaintance{
				Petname:   petname,
				Address:   address,
				PublicKey: pub,
			}); err != nil {
				return fmt.Errorf("add acquaintance: %w", err)
			}

			printOK("remembered %s at %s", petname, address)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the keypair store")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "SEIF_PASSPHRASE", "Environment variable holding the wrapping passphrase")
	cmd.Flags().StringVar(&petname, "petname", "", "Peer petname")
	cmd.Flags().StringVar(&address, "address", "", "Peer address (host:port)")
	cmd.Flags().StringVar(&publicKeyHex, "public-key", "", "Peer public key, hex-encoded")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt interactively even if flags are set")

	return cmd
}

func addressbookRemoveCmd() *cobra.Command {
	var dataDir, passphraseEnv string

	cmd := &cobra.Command{
		Use:   "remove <petname>",
		Short: "Forget a remembered peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dataDir, passphraseEnv)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.RemoveAcquaintance(args[0]); err != nil {
				return fmt.Errorf("remove acquaintance: %w", err)
			}
			printOK("forgot %s", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the keypair store")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "SEIF_PASSPHRASE", "Environment variable holding the wrapping passphrase")
	return cmd
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
}
