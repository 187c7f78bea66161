package main

import (
	"crypto/ecdh"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/seif-protocol/seif-go/internal/record"
	"github.com/seif-protocol/seif-go/internal/store"
	"github.com/seif-protocol/seif-go/seif"
)

func listenCmd() *cobra.Command {
	var dataDir, passphraseEnv string
	var address, transportName string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept Seif sessions and print received messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dataDir, passphraseEnv)
			if err != nil {
				return err
			}
			defer s.Close()

			local, err := s.ReadKeypair()
			if err != nil {
				return fmt.Errorf("read local keypair: %w (run 'seifctl keygen' first)", err)
			}

			tr, err := resolveTransport(transportName)
			if err != nil {
				return err
			}

			closer, err := seif.Listen(seif.ListenConfig{
				Keypair:   local,
				Transport: tr,
				Address:   address,
				OnOpen: func(c *seif.Conn, peerPub *ecdh.PublicKey, helloValue, connectionInfo interface{}) {
					printOK("session open from %s", describePeer(s, peerPub))
				},
				OnMessage: func(c *seif.Conn, msg record.Message) {
					if text, ok := msg.Get("text"); ok {
						size := humanize.Bytes(uint64(len(fmt.Sprint(text))))
						fmt.Printf("< %v (%s)\n", text, size)
					}
				},
				OnClose: func(c *seif.Conn, info *seif.CloseInfo) {
					if info != nil && info.Reason != nil {
						printInfo("session closed: %s", info.Reason.Kind)
					} else {
						printInfo("session closed")
					}
				},
			})
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}

			printInfo("listening on %s (%s)", address, transportName)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			closer.Close("shutdown")
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the keypair store")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "SEIF_PASSPHRASE", "Environment variable holding the wrapping passphrase")
	cmd.Flags().StringVar(&address, "address", "0.0.0.0:4433", "Address to listen on")
	cmd.Flags().StringVar(&transportName, "transport", "tcp", "Transport: tcp, ws, or quic")

	return cmd
}

// describePeer looks the connecting public key up in the addressbook so
// known peers show their petname instead of a raw hex key.
func describePeer(s *store.Store, peerPub *ecdh.PublicKey) string {
	raw := peerPub.Bytes()
	acquaintances, err := s.ListAcquaintances()
	if err != nil {
		return hex.EncodeToString(raw)
	}
	for _, a := range acquaintances {
		if hex.EncodeToString(a.PublicKey) == hex.EncodeToString(raw) {
			return a.Petname
		}
	}
	return hex.EncodeToString(raw)
}
