package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/seif-protocol/seif-go/internal/record"
	"github.com/seif-protocol/seif-go/internal/seifcrypto"
	"github.com/seif-protocol/seif-go/internal/session"
	"github.com/seif-protocol/seif-go/seif"
)

func connectCmd() *cobra.Command {
	var dataDir, passphraseEnv string
	var address, publicKeyHex, transportName string

	cmd := &cobra.Command{
		Use:   "connect [petname]",
		Short: "Dial a peer and exchange line-delimited messages over stdin/stdout",
		Long: `Dial a peer by petname (looked up in the local addressbook) or by
explicit --address/--public-key, and relay lines typed on stdin as
status-send messages. Messages received from the peer are printed to
stdout, one per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petname := ""
			if len(args) == 1 {
				petname = args[0]
			}

			s, err := openStore(dataDir, passphraseEnv)
			if err != nil {
				return err
			}
			defer s.Close()

			local, err := s.ReadKeypair()
			if err != nil {
				return fmt.Errorf("read local keypair: %w (run 'seifctl keygen' first)", err)
			}

			if petname != "" {
				a, err := s.ReadAcquaintance(petname)
				if err != nil {
					return fmt.Errorf("look up %q: %w", petname, err)
				}
				address = a.Address
				publicKeyHex = hex.EncodeToString(a.PublicKey)
			}
			if address == "" || publicKeyHex == "" {
				return fmt.Errorf("need either a petname or both --address and --public-key")
			}

			remotePubRaw, err := hex.DecodeString(publicKeyHex)
			if err != nil {
				return fmt.Errorf("decode public key: %w", err)
			}
			remotePub, err := seifcrypto.ImportPublicKey(remotePubRaw)
			if err != nil {
				return fmt.Errorf("import public key: %w", err)
			}

			tr, err := resolveTransport(transportName)
			if err != nil {
				return err
			}

			var active atomic.Pointer[seif.Conn]
			closed := make(chan struct{})

			closer, err := seif.Connect(seif.ConnectConfig{
				Keypair:         local,
				Transport:       tr,
				Address:         address,
				RemotePublicKey: remotePub,
				OnOpen: func(c *seif.Conn) {
					active.Store(c)
					printOK("session open with %s", address)
				},
				OnMessage: func(c *seif.Conn, msg record.Message) {
					if text, ok := msg.Get("text"); ok {
						size := humanize.Bytes(uint64(len(fmt.Sprint(text))))
						fmt.Printf("< %v (%s)\n", text, size)
					}
				},
				OnClose: func(c *seif.Conn, info *seif.CloseInfo) {
					active.Store(nil)
					if info != nil && info.Reason != nil && info.Reason.Kind == session.KindRedirected {
						printInfo("redirected to %s, redialing", info.RedirectAddress)
						return
					}
					if info != nil && info.Reason != nil {
						printInfo("session closed: %s", info.Reason.Kind)
					} else {
						printInfo("session closed")
					}
					close(closed)
				},
			})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			lines := make(chan string)
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
				close(lines)
			}()

			for {
				select {
				case line, ok := <-lines:
					if !ok {
						closer.Close("local close")
						<-closed
						return nil
					}
					if c := active.Load(); c != nil {
						c.StatusSend(record.Message{{ID: "text", Value: line}})
					} else {
						printInfo("no active session, message dropped")
					}
				case <-sigCh:
					closer.Close("interrupted")
					<-closed
					return nil
				case <-closed:
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the keypair store")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "SEIF_PASSPHRASE", "Environment variable holding the wrapping passphrase")
	cmd.Flags().StringVar(&address, "address", "", "Peer address (host:port), if not using a petname")
	cmd.Flags().StringVar(&publicKeyHex, "public-key", "", "Peer public key, hex-encoded, if not using a petname")
	cmd.Flags().StringVar(&transportName, "transport", "tcp", "Transport: tcp, ws, or quic")

	return cmd
}
