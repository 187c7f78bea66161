package main

import (
	"crypto/ecdh"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/seif-protocol/seif-go/internal/config"
	"github.com/seif-protocol/seif-go/internal/logging"
	"github.com/seif-protocol/seif-go/internal/metrics"
	"github.com/seif-protocol/seif-go/internal/record"
	"github.com/seif-protocol/seif-go/internal/seifcrypto"
	"github.com/seif-protocol/seif-go/internal/transport"
	"github.com/seif-protocol/seif-go/seif"
)

func runCmd() *cobra.Command {
	var configPath, dataDir, passphraseEnv string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run as a long-lived peer: accept listeners and dial configured peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dataDir != "" {
				cfg.Identity.DataDir = dataDir
			}
			if passphraseEnv != "" {
				cfg.Identity.PassphraseEnv = passphraseEnv
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			s, err := openStore(cfg.Identity.DataDir, cfg.Identity.PassphraseEnv)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			local, err := s.ReadKeypair()
			if err != nil {
				return fmt.Errorf("read local keypair: %w (run 'seifctl keygen' first)", err)
			}

			m := metrics.Default()
			if cfg.Metrics.Enabled {
				startMetricsServer(cfg.Metrics.Address, logger)
			}

			var closers []seif.Closer
			var reconnectors []*seif.Reconnector

			for _, l := range cfg.Listeners {
				tr, err := resolveTransport(l.Transport)
				if err != nil {
					return err
				}
				closer, err := runListener(local, tr, l, m, logger)
				if err != nil {
					return fmt.Errorf("start listener %s: %w", l.Address, err)
				}
				closers = append(closers, closer)
				logger.Info("listener started", logging.KeyAddress, l.Address, logging.KeyTransport, l.Transport)
			}

			for _, p := range cfg.Peers {
				a, err := s.ReadAcquaintance(p.Petname)
				if err != nil {
					return fmt.Errorf("look up peer %q: %w", p.Petname, err)
				}
				remotePub, err := seifcrypto.ImportPublicKey(a.PublicKey)
				if err != nil {
					return fmt.Errorf("peer %q has invalid public key: %w", p.Petname, err)
				}

				tr, err := resolveTransport("tcp")
				if err != nil {
					return err
				}

				petname := p.Petname
				addr := a.Address

				r := seif.NewReconnector(seif.ReconnectPolicy{
					InitialDelay: p.Reconnect.InitialDelay,
					MaxDelay:     p.Reconnect.MaxDelay,
					Multiplier:   p.Reconnect.Multiplier,
					Jitter:       p.Reconnect.Jitter,
					MaxRetries:   p.Reconnect.MaxRetries,
				}, func() error {
					m.RecordRedialAttempt()
					_, err := seif.Connect(seif.ConnectConfig{
						Keypair:         local,
						Transport:       tr,
						Address:         addr,
						RemotePublicKey: remotePub,
						Logger:          logger,
						Metrics:         m,
						OnOpen: func(c *seif.Conn) {
							m.RecordRedialSuccess()
							logger.Info("peer session open", logging.KeyPeerPetname, petname)
						},
						OnMessage: func(c *seif.Conn, msg record.Message) {},
						OnClose: func(c *seif.Conn, info *seif.CloseInfo) {
							logger.Info("peer session closed", logging.KeyPeerPetname, petname)
						},
					})
					return err
				}, func(attempt int, err error) {
					logger.Warn("peer dial failed", logging.KeyPeerPetname, petname, logging.KeyError, err, "attempt", attempt)
				})
				r.Start()
				reconnectors = append(reconnectors, r)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("shutting down")
			for _, r := range reconnectors {
				r.Stop()
			}
			for _, c := range closers {
				c.Close("shutdown")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "Override identity.data_dir")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "", "Override identity.passphrase_env")

	return cmd
}

func runListener(local *seifcrypto.Keypair, tr transport.Transport, l config.ListenerConfig, m *metrics.Metrics, logger *slog.Logger) (seif.Closer, error) {
	return seif.Listen(seif.ListenConfig{
		Keypair:   local,
		Transport: tr,
		Address:   l.Address,
		Logger:    logger,
		Metrics:   m,
		ListenOptions: transport.ListenOptions{
			AcceptRate:  l.AcceptRate,
			AcceptBurst: l.AcceptBurst,
		},
		OnOpen: func(c *seif.Conn, peerPub *ecdh.PublicKey, helloValue, connectionInfo interface{}) {
			logger.Info("session open", logging.KeyRemoteAddr, l.Address)
		},
		OnMessage: func(c *seif.Conn, msg record.Message) {},
		OnClose: func(c *seif.Conn, info *seif.CloseInfo) {
			logger.Info("session closed")
		},
	})
}

func startMetricsServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", logging.KeyError, err)
		}
	}()
}
