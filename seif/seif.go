// Package seif implements spec.md §6.3's engine interface: the thin
// façade that resolves a transport connection into a running
// internal/session.Session, drives its transport read-pump, and — for
// initiators — re-dials automatically when the peer issues a Redirect.
//
// The teacher has no single equivalent entry point; the closest shape is
// internal/peer.Manager's callback-config plumbing and reconnect
// bookkeeping, generalized here to spec.md's redirect flow instead of
// the teacher's idle-timeout reconnect.
package seif

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seif-protocol/seif-go/internal/logging"
	"github.com/seif-protocol/seif-go/internal/metrics"
	"github.com/seif-protocol/seif-go/internal/record"
	"github.com/seif-protocol/seif-go/internal/seifcrypto"
	"github.com/seif-protocol/seif-go/internal/session"
	"github.com/seif-protocol/seif-go/internal/transport"
)

// Conn is the handle application code gets in OnOpen/OnMessage/OnClose: a
// thin wrapper around the active internal/session.Session for the
// current transport connection. After a redirect the old Conn's session
// is torn down and a new Conn wraps the new one — per spec.md §3's
// lifecycle, redirect always means tearing down one session and creating
// another, never mutating one in place.
type Conn struct {
	session *session.Session
}

// Send enqueues msg for delivery under record.TypeSend and returns a
// waiter resolved by the matching Acknowledge.
func (c *Conn) Send(msg record.Message) *session.Waiter { return c.session.Send(msg) }

// StatusSend enqueues a fire-and-forget message.
func (c *Conn) StatusSend(msg record.Message) { c.session.StatusSend(msg) }

// Close tears this connection's session down.
func (c *Conn) Close(reason string) { c.session.Close(reason) }

// Redirect is valid only on a receiver-side Conn: it tells the initiator
// to close this session and re-dial against (address, publicKey).
func (c *Conn) Redirect(address string, publicKey []byte, permanent bool, redirectContext interface{}) error {
	return c.session.Redirect(address, publicKey, permanent, redirectContext)
}

// CloseInfo is delivered to an OnClose callback exactly once per Conn.
type CloseInfo struct {
	// Reason is nil for an orderly, unreasoned remote close: the
	// transport's Recv reported io.EOF, as the TCP adapter does when the
	// peer closes. Any other Recv error, including a WebSocket close
	// frame, is reported with Kind session.KindTransportFailed.
	Reason *session.TeardownError

	// The following are set only when Reason.Kind == session.KindRedirected.
	RedirectAddress   string
	RedirectPublicKey []byte
	Permanent         bool
	RedirectContext   interface{}
}

// Closer is returned by Connect and Listen. For Connect, Close cancels a
// pending handshake or closes the active session. For Listen, Close stops
// accepting and suppresses further callbacks from sessions already
// accepted; it does not close those sessions.
type Closer interface {
	Close(reason string)
}

// transportConnAdapter satisfies internal/session.TransportConn over a
// transport.Conn, dropping the received-bytes side (the façade's read
// pump consumes that directly via transport.Conn.Recv).
type transportConnAdapter struct {
	conn transport.Conn
}

func (a *transportConnAdapter) Send(data []byte) error { return a.conn.Send(data) }
func (a *transportConnAdapter) Close() error            { return a.conn.Close() }

// pumpReads runs in its own goroutine for the lifetime of one transport
// connection: it blocks on Recv and feeds every chunk into the session,
// notifying the session when the transport itself ends.
func pumpReads(conn transport.Conn, s *session.Session) {
	for {
		data, err := conn.Recv()
		if err != nil {
			s.NotifyTransportClosed(classifyRecvErr(err))
			return
		}
		s.Feed(data)
	}
}

// classifyRecvErr maps an orderly end of stream (io.EOF) to nil, so the
// session reports it as a reasonless close.
func classifyRecvErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ConnectConfig configures an outgoing (initiator) connection.
type ConnectConfig struct {
	Keypair         *seifcrypto.Keypair
	Transport       transport.Transport
	Address         string
	RemotePublicKey *ecdh.PublicKey
	HelloValue      interface{}
	ConnectionInfo  interface{}

	OnOpen    func(c *Conn)
	OnMessage func(c *Conn, msg record.Message)
	OnClose   func(c *Conn, info *CloseInfo)

	DialOptions transport.DialOptions
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// connectHandle is the Closer Connect returns. It tracks the current
// in-flight session (which changes across redirects) and, once the
// caller invokes Close, suppresses all further OnOpen/OnMessage/OnClose
// delivery — per spec.md §5's cancellation rule that the engine must
// avoid invoking on_close after the caller has explicitly cancelled.
type connectHandle struct {
	mu        sync.Mutex
	current   *session.Session
	cancelled atomic.Bool
	lastReason string
}

func (h *connectHandle) Close(reason string) {
	h.cancelled.Store(true)
	h.mu.Lock()
	cur := h.current
	h.mu.Unlock()
	if cur != nil {
		cur.Close(reason)
	}
}

func (h *connectHandle) setCurrent(s *session.Session) {
	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
}

// Connect implements spec.md §6.3's connect(): dials address, drives the
// Seif handshake as initiator, and transparently re-dials on Redirect.
func Connect(cfg ConnectConfig) (Closer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Default()
	}

	h := &connectHandle{}
	if err := dialAndRun(cfg, h, m, logger); err != nil {
		return nil, err
	}
	return h, nil
}

func dialAndRun(cfg ConnectConfig, h *connectHandle, m *metrics.Metrics, logger *slog.Logger) error {
	if h.cancelled.Load() {
		return nil
	}

	dialOpts := cfg.DialOptions
	ctx := context.Background()
	if dialOpts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialOpts.Timeout)
		defer cancel()
	}

	conn, err := cfg.Transport.Dial(ctx, cfg.Address, dialOpts)
	if err != nil {
		return fmt.Errorf("seif: connect: %w", err)
	}
	if h.cancelled.Load() {
		conn.Close()
		return nil
	}

	start := time.Now()

	s, err := session.NewInitiator(session.InitiatorConfig{
		Local:           cfg.Keypair,
		RemotePublicKey: cfg.RemotePublicKey,
		Conn:            &transportConnAdapter{conn: conn},
		HelloValue:      cfg.HelloValue,
		ConnectionInfo:  cfg.ConnectionInfo,
		Logger:          logger,
		Callbacks: session.InitiatorCallbacks{
			OnOpen: func(s *session.Session) {
				if h.cancelled.Load() {
					return
				}
				m.RecordHandshake(time.Since(start).Seconds())
				m.RecordSessionOpen("initiator")
				if cfg.OnOpen != nil {
					cfg.OnOpen(&Conn{session: s})
				}
			},
			OnMessage: func(s *session.Session, msg record.Message) {
				if h.cancelled.Load() {
					return
				}
				if cfg.OnMessage != nil {
					cfg.OnMessage(&Conn{session: s}, msg)
				}
			},
			OnClose: func(s *session.Session, ev *session.CloseEvent) {
				m.RecordSessionClose(closeReasonLabel(ev), time.Since(start).Seconds())
				if ev != nil && ev.Reason != nil && ev.Reason.Kind == session.KindHandshakeFailed {
					m.RecordHandshakeError(string(ev.Reason.Kind))
				}

				redirecting := ev != nil && ev.Reason != nil && ev.Reason.Kind == session.KindRedirected && ev.Redirect != nil
				if !h.cancelled.Load() && cfg.OnClose != nil {
					info := &CloseInfo{}
					if ev != nil {
						info.Reason = ev.Reason
						if ev.Redirect != nil {
							info.RedirectAddress = ev.Redirect.Address
							info.RedirectPublicKey = ev.Redirect.PublicKey
							info.Permanent = ev.Redirect.Permanent
							info.RedirectContext = ev.Redirect.RedirectContext
						}
					}
					cfg.OnClose(&Conn{session: s}, info)
				}

				if redirecting && !h.cancelled.Load() {
					m.RecordRedialAttempt()
					redialCfg := cfg
					redialCfg.Address = ev.Redirect.Address
					redialCfg.ConnectionInfo = ev.Redirect.RedirectContext
					pub, pubErr := seifcrypto.ImportPublicKey(ev.Redirect.PublicKey)
					if pubErr != nil {
						logger.Error("seif: redirect target public key invalid", logging.KeyError, pubErr)
						return
					}
					redialCfg.RemotePublicKey = pub
					if err := dialAndRun(redialCfg, h, m, logger); err != nil {
						logger.Error("seif: redial after redirect failed", logging.KeyError, err, logging.KeyAddress, redialCfg.Address)
					} else {
						m.RecordRedialSuccess()
					}
				}
			},
		},
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("seif: initiate handshake: %w", err)
	}
	h.setCurrent(s)

	go pumpReads(conn, s)
	return nil
}

func closeReasonLabel(ev *session.CloseEvent) string {
	if ev == nil || ev.Reason == nil {
		return "orderly"
	}
	return string(ev.Reason.Kind)
}

// ListenConfig configures an incoming (receiver) listener.
type ListenConfig struct {
	Keypair   *seifcrypto.Keypair
	Transport transport.Transport
	Address   string

	OnOpen    func(c *Conn, peerPublicKey *ecdh.PublicKey, helloValue, connectionInfo interface{})
	OnMessage func(c *Conn, msg record.Message)
	OnClose   func(c *Conn, info *CloseInfo)

	ListenOptions transport.ListenOptions
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

type listenHandle struct {
	listener  transport.Listener
	cancelled atomic.Bool
}

func (h *listenHandle) Close(reason string) {
	h.cancelled.Store(true)
	h.listener.Close()
}

// Listen implements spec.md §6.3's listen(): binds address and spawns one
// receiver-role session per accepted connection.
func Listen(cfg ListenConfig) (Closer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Default()
	}

	ln, err := cfg.Transport.Listen(cfg.Address, cfg.ListenOptions)
	if err != nil {
		return nil, fmt.Errorf("seif: listen: %w", err)
	}

	h := &listenHandle{listener: ln}
	go acceptLoop(ln, h, cfg, m, logger)
	return h, nil
}

func acceptLoop(ln transport.Listener, h *listenHandle, cfg ListenConfig, m *metrics.Metrics, logger *slog.Logger) {
	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			if h.cancelled.Load() {
				return
			}
			logger.Error("seif: accept failed", logging.KeyError, err, logging.KeyAddress, cfg.Address)
			continue
		}
		if h.cancelled.Load() {
			conn.Close()
			return
		}
		go acceptOne(conn, h, cfg, m, logger)
	}
}

func acceptOne(conn transport.Conn, h *listenHandle, cfg ListenConfig, m *metrics.Metrics, logger *slog.Logger) {
	start := time.Now()

	s := session.NewReceiver(session.ReceiverConfig{
		Local:  cfg.Keypair,
		Conn:   &transportConnAdapter{conn: conn},
		Logger: logger,
		Callbacks: session.ReceiverCallbacks{
			OnOpen: func(s *session.Session, peerPub *ecdh.PublicKey, helloValue, connectionInfo interface{}) {
				if h.cancelled.Load() {
					return
				}
				m.RecordHandshake(time.Since(start).Seconds())
				m.RecordSessionOpen("receiver")
				if cfg.OnOpen != nil {
					cfg.OnOpen(&Conn{session: s}, peerPub, helloValue, connectionInfo)
				}
			},
			OnMessage: func(s *session.Session, msg record.Message) {
				if h.cancelled.Load() {
					return
				}
				if cfg.OnMessage != nil {
					cfg.OnMessage(&Conn{session: s}, msg)
				}
			},
			OnClose: func(s *session.Session, ev *session.CloseEvent) {
				m.RecordSessionClose(closeReasonLabel(ev), time.Since(start).Seconds())
				if h.cancelled.Load() || cfg.OnClose == nil {
					return
				}
				info := &CloseInfo{}
				if ev != nil {
					info.Reason = ev.Reason
				}
				cfg.OnClose(&Conn{session: s}, info)
			},
		},
	})

	go pumpReads(conn, s)
}
