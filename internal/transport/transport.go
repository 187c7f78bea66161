// Package transport implements spec.md §6.1's transport interface: opaque,
// unframed byte delivery between two endpoints, with adapters over TCP,
// WebSocket, and QUIC.
//
// It is grounded on the teacher's internal/transport package, trimmed from
// its PeerConn/Stream pair — built for many virtual streams multiplexed
// over one connection — down to a single byte-stream-per-session Conn,
// since spec.md §1 scopes multiplexing out entirely: one Seif session owns
// one transport connection for its whole lifetime.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Type identifies the underlying wire protocol.
type Type string

const (
	TypeTCP       Type = "tcp"
	TypeWebSocket Type = "ws"
	TypeQUIC      Type = "quic"
)

// ErrClosed is returned by operations on a Dialer, Listener, or Conn that
// has already been closed.
var ErrClosed = errors.New("transport: closed")

// Conn is one opaque, unframed byte-stream connection to a peer — the
// shape spec.md §6.1 requires: send(bytes), close(), and a blocking
// receive primitive the caller pumps from its own goroutine. It also
// satisfies internal/session.TransportConn.
type Conn interface {
	// Send transmits one chunk.
	Send(data []byte) error

	// Recv blocks for the next chunk of bytes. No framing is imposed —
	// callers must not assume any relationship between the chunk
	// boundaries a sender wrote and those a receiver observes, even
	// though all three adapters here happen to preserve them (WebSocket
	// per message, TCP and QUIC via a length prefix per chunk).
	Recv() ([]byte, error)

	// Close terminates the connection. Per §6.1's contract, once Close
	// returns, no further Recv should yield new application data.
	Close() error

	// RemoteAddr identifies the peer, for logging and connectionInfo.
	RemoteAddr() string
}

// DialOptions configures an outgoing connection.
type DialOptions struct {
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// ListenOptions configures a listener.
type ListenOptions struct {
	TLSConfig *tls.Config

	// AcceptRate limits Accept to this many new connections per second;
	// 0 disables limiting. Defends a receiver against connection floods
	// without touching any protocol invariant.
	AcceptRate  float64
	AcceptBurst int

	// Path is the HTTP path the WebSocket adapter upgrades on. Ignored
	// by TCP and QUIC.
	Path string
}

// DefaultDialOptions returns DialOptions with a sensible dial timeout.
func DefaultDialOptions() DialOptions {
	return DialOptions{Timeout: 30 * time.Second}
}

// DefaultListenOptions returns ListenOptions with accept-rate limiting
// disabled.
func DefaultListenOptions() ListenOptions {
	return ListenOptions{}
}

// Dialer opens outgoing connections.
type Dialer interface {
	Dial(ctx context.Context, address string, opts DialOptions) (Conn, error)
	Type() Type
}

// Listener accepts incoming connections, one per Seif session.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Transport bundles dialing and listening for one wire protocol.
type Transport interface {
	Dial(ctx context.Context, address string, opts DialOptions) (Conn, error)
	Listen(address string, opts ListenOptions) (Listener, error)
	Type() Type
	Close() error
}

func unsupportedErr(t Type, op string) error {
	return fmt.Errorf("transport: %s does not support %s", t, op)
}
