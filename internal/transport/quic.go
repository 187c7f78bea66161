package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	quicMaxIdleTimeout  = 60 * time.Second
	quicKeepAlive       = 30 * time.Second
	quicMaxReadMsgSize  = 16 * 1024 * 1024
	quicLengthPrefixLen = 4
)

// QUICTransport implements Transport over QUIC, opening exactly one stream
// per connection — spec.md §1 has no notion of multiple virtual streams
// per session, unlike the teacher's many-streams-per-connection model.
type QUICTransport struct {
	mu        sync.Mutex
	listeners []*quicListener
	closed    bool
}

// NewQUICTransport creates a new QUIC transport.
func NewQUICTransport() *QUICTransport {
	return &QUICTransport{}
}

func (t *QUICTransport) Type() Type { return TypeQUIC }

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        quicMaxIdleTimeout,
		KeepAlivePeriod:       quicKeepAlive,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: 0,
	}
}

// Dial connects to a remote peer over QUIC and opens the connection's one
// stream.
func (t *QUICTransport) Dial(ctx context.Context, addr string, opts DialOptions) (Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPNProtocol},
			MinVersion:         tls.VersionTLS13,
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	qconn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: quic dial: %w", err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(0, "stream open failed")
		return nil, fmt.Errorf("transport: quic open stream: %w", err)
	}

	return newQUICConn(qconn, stream), nil
}

// Listen creates a QUIC listener.
func (t *QUICTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		cfg, err := selfSignedTLSConfig(addr)
		if err != nil {
			return nil, err
		}
		tlsConfig = cfg
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{ALPNProtocol}
	}

	ln, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: quic listen: %w", err)
	}

	ql := &quicListener{listener: ln, limiter: newAcceptLimiter(opts.AcceptRate, opts.AcceptBurst)}
	t.listeners = append(t.listeners, ql)
	return ql, nil
}

func (t *QUICTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var lastErr error
	for _, l := range t.listeners {
		if err := l.Close(); err != nil {
			lastErr = err
		}
	}
	t.listeners = nil
	return lastErr
}

type quicListener struct {
	listener *quic.Listener
	limiter  *acceptLimiter
	mu       sync.Mutex
	closed   bool
}

// Accept waits for the next QUIC connection and its one stream. The stream
// only becomes visible once the dialer has written data on it, so Accept
// does not return for a dialer that has not yet sent anything.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	for {
		qconn, err := l.listener.Accept(ctx)
		if err != nil {
			return nil, err
		}
		if l.limiter != nil && !l.limiter.Allow() {
			qconn.CloseWithError(0, "accept rate exceeded")
			continue
		}

		stream, err := qconn.AcceptStream(ctx)
		if err != nil {
			qconn.CloseWithError(0, "stream accept failed")
			continue
		}
		return newQUICConn(qconn, stream), nil
	}
}

func (l *quicListener) Addr() string {
	return l.listener.Addr().String()
}

func (l *quicListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

// quicConn adapts a QUIC connection's single stream to the unframed Conn
// interface. QUIC streams are byte streams, not message streams, so Send
// writes a 4-byte big-endian length prefix ahead of each chunk and Recv
// reads it back off — the wire-level framing record.Build/Decoder sits on
// top of, unrelated to this length prefix.
type quicConn struct {
	conn   quic.Connection
	stream quic.Stream
	mu     sync.Mutex
}

func newQUICConn(conn quic.Connection, stream quic.Stream) *quicConn {
	return &quicConn{conn: conn, stream: stream}
}

func (c *quicConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lenBuf [quicLengthPrefixLen]byte
	n := len(data)
	lenBuf[0] = byte(n >> 24)
	lenBuf[1] = byte(n >> 16)
	lenBuf[2] = byte(n >> 8)
	lenBuf[3] = byte(n)

	if _, err := c.stream.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: quic write length: %w", err)
	}
	if _, err := c.stream.Write(data); err != nil {
		return fmt.Errorf("transport: quic write payload: %w", err)
	}
	return nil
}

func (c *quicConn) Recv() ([]byte, error) {
	var lenBuf [quicLengthPrefixLen]byte
	if _, err := io.ReadFull(c.stream, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	if n < 0 || n > quicMaxReadMsgSize {
		return nil, fmt.Errorf("transport: quic message too large: %d bytes", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.stream, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *quicConn) Close() error {
	c.stream.CancelRead(0)
	c.stream.Close()
	return c.conn.CloseWithError(0, "connection closed")
}

func (c *quicConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
