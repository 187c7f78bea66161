package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	tcpMaxReadMsgSize  = 16 * 1024 * 1024
	tcpLengthPrefixLen = 4
)

// TCPTransport implements Transport over plain (optionally TLS-wrapped)
// TCP. There is no ecosystem library role beyond the standard net and
// crypto/tls packages for this concern.
type TCPTransport struct {
	mu        sync.Mutex
	listeners []*tcpListener
	closed    bool
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) Type() Type { return TypeTCP }

// Dial connects to a remote peer over TCP, optionally wrapped in TLS.
func (t *TCPTransport) Dial(ctx context.Context, addr string, opts DialOptions) (Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if opts.TLSConfig != nil {
		tlsConfig := opts.TLSConfig
		if len(tlsConfig.NextProtos) == 0 {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.NextProtos = []string{ALPNProtocol}
		}
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial: %w", err)
	}

	return &tcpConn{conn: conn}, nil
}

// Listen creates a TCP listener, optionally TLS-wrapped.
func (t *TCPTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp listen: %w", err)
	}

	if opts.TLSConfig != nil {
		tlsConfig := opts.TLSConfig
		if len(tlsConfig.NextProtos) == 0 {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.NextProtos = []string{ALPNProtocol}
		}
		ln = tls.NewListener(ln, tlsConfig)
	}

	tl := &tcpListener{listener: ln, limiter: newAcceptLimiter(opts.AcceptRate, opts.AcceptBurst)}
	t.listeners = append(t.listeners, tl)
	return tl, nil
}

func (t *TCPTransport) Close() error {
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

type tcpListener struct {
	listener net.Listener
	limiter  *acceptLimiter
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.listener.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if l.limiter != nil && !l.limiter.Allow() {
			r.conn.Close()
			return l.Accept(ctx)
		}
		return &tcpConn{conn: r.conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Addr() string {
	return l.listener.Addr().String()
}

func (l *tcpListener) Close() error {
	return l.listener.Close()
}

// tcpConn adapts a net.Conn byte stream to the unframed Conn interface
// with a 4-byte big-endian length prefix per chunk, the same scheme the
// QUIC adapter uses over its one stream.
type tcpConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *tcpConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lenBuf [tcpLengthPrefixLen]byte
	n := len(data)
	lenBuf[0] = byte(n >> 24)
	lenBuf[1] = byte(n >> 16)
	lenBuf[2] = byte(n >> 8)
	lenBuf[3] = byte(n)

	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: tcp write length: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("transport: tcp write payload: %w", err)
	}
	return nil
}

func (c *tcpConn) Recv() ([]byte, error) {
	var lenBuf [tcpLengthPrefixLen]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	if n < 0 || n > tcpMaxReadMsgSize {
		return nil, fmt.Errorf("transport: tcp message too large: %d bytes", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
