package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	wsDefaultPath      = "/seif"
	wsDefaultReadLimit = 16 * 1024 * 1024
)

// WebSocketTransport implements Transport over a single WebSocket
// connection per session — no virtual-stream multiplexing, since §1
// scopes that out.
type WebSocketTransport struct {
	mu        sync.Mutex
	listeners []*websocketListener
	closed    bool
}

// NewWebSocketTransport creates a new WebSocket transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

func (t *WebSocketTransport) Type() Type { return TypeWebSocket }

// Dial connects to a remote peer over WebSocket.
func (t *WebSocketTransport) Dial(ctx context.Context, addr string, opts DialOptions) (Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	wsURL := parseWebSocketURL(addr)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	httpClient := buildWSHTTPClient(opts)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{ALPNProtocol},
	})
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	conn.SetReadLimit(wsDefaultReadLimit)

	return &websocketConn{conn: conn, ctx: context.Background(), remote: wsURL}, nil
}

// Listen creates a WebSocket listener bound to addr.
func (t *WebSocketTransport) Listen(addr string, opts ListenOptions) (Listener, error) {
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

	path := opts.Path
	if path == "" {
		path = wsDefaultPath
	}

	l := &websocketListener{
		path:      path,
		tlsConfig: tlsConfig,
		connCh:    make(chan *websocketConn, 16),
		closeCh:   make(chan struct{}),
		limiter:   newAcceptLimiter(opts.AcceptRate, opts.AcceptBurst),
	}
	if err := l.start(addr); err != nil {
		return nil, err
	}

	t.listeners = append(t.listeners, l)
	return l, nil
}

func (t *WebSocketTransport) Close() error {
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

type websocketListener struct {
	path      string
	tlsConfig *tls.Config
	server    *http.Server
	netLn     net.Listener
	connCh    chan *websocketConn
	closeCh   chan struct{}
	closed    atomic.Bool
	limiter   *acceptLimiter
}

func (l *websocketListener) start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, l.handle)

	l.server = &http.Server{Addr: addr, Handler: mux, TLSConfig: l.tlsConfig}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: websocket listen: %w", err)
	}
	l.netLn = ln

	go l.server.ServeTLS(ln, "", "")
	return nil
}

func (l *websocketListener) handle(w http.ResponseWriter, r *http.Request) {
	if l.closed.Load() {
		http.Error(w, "closed", http.StatusServiceUnavailable)
		return
	}
	if l.limiter != nil && !l.limiter.Allow() {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{ALPNProtocol},
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(wsDefaultReadLimit)

	wc := &websocketConn{conn: conn, ctx: context.Background(), remote: r.RemoteAddr}
	select {
	case l.connCh <- wc:
	case <-l.closeCh:
		conn.Close(websocket.StatusGoingAway, "listener closed")
	}
}

func (l *websocketListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, ErrClosed
	}
}

func (l *websocketListener) Addr() string {
	if l.netLn != nil {
		return l.netLn.Addr().String()
	}
	return ""
}

func (l *websocketListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.closeCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if l.server != nil {
		return l.server.Shutdown(ctx)
	}
	return nil
}

// websocketConn adapts a *websocket.Conn to the unframed Conn interface,
// forwarding one WebSocket binary message per Send/Recv call.
type websocketConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	remote string
	closed atomic.Bool
}

func (c *websocketConn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.conn.Write(c.ctx, websocket.MessageBinary, data)
}

func (c *websocketConn) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *websocketConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "connection closed")
}

func (c *websocketConn) RemoteAddr() string { return c.remote }

func parseWebSocketURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "wss://" + addr + wsDefaultPath
}

func buildWSHTTPClient(opts DialOptions) *http.Client {
	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   opts.Timeout,
	}
}
