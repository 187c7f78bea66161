// Package session implements spec.md §4.5 and §5: the per-connection
// consumer state machine that drives a single Seif Protocol session from
// transport bytes in, to handshake, to open application traffic, to
// teardown.
//
// It is grounded on the teacher's internal/peer.Connection (atomic state,
// context+cancel+sync.Once lifecycle, a single owning goroutine per
// connection) and internal/peer.Manager (callback-config struct). Where the
// source protocol models the consumer as a chain of promise-returning
// closures over shared state (see spec.md §9's "deferred-resolution
// callback chain" note), this implementation uses an explicit single-owner
// goroutine reading from an unbuffered event channel — every external call
// (Send, Close, Redirect, incoming bytes) becomes one event the run loop
// processes to completion before the next, which is what gives the FIFO and
// no-post-close-callback guarantees without any separate locking.
package session

import (
	"container/list"
	"crypto/ecdh"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/seif-protocol/seif-go/internal/handshake"
	"github.com/seif-protocol/seif-go/internal/ivgen"
	"github.com/seif-protocol/seif-go/internal/record"
	"github.com/seif-protocol/seif-go/internal/seifcrypto"
)

// Role distinguishes the two handshake halves.
type Role int

const (
	RoleInitiator Role = iota
	RoleReceiver
)

// Phase is the session's position in spec.md §4.4's state machine.
type Phase int

const (
	PhaseAwaitingHello Phase = iota
	PhaseAwaitingAuthHello
	PhaseOpen
	PhaseClosed
)

// ErrorKind names the closed set of teardown causes from spec.md §7.
type ErrorKind string

const (
	KindTransportFailed    ErrorKind = "TransportFailed"
	KindHandshakeFailed    ErrorKind = "HandshakeFailed"
	KindUnsupportedVersion ErrorKind = "UnsupportedVersion"
	KindAuthError          ErrorKind = "AuthError"
	KindProtocolViolation  ErrorKind = "ProtocolViolation"
	KindIdentifierTooBig   ErrorKind = "IdentifierTooBig"
	KindIvExhausted        ErrorKind = "IvExhausted"
	KindLocalClose         ErrorKind = "LocalClose"
	KindRedirected         ErrorKind = "Redirected"
)

// TeardownError is the reason a session closed. A nil *TeardownError passed
// to an OnClose callback means an orderly, reasonless transport close.
type TeardownError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *TeardownError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("session: %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("session: %s", e.Kind)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// TeardownMode selects how destroy treats the underlying transport.
type TeardownMode int

const (
	// ModeProblem: a fatal error occurred; close the transport and report it.
	ModeProblem TeardownMode = iota
	// ModeLocalRequested: caller asked to close; close the transport.
	ModeLocalRequested
	// ModeTransportAlreadyClosed: the transport reported its own closure;
	// don't close it again.
	ModeTransportAlreadyClosed
)

var (
	// ErrNotOpen is returned by Send/StatusSend/Redirect calls made before
	// the session has completed its handshake.
	ErrNotOpen = errors.New("session: not open")

	// ErrSessionClosed is returned by calls made after the session has
	// already torn down.
	ErrSessionClosed = errors.New("session: closed")

	errMalformedRedirect = errors.New("session: malformed Redirect message")
)

// TransportConn is the per-connection handle spec.md §6.1 exposes to
// on_open: send raw bytes, or close the underlying transport.
type TransportConn interface {
	Send(data []byte) error
	Close() error
}

// Waiter is returned by Send; it resolves when the matching Acknowledge
// arrives, or rejects with the session's teardown reason. A rejected Waiter
// does not mean the peer never received the message: the session can tear
// down after the record was sent and before its Acknowledge arrived.
type Waiter struct {
	done chan struct{}
	err  error
}

func newWaiter() *Waiter {
	return &Waiter{done: make(chan struct{})}
}

// Wait blocks until the waiter resolves and returns its error (nil on a
// successful Acknowledge).
func (w *Waiter) Wait() error {
	<-w.done
	return w.err
}

// Done exposes the resolution channel for use in a select statement.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Err returns the resolved error; only valid after Done() is closed.
func (w *Waiter) Err() error { return w.err }

func (w *Waiter) resolve(err error) {
	w.err = err
	close(w.done)
}

// RedirectInfo carries an inbound Redirect record's payload up to the
// caller's OnClose handler, so the façade layer can re-dial.
type RedirectInfo struct {
	Address         string
	PublicKey       []byte
	Permanent       bool
	RedirectContext interface{}
}

// CloseEvent is delivered to OnClose exactly once per session.
type CloseEvent struct {
	// Reason is nil for an orderly, unreasoned remote close.
	Reason *TeardownError
	// Redirect is non-nil only when Reason.Kind == KindRedirected.
	Redirect *RedirectInfo
}

// InitiatorCallbacks are invoked by a session created with NewInitiator.
type InitiatorCallbacks struct {
	OnOpen    func(s *Session)
	OnMessage func(s *Session, msg record.Message)
	OnClose   func(s *Session, ev *CloseEvent)
}

// ReceiverCallbacks are invoked by a session created with NewReceiver.
type ReceiverCallbacks struct {
	OnOpen    func(s *Session, peerPublicKey *ecdh.PublicKey, helloValue, connectionInfo interface{})
	OnMessage func(s *Session, msg record.Message)
	OnClose   func(s *Session, ev *CloseEvent)
}

// --- internal event types exchanged over the run loop's channel ---

type sessionEvent interface{ isSessionEvent() }

type incomingEvent struct{ data []byte }

func (incomingEvent) isSessionEvent() {}

type sendEvent struct {
	msg        record.Message
	waiter     *Waiter
	statusOnly bool
}

func (sendEvent) isSessionEvent() {}

type closeEvent struct{ reason string }

func (closeEvent) isSessionEvent() {}

type redirectEvent struct {
	address         string
	publicKey       []byte
	permanent       bool
	redirectContext interface{}
	result          chan error
}

func (redirectEvent) isSessionEvent() {}

type transportClosedEvent struct{ err error }

func (transportClosedEvent) isSessionEvent() {}

// Session is one Seif Protocol connection: a single owning goroutine
// serializing every inbound byte, outbound call, and teardown through one
// event channel.
type Session struct {
	role  Role
	local *seifcrypto.Keypair

	remotePublicKey *ecdh.PublicKey
	connectionInfo  interface{}

	conn    TransportConn
	decoder *record.Decoder
	cipher  record.Cipher
	encIV   *ivgen.Generator
	decIV   *ivgen.Generator

	handshakeKey []byte
	sessionKey   []byte

	phase        Phase
	pendingAcks  *list.List
	pendingRedir *RedirectInfo

	initiatorCB InitiatorCallbacks
	receiverCB  ReceiverCallbacks

	events chan sessionEvent
	done   chan struct{}

	closeOnce   sync.Once
	teardownErr atomic.Pointer[TeardownError]

	log *slog.Logger
}

// InitiatorConfig configures a dialer-side session. RemotePublicKey is the
// peer identity the caller expects to be talking to.
type InitiatorConfig struct {
	Local           *seifcrypto.Keypair
	RemotePublicKey *ecdh.PublicKey
	Conn            TransportConn
	HelloValue      interface{}
	ConnectionInfo  interface{}
	Callbacks       InitiatorCallbacks
	Logger          *slog.Logger
}

// NewInitiator builds and sends the Hello record, then starts the session's
// run loop awaiting AuthHello.
func NewInitiator(cfg InitiatorConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	encIV := ivgen.New(ivgen.FixedFieldInitiator)
	decIV := ivgen.New(ivgen.FixedFieldReceiver)

	helloWire, handshakeKey, err := handshake.BuildHello(cfg.Local, cfg.RemotePublicKey, cfg.HelloValue, cfg.ConnectionInfo, encIV)
	if err != nil {
		return nil, fmt.Errorf("session: build Hello: %w", err)
	}
	if err := cfg.Conn.Send(helloWire); err != nil {
		return nil, fmt.Errorf("session: send Hello: %w", err)
	}

	s := &Session{
		role:            RoleInitiator,
		local:           cfg.Local,
		remotePublicKey: cfg.RemotePublicKey,
		conn:            cfg.Conn,
		decoder:         record.NewDecoder(),
		handshakeKey:    handshakeKey,
		phase:           PhaseAwaitingAuthHello,
		pendingAcks:     list.New(),
		initiatorCB:     cfg.Callbacks,
		events:          make(chan sessionEvent),
		done:            make(chan struct{}),
		log:             logger,
		encIV:           encIV,
		decIV:           decIV,
	}
	s.cipher = handshake.NewAEADCipher(handshakeKey, encIV, decIV)

	go s.run()
	return s, nil
}

// ReceiverConfig configures a listener-side session awaiting Hello.
type ReceiverConfig struct {
	Local     *seifcrypto.Keypair
	Conn      TransportConn
	Callbacks ReceiverCallbacks
	Logger    *slog.Logger
}

// NewReceiver starts a session's run loop awaiting an inbound Hello.
func NewReceiver(cfg ReceiverConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		role:        RoleReceiver,
		local:       cfg.Local,
		conn:        cfg.Conn,
		decoder:     record.NewDecoder(),
		phase:       PhaseAwaitingHello,
		pendingAcks: list.New(),
		receiverCB:  cfg.Callbacks,
		events:      make(chan sessionEvent),
		done:        make(chan struct{}),
		log:         logger,
		cipher:      record.Cleartext(),
		encIV:       ivgen.New(ivgen.FixedFieldReceiver),
		decIV:       ivgen.New(ivgen.FixedFieldInitiator),
	}

	go s.run()
	return s
}

// dispatch enqueues ev for the run loop, returning false if the session has
// already torn down (the channel is unbuffered, so a true return guarantees
// the event will be processed — there is no stranded-event window).
func (s *Session) dispatch(ev sessionEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Feed delivers a raw chunk received from the transport.
func (s *Session) Feed(data []byte) {
	s.dispatch(incomingEvent{data: data})
}

// NotifyTransportClosed tells the session its transport connection ended;
// err is nil for an orderly close.
func (s *Session) NotifyTransportClosed(err error) {
	s.dispatch(transportClosedEvent{err: err})
}

// Send enqueues an application message for delivery under record.TypeSend
// and returns a Waiter that resolves on the matching Acknowledge.
func (s *Session) Send(msg record.Message) *Waiter {
	w := newWaiter()
	if !s.dispatch(sendEvent{msg: msg, waiter: w}) {
		w.resolve(s.closedError())
	}
	return w
}

// StatusSend enqueues a fire-and-forget application message.
func (s *Session) StatusSend(msg record.Message) {
	s.dispatch(sendEvent{msg: msg, statusOnly: true})
}

// Close tears the session down with mode ModeLocalRequested. Idempotent.
func (s *Session) Close(reason string) {
	s.dispatch(closeEvent{reason: reason})
}

// Redirect is valid only for a receiver-role, open session: it sends a
// Redirect record naming the new (address, publicKey) and then closes this
// session locally.
func (s *Session) Redirect(address string, publicKey []byte, permanent bool, redirectContext interface{}) error {
	result := make(chan error, 1)
	if !s.dispatch(redirectEvent{
		address:         address,
		publicKey:       publicKey,
		permanent:       permanent,
		redirectContext: redirectContext,
		result:          result,
	}) {
		return s.closedError()
	}
	return <-result
}

func (s *Session) closedError() error {
	if e := s.teardownErr.Load(); e != nil {
		return e
	}
	return ErrSessionClosed
}

// Phase returns the session's current state-machine phase.
func (s *Session) Phase() Phase {
	return s.phase
}

func (s *Session) run() {
	defer close(s.done)
	for ev := range s.events {
		if !s.handleEvent(ev) {
			return
		}
	}
}

func (s *Session) handleEvent(ev sessionEvent) bool {
	switch e := ev.(type) {
	case incomingEvent:
		return s.handleIncoming(e.data)
	case sendEvent:
		return s.handleSend(e)
	case closeEvent:
		s.destroy(&TeardownError{Kind: KindLocalClose, Reason: e.reason}, ModeLocalRequested)
		return false
	case redirectEvent:
		return s.handleRedirectCommand(e)
	case transportClosedEvent:
		var reason *TeardownError
		if e.err != nil {
			reason = &TeardownError{Kind: KindTransportFailed, Err: e.err}
		}
		s.destroy(reason, ModeTransportAlreadyClosed)
		return false
	default:
		return true
	}
}

func (s *Session) handleIncoming(data []byte) bool {
	s.decoder.Feed(data)
	for {
		parsed, ok, err := s.decoder.Next(s.cipher)
		if err != nil {
			kind := classifyRecordError(s.phase, err)
			s.destroy(&TeardownError{Kind: kind, Err: err}, ModeProblem)
			return false
		}
		if !ok {
			return true
		}
		if !s.handleParsedRecord(parsed) {
			return false
		}
	}
}

func classifyRecordError(phase Phase, err error) ErrorKind {
	switch {
	case errors.Is(err, seifcrypto.AuthError):
		return KindAuthError
	case errors.Is(err, record.ErrUnknownType):
		return KindProtocolViolation
	case errors.Is(err, handshake.ErrUnsupportedVersion):
		return KindUnsupportedVersion
	case errors.Is(err, ivgen.Exhausted):
		return KindIvExhausted
	case phase != PhaseOpen:
		return KindHandshakeFailed
	default:
		return KindProtocolViolation
	}
}

func (s *Session) handleParsedRecord(parsed *record.Parsed) bool {
	switch s.phase {
	case PhaseAwaitingHello:
		return s.handleHelloAsReceiver(parsed)
	case PhaseAwaitingAuthHello:
		return s.handleAuthHelloAsInitiator(parsed)
	case PhaseOpen:
		return s.handleOpenRecord(parsed)
	default:
		return true
	}
}

func (s *Session) handleHelloAsReceiver(parsed *record.Parsed) bool {
	hello, err := handshake.ParseHello(parsed)
	if err != nil {
		s.destroy(&TeardownError{Kind: kindForHandshakeErr(err), Err: err}, ModeProblem)
		return false
	}

	handshakeKey, err := handshake.RecoverHandshakeKey(s.local, hello.HandshakeKeyCiphertext)
	if err != nil {
		s.destroy(&TeardownError{Kind: KindHandshakeFailed, Err: err}, ModeProblem)
		return false
	}

	initiatorPub, helloValue, err := handshake.DecryptHelloData(handshakeKey, hello.HelloDataCiphertext, s.decIV)
	if err != nil {
		s.destroy(&TeardownError{Kind: KindHandshakeFailed, Err: err}, ModeProblem)
		return false
	}

	s.handshakeKey = handshakeKey
	s.remotePublicKey = initiatorPub
	s.connectionInfo = hello.ConnectionInfo
	s.cipher = handshake.NewAEADCipher(handshakeKey, s.encIV, s.decIV)

	authWire, sessionKey, err := handshake.BuildAuthHello(initiatorPub, s.cipher)
	if err != nil {
		s.destroy(&TeardownError{Kind: KindHandshakeFailed, Err: err}, ModeProblem)
		return false
	}
	if err := s.conn.Send(authWire); err != nil {
		s.destroy(&TeardownError{Kind: KindTransportFailed, Err: err}, ModeProblem)
		return false
	}

	s.sessionKey = sessionKey
	s.cipher = handshake.NewAEADCipher(sessionKey, s.encIV, s.decIV)
	s.phase = PhaseOpen

	if s.receiverCB.OnOpen != nil {
		s.receiverCB.OnOpen(s, initiatorPub, helloValue, hello.ConnectionInfo)
	}
	return true
}

func (s *Session) handleAuthHelloAsInitiator(parsed *record.Parsed) bool {
	sessionKeyCipher, err := handshake.ParseAuthHello(parsed)
	if err != nil {
		s.destroy(&TeardownError{Kind: KindHandshakeFailed, Err: err}, ModeProblem)
		return false
	}
	sessionKey, err := handshake.RecoverSessionKey(s.local, sessionKeyCipher)
	if err != nil {
		s.destroy(&TeardownError{Kind: KindHandshakeFailed, Err: err}, ModeProblem)
		return false
	}

	s.sessionKey = sessionKey
	s.cipher = handshake.NewAEADCipher(sessionKey, s.encIV, s.decIV)
	s.phase = PhaseOpen

	if s.initiatorCB.OnOpen != nil {
		s.initiatorCB.OnOpen(s)
	}
	return true
}

func kindForHandshakeErr(err error) ErrorKind {
	if errors.Is(err, handshake.ErrUnsupportedVersion) {
		return KindUnsupportedVersion
	}
	return KindHandshakeFailed
}

func (s *Session) handleOpenRecord(parsed *record.Parsed) bool {
	switch parsed.Type {
	case record.TypeStatusSend:
		s.deliverMessage(parsed.Message)
		return true

	case record.TypeSend:
		s.deliverMessage(parsed.Message)
		ackWire, err := record.Build(record.TypeAcknowledge, nil, s.cipher)
		if err != nil {
			s.destroy(&TeardownError{Kind: KindHandshakeFailed, Err: err}, ModeProblem)
			return false
		}
		if err := s.conn.Send(ackWire); err != nil {
			s.destroy(&TeardownError{Kind: KindTransportFailed, Err: err}, ModeProblem)
			return false
		}
		return true

	case record.TypeAcknowledge:
		front := s.pendingAcks.Front()
		if front == nil {
			s.destroy(&TeardownError{Kind: KindProtocolViolation, Reason: "unexpected acknowledgement"}, ModeProblem)
			return false
		}
		s.pendingAcks.Remove(front)
		front.Value.(*Waiter).resolve(nil)
		return true

	case record.TypeRedirect:
		if s.role != RoleInitiator {
			s.destroy(&TeardownError{Kind: KindProtocolViolation, Reason: "redirect received by a receiver-role session"}, ModeProblem)
			return false
		}
		info, err := parseRedirectMessage(parsed.Message)
		if err != nil {
			s.destroy(&TeardownError{Kind: KindProtocolViolation, Err: err}, ModeProblem)
			return false
		}
		s.pendingRedir = info
		s.destroy(&TeardownError{Kind: KindRedirected, Reason: "redirected"}, ModeProblem)
		return false

	default:
		s.destroy(&TeardownError{Kind: KindProtocolViolation, Reason: "unexpected record type " + parsed.Type + " in open phase"}, ModeProblem)
		return false
	}
}

func (s *Session) deliverMessage(msg record.Message) {
	switch s.role {
	case RoleInitiator:
		if s.initiatorCB.OnMessage != nil {
			s.initiatorCB.OnMessage(s, msg)
		}
	case RoleReceiver:
		if s.receiverCB.OnMessage != nil {
			s.receiverCB.OnMessage(s, msg)
		}
	}
}

func (s *Session) handleSend(e sendEvent) bool {
	if s.phase != PhaseOpen {
		if e.waiter != nil {
			e.waiter.resolve(ErrNotOpen)
		}
		return true
	}

	recordType := record.TypeSend
	if e.statusOnly {
		recordType = record.TypeStatusSend
	}

	wire, err := record.Build(recordType, e.msg, s.cipher)
	if err != nil {
		if e.waiter != nil {
			e.waiter.resolve(err)
		}
		if errors.Is(err, record.ErrIdentifierTooBig) {
			// Synchronous build failure per spec.md §7 — this one send
			// fails, the session stays open.
			return true
		}
		kind := KindHandshakeFailed
		if errors.Is(err, ivgen.Exhausted) {
			kind = KindIvExhausted
		}
		s.destroy(&TeardownError{Kind: kind, Err: err}, ModeProblem)
		return false
	}

	if !e.statusOnly {
		s.pendingAcks.PushBack(e.waiter)
	}

	if err := s.conn.Send(wire); err != nil {
		s.destroy(&TeardownError{Kind: KindTransportFailed, Err: err}, ModeProblem)
		return false
	}
	return true
}

func (s *Session) handleRedirectCommand(e redirectEvent) bool {
	if s.role != RoleReceiver {
		e.result <- errors.New("session: Redirect is only valid for a receiver-role session")
		return true
	}
	if s.phase != PhaseOpen {
		e.result <- ErrNotOpen
		return true
	}

	msg := record.Message{
		{ID: "address", Value: e.address},
		{ID: "publicKey", Value: seifcrypto.HexEncode(e.publicKey)},
		{ID: "permanent", Value: e.permanent},
	}
	if e.redirectContext != nil {
		msg = append(msg, record.Field{ID: "redirectContext", Value: e.redirectContext})
	}

	wire, err := record.Build(record.TypeRedirect, msg, s.cipher)
	if err != nil {
		e.result <- err
		if errors.Is(err, record.ErrIdentifierTooBig) {
			return true
		}
		s.destroy(&TeardownError{Kind: KindHandshakeFailed, Err: err}, ModeProblem)
		return false
	}

	if err := s.conn.Send(wire); err != nil {
		e.result <- nil
		s.destroy(&TeardownError{Kind: KindTransportFailed, Err: err}, ModeProblem)
		return false
	}

	e.result <- nil
	s.destroy(&TeardownError{Kind: KindLocalClose, Reason: "redirect issued"}, ModeLocalRequested)
	return false
}

func parseRedirectMessage(msg record.Message) (*RedirectInfo, error) {
	addrVal, ok := msg.Get("address")
	addr, ok2 := addrVal.(string)
	if !ok || !ok2 {
		return nil, errMalformedRedirect
	}
	pubHexVal, ok := msg.Get("publicKey")
	pubHex, ok2 := pubHexVal.(string)
	if !ok || !ok2 {
		return nil, errMalformedRedirect
	}
	pubRaw, err := seifcrypto.HexDecode(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedRedirect, err)
	}
	permVal, ok := msg.Get("permanent")
	perm, ok2 := permVal.(bool)
	if !ok || !ok2 {
		return nil, errMalformedRedirect
	}
	ctx, _ := msg.Get("redirectContext")

	return &RedirectInfo{Address: addr, PublicKey: pubRaw, Permanent: perm, RedirectContext: ctx}, nil
}

// destroy is the single teardown routine (spec.md §4.5 point 4). It is
// idempotent: only the first call has any effect.
func (s *Session) destroy(reason *TeardownError, mode TeardownMode) {
	s.closeOnce.Do(func() {
		s.phase = PhaseClosed
		s.teardownErr.Store(reason)

		for el := s.pendingAcks.Front(); el != nil; el = el.Next() {
			var err error
			if reason != nil {
				err = reason
			} else {
				err = ErrSessionClosed
			}
			el.Value.(*Waiter).resolve(err)
		}
		s.pendingAcks.Init()

		if mode != ModeTransportAlreadyClosed {
			if err := s.conn.Close(); err != nil {
				s.log.Debug("session: transport close error during teardown", "error", err)
			}
		}

		var onClose func(*Session, *CloseEvent)
		switch s.role {
		case RoleInitiator:
			onClose = s.initiatorCB.OnClose
		case RoleReceiver:
			onClose = s.receiverCB.OnClose
		}
		if onClose != nil {
			ev := &CloseEvent{Reason: reason}
			if reason != nil && reason.Kind == KindRedirected {
				ev.Redirect = s.pendingRedir
			}
			onClose(s, ev)
		}
	})
}
