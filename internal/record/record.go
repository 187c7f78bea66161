// Package record implements the Seif Protocol's §4.3 record codec: a
// length-prefixed wire frame carrying one JSON identifier and zero or more
// payload blobs, each independently encrypted.
//
// It is grounded on the teacher's internal/protocol.FrameReader/FrameWriter
// (incremental header-then-payload reads over an io.Reader), generalized
// from fixed binary struct payloads to this protocol's JSON-identifier-
// plus-blob-list shape.
//
// Unlike the source protocol's async WebCrypto calls, Go's AES-GCM
// primitives are synchronous, so the parser below decrypts inline instead
// of suspending on a "busy" flag — the single-owner-goroutine discipline
// required by spec.md §5 still holds, it's just that there is nothing to
// suspend.
package record

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Record type names, per spec.md §4.3's identifier.type enumeration.
const (
	TypeHello       = "Hello"
	TypeAuthHello   = "AuthHello"
	TypeSend        = "Send"
	TypeStatusSend  = "StatusSend"
	TypeAcknowledge = "Acknowledge"
	TypeRedirect    = "Redirect"
)

// BlobType identifies how a blob's plaintext should be interpreted.
type BlobType string

const (
	BlobJSON   BlobType = "JSON"
	BlobBuffer BlobType = "Buffer"
)

// MaxIdentifierSize is the largest serialised (pre-encryption) identifier
// this codec will build or accept; the wire's length prefix is a uint16.
const MaxIdentifierSize = 1<<16 - 1

var (
	// ErrIdentifierTooBig is returned when building a record whose
	// serialised identifier would reach 2^16 bytes.
	ErrIdentifierTooBig = errors.New("record: identifier exceeds 65535 bytes")

	// ErrUnknownType is returned when a parsed identifier names a type
	// outside the closed set above.
	ErrUnknownType = errors.New("record: unknown or unrecognized message type")

	// ErrMalformed is returned for structurally invalid records (bad
	// JSON, inconsistent blob descriptors, unknown blob type).
	ErrMalformed = errors.New("record: malformed record")
)

// BlobDescriptor describes one payload blob following the identifier.
// Length is always the plaintext length, never the wire (ciphertext)
// length.
type BlobDescriptor struct {
	ID     string   `json:"id"`
	Type   BlobType `json:"type"`
	Length int      `json:"length"`
}

// Identifier is the record header: a type tag plus the ordered list of
// blobs that follow it on the wire.
type Identifier struct {
	Type  string           `json:"type"`
	Blobs []BlobDescriptor `json:"blobs"`
}

// Field is one entry of a Message. Value is either a []byte (encoded as a
// Buffer blob) or any JSON-marshalable value (encoded as a JSON blob).
type Field struct {
	ID    string
	Value interface{}
}

// Message is an ordered key-value list. Order matters: it is preserved
// on the wire as blob order, and spec.md §4.3 requires insertion order be
// preserved when building blobs.
type Message []Field

// Get returns the value associated with id, if present.
func (m Message) Get(id string) (interface{}, bool) {
	for _, f := range m {
		if f.ID == id {
			return f.Value, true
		}
	}
	return nil, false
}

// Bytes returns the value for id as a []byte, if it was stored as a Buffer.
func (m Message) Bytes(id string) ([]byte, bool) {
	v, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// EncryptFunc transforms a single plaintext blob (the identifier or one
// payload blob) into wire bytes.
type EncryptFunc func(plaintext []byte) ([]byte, error)

// DecryptFunc reverses EncryptFunc, returning AuthError-wrapped errors on
// tag mismatch (see internal/seifcrypto).
type DecryptFunc func(ciphertext []byte) ([]byte, error)

// Cipher bundles the encrypt/decrypt pair used to frame one record. Overhead
// is the number of bytes Encrypt adds (0 for cleartext framing, 16 for
// AES-256-GCM) — the parser needs it up front to know how many wire bytes
// to wait for before it can attempt to decrypt.
type Cipher struct {
	Encrypt  EncryptFunc
	Decrypt  DecryptFunc
	Overhead int
}

// Cleartext returns the identity cipher used for the initial Hello record,
// whose identifier and blobs are transmitted unencrypted (spec.md §4.4).
func Cleartext() Cipher {
	identity := func(b []byte) ([]byte, error) { return b, nil }
	return Cipher{Encrypt: identity, Decrypt: identity, Overhead: 0}
}

// Build serialises message under the given identifier type, encrypting the
// identifier and each blob independently with cipher, and returns the wire
// bytes: be16(len(enc_id)) || enc_id || enc_blob_1 || ... || enc_blob_N.
func Build(recordType string, message Message, cipher Cipher) ([]byte, error) {
	ident := Identifier{Type: recordType, Blobs: make([]BlobDescriptor, 0, len(message))}
	plaintexts := make([][]byte, 0, len(message))

	for _, field := range message {
		var blobType BlobType
		var plaintext []byte

		if buf, ok := field.Value.([]byte); ok {
			blobType = BlobBuffer
			plaintext = buf
		} else {
			encoded, err := json.Marshal(field.Value)
			if err != nil {
				return nil, fmt.Errorf("record: marshal field %q: %w", field.ID, err)
			}
			blobType = BlobJSON
			plaintext = encoded
		}

		ident.Blobs = append(ident.Blobs, BlobDescriptor{
			ID:     field.ID,
			Type:   blobType,
			Length: len(plaintext),
		})
		plaintexts = append(plaintexts, plaintext)
	}

	idJSON, err := json.Marshal(ident)
	if err != nil {
		return nil, fmt.Errorf("record: marshal identifier: %w", err)
	}
	if len(idJSON) > MaxIdentifierSize {
		return nil, ErrIdentifierTooBig
	}

	encID, err := cipher.Encrypt(idJSON)
	if err != nil {
		return nil, fmt.Errorf("record: encrypt identifier: %w", err)
	}
	if len(encID) > MaxIdentifierSize {
		return nil, ErrIdentifierTooBig
	}

	out := make([]byte, 2, 2+len(encID))
	binary.BigEndian.PutUint16(out, uint16(len(encID)))
	out = append(out, encID...)

	for i, plaintext := range plaintexts {
		encBlob, err := cipher.Encrypt(plaintext)
		if err != nil {
			return nil, fmt.Errorf("record: encrypt blob %q: %w", ident.Blobs[i].ID, err)
		}
		out = append(out, encBlob...)
	}

	return out, nil
}

// Parsed is a fully decoded record: its type and reconstructed message.
type Parsed struct {
	Type    string
	Message Message
}

type parseState int

const (
	stateNeedLength parseState = iota
	stateNeedIdentifier
	stateNeedBlob
)

// Decoder incrementally parses records out of an unbounded byte stream fed
// via Feed. It corresponds to spec.md §3's in_buffer + parse_state.
type Decoder struct {
	buf     []byte
	state   parseState
	idLen   int
	ident   *Identifier
	blobIdx int
	msg     Message
}

// NewDecoder creates an empty Decoder, initially awaiting a length prefix.
func NewDecoder() *Decoder {
	return &Decoder{state: stateNeedLength}
}

// Feed appends newly received bytes to the decoder's internal buffer.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Pending returns the number of unconsumed bytes currently buffered.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Next attempts to parse one complete record using cipher for both the
// identifier and every blob. It returns (nil, false, nil) if insufficient
// bytes are currently buffered — the caller should Feed more and retry.
// A non-nil error is always fatal to the connection (spec.md §4.3).
func (d *Decoder) Next(cipher Cipher) (*Parsed, bool, error) {
	for {
		switch d.state {
		case stateNeedLength:
			if len(d.buf) < 2 {
				return nil, false, nil
			}
			d.idLen = int(binary.BigEndian.Uint16(d.buf[:2]))
			d.buf = d.buf[2:]
			d.state = stateNeedIdentifier

		case stateNeedIdentifier:
			if len(d.buf) < d.idLen {
				return nil, false, nil
			}
			encID := d.buf[:d.idLen]
			d.buf = d.buf[d.idLen:]

			idJSON, err := cipher.Decrypt(encID)
			if err != nil {
				d.reset()
				return nil, false, fmt.Errorf("record: decrypt identifier: %w", err)
			}

			var ident Identifier
			if err := json.Unmarshal(idJSON, &ident); err != nil {
				d.reset()
				return nil, false, fmt.Errorf("%w: invalid identifier JSON: %v", ErrMalformed, err)
			}
			if !isKnownType(ident.Type) {
				d.reset()
				return nil, false, fmt.Errorf("%w: %q", ErrUnknownType, ident.Type)
			}

			d.ident = &ident
			d.blobIdx = 0
			d.msg = make(Message, 0, len(ident.Blobs))

			if len(ident.Blobs) == 0 {
				parsed := &Parsed{Type: ident.Type, Message: d.msg}
				d.reset()
				return parsed, true, nil
			}
			d.state = stateNeedBlob

		case stateNeedBlob:
			blob := d.ident.Blobs[d.blobIdx]
			wireLen := blob.Length + cipher.Overhead
			if len(d.buf) < wireLen {
				return nil, false, nil
			}
			encBlob := d.buf[:wireLen]
			d.buf = d.buf[wireLen:]

			plaintext, err := cipher.Decrypt(encBlob)
			if err != nil {
				d.reset()
				return nil, false, fmt.Errorf("record: decrypt blob %q: %w", blob.ID, err)
			}

			value, err := decodeBlobValue(blob, plaintext)
			if err != nil {
				d.reset()
				return nil, false, err
			}
			d.msg = append(d.msg, Field{ID: blob.ID, Value: value})
			d.blobIdx++

			if d.blobIdx == len(d.ident.Blobs) {
				parsed := &Parsed{Type: d.ident.Type, Message: d.msg}
				d.reset()
				return parsed, true, nil
			}
		}
	}
}

func (d *Decoder) reset() {
	d.state = stateNeedLength
	d.idLen = 0
	d.ident = nil
	d.blobIdx = 0
	d.msg = nil
}

func decodeBlobValue(blob BlobDescriptor, plaintext []byte) (interface{}, error) {
	switch blob.Type {
	case BlobBuffer:
		return plaintext, nil
	case BlobJSON:
		var v interface{}
		if len(plaintext) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(plaintext, &v); err != nil {
			return nil, fmt.Errorf("%w: blob %q: %v", ErrMalformed, blob.ID, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: blob %q has unknown type %q", ErrMalformed, blob.ID, blob.Type)
	}
}

func isKnownType(t string) bool {
	switch t {
	case TypeHello, TypeAuthHello, TypeSend, TypeStatusSend, TypeAcknowledge, TypeRedirect:
		return true
	default:
		return false
	}
}
