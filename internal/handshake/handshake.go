// Package handshake implements spec.md §4.4: construction and validation of
// the Hello/AuthHello record pair and the ECIES-wrapped key exchange that
// derives the session key. It is grounded on the teacher's
// internal/peer.Handshaker, which splits the same two-message exchange into
// dialerHandshake/listenerHandshake halves — generalized here from the
// teacher's fixed PEER_HELLO/PEER_HELLO_ACK struct payloads to ECIES-sealed
// key material plus a JSON hello value.
package handshake

import (
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seif-protocol/seif-go/internal/ivgen"
	"github.com/seif-protocol/seif-go/internal/record"
	"github.com/seif-protocol/seif-go/internal/seifcrypto"
)

// ProtocolVersion is the only version this implementation speaks.
const ProtocolVersion = 0

var (
	// ErrUnsupportedVersion is returned when a Hello names a version other
	// than ProtocolVersion.
	ErrUnsupportedVersion = errors.New("handshake: unsupported protocol version")

	// ErrHandshakeFailed wraps any decryption or structural failure while
	// processing a Hello or AuthHello record.
	ErrHandshakeFailed = errors.New("handshake: failed")
)

// NewAEADCipher builds the record.Cipher used to frame everything past the
// Hello record: AuthHello under the handshake key, and every post-handshake
// record under the session key. Both phases reuse the same enc/dec
// generators, per spec.md §4.2 — the (key, IV) pair stays unique across the
// key swap because the generators never reset.
func NewAEADCipher(key []byte, encGen, decGen *ivgen.Generator) record.Cipher {
	return record.Cipher{
		Overhead: seifcrypto.TagSize,
		Encrypt: func(plaintext []byte) ([]byte, error) {
			iv, err := encGen.Next()
			if err != nil {
				return nil, err
			}
			return seifcrypto.AESGCMEncrypt(plaintext, key, iv)
		},
		Decrypt: func(ciphertext []byte) ([]byte, error) {
			iv, err := decGen.Next()
			if err != nil {
				return nil, err
			}
			return seifcrypto.AESGCMDecrypt(ciphertext, key, iv)
		},
	}
}

type helloData struct {
	InitiatorPublicKey string      `json:"initiatorPublicKey"`
	Value              interface{} `json:"value"`
}

// BuildHello constructs record 1: a cleartext-framed Hello whose
// handshakeKey and helloData blobs are themselves ciphertexts. encIV is the
// initiator's enc_iv() generator (fixed field 0); it is consumed once here
// to encrypt helloData, and reused afterwards for AuthHello/session traffic.
func BuildHello(local *seifcrypto.Keypair, remotePub *ecdh.PublicKey, helloValue, connectionInfo interface{}, encIV *ivgen.Generator) (wire []byte, handshakeKey []byte, err error) {
	handshakeKey, err = seifcrypto.GenerateSymmetricKey()
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: generate handshake key: %w", err)
	}

	encryptedKey, err := seifcrypto.ECIESEncrypt(handshakeKey, remotePub)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: ecies-wrap handshake key: %w", err)
	}

	plain, err := json.Marshal(helloData{
		InitiatorPublicKey: seifcrypto.HexEncode(seifcrypto.ExportPublicKey(local.Public)),
		Value:              helloValue,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: marshal helloData: %w", err)
	}

	iv, err := encIV.Next()
	if err != nil {
		return nil, nil, err
	}
	encryptedHelloData, err := seifcrypto.AESGCMEncrypt(plain, handshakeKey, iv)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: encrypt helloData: %w", err)
	}

	msg := record.Message{
		{ID: "version", Value: float64(ProtocolVersion)},
		{ID: "handshakeKey", Value: encryptedKey},
		{ID: "helloData", Value: encryptedHelloData},
	}
	if connectionInfo != nil {
		msg = append(msg, record.Field{ID: "connectionInfo", Value: connectionInfo})
	}

	wire, err = record.Build(record.TypeHello, msg, record.Cleartext())
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: build Hello: %w", err)
	}
	return wire, handshakeKey, nil
}

// ParsedHello holds the raw, still-encrypted contents of an incoming Hello,
// prior to the receiver recovering the handshake key.
type ParsedHello struct {
	HandshakeKeyCiphertext []byte
	HelloDataCiphertext    []byte
	ConnectionInfo         interface{}
}

// ParseHello extracts and validates the fields of an incoming Hello record.
// It does not decrypt handshakeKey or helloData — that requires the
// receiver's static private key and enc/dec generators, supplied by the
// caller afterwards via RecoverHandshakeKey/DecryptHelloData.
func ParseHello(parsed *record.Parsed) (*ParsedHello, error) {
	if parsed.Type != record.TypeHello {
		return nil, fmt.Errorf("%w: expected Hello, got %q", ErrHandshakeFailed, parsed.Type)
	}

	version, ok := parsed.Message.Get("version")
	if !ok {
		return nil, fmt.Errorf("%w: Hello missing version", ErrHandshakeFailed)
	}
	v, ok := version.(float64)
	if !ok || int(v) != ProtocolVersion {
		return nil, fmt.Errorf("%w: got version %v", ErrUnsupportedVersion, version)
	}

	handshakeKeyCipher, ok := parsed.Message.Bytes("handshakeKey")
	if !ok {
		return nil, fmt.Errorf("%w: Hello missing handshakeKey", ErrHandshakeFailed)
	}
	helloDataCipher, ok := parsed.Message.Bytes("helloData")
	if !ok {
		return nil, fmt.Errorf("%w: Hello missing helloData", ErrHandshakeFailed)
	}
	connectionInfo, _ := parsed.Message.Get("connectionInfo")

	return &ParsedHello{
		HandshakeKeyCiphertext: handshakeKeyCipher,
		HelloDataCiphertext:    helloDataCipher,
		ConnectionInfo:         connectionInfo,
	}, nil
}

// RecoverHandshakeKey decrypts the ECIES-sealed handshakeKey using the
// receiver's static private key.
func RecoverHandshakeKey(local *seifcrypto.Keypair, ciphertext []byte) ([]byte, error) {
	key, err := seifcrypto.ECIESDecrypt(ciphertext, local.Private)
	if err != nil {
		return nil, fmt.Errorf("%w: recover handshake key: %v", ErrHandshakeFailed, err)
	}
	return key, nil
}

// DecryptHelloData decrypts helloData under handshakeKey, consuming one IV
// from decIV (the receiver's dec_iv(), fixed field 0 — it must mirror the
// initiator's enc_iv()), and returns the initiator's static public key and
// its hello_value payload.
func DecryptHelloData(handshakeKey, ciphertext []byte, decIV *ivgen.Generator) (initiatorPub *ecdh.PublicKey, helloValue interface{}, err error) {
	iv, err := decIV.Next()
	if err != nil {
		return nil, nil, err
	}
	plain, err := seifcrypto.AESGCMDecrypt(ciphertext, handshakeKey, iv)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decrypt helloData: %v", ErrHandshakeFailed, err)
	}

	var hd helloData
	if err := json.Unmarshal(plain, &hd); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal helloData: %v", ErrHandshakeFailed, err)
	}
	rawPub, err := seifcrypto.HexDecode(hd.InitiatorPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode initiatorPublicKey: %v", ErrHandshakeFailed, err)
	}
	pub, err := seifcrypto.ImportPublicKey(rawPub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: import initiatorPublicKey: %v", ErrHandshakeFailed, err)
	}
	return pub, hd.Value, nil
}

// BuildAuthHello constructs record 2: sessionKey, freshly generated and
// ECIES-wrapped under the initiator's public key, framed under the
// handshake-key cipher.
func BuildAuthHello(initiatorPub *ecdh.PublicKey, cipher record.Cipher) (wire []byte, sessionKey []byte, err error) {
	sessionKey, err = seifcrypto.GenerateSymmetricKey()
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: generate session key: %w", err)
	}
	encryptedSessionKey, err := seifcrypto.ECIESEncrypt(sessionKey, initiatorPub)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: ecies-wrap session key: %w", err)
	}

	msg := record.Message{{ID: "sessionKey", Value: encryptedSessionKey}}
	wire, err = record.Build(record.TypeAuthHello, msg, cipher)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: build AuthHello: %w", err)
	}
	return wire, sessionKey, nil
}

// ParseAuthHello extracts the still ECIES-sealed sessionKey from an incoming
// AuthHello record, already decrypted under the handshake-key cipher by the
// record decoder.
func ParseAuthHello(parsed *record.Parsed) ([]byte, error) {
	if parsed.Type != record.TypeAuthHello {
		return nil, fmt.Errorf("%w: expected AuthHello, got %q", ErrHandshakeFailed, parsed.Type)
	}
	sessionKeyCipher, ok := parsed.Message.Bytes("sessionKey")
	if !ok {
		return nil, fmt.Errorf("%w: AuthHello missing sessionKey", ErrHandshakeFailed)
	}
	return sessionKeyCipher, nil
}

// RecoverSessionKey decrypts the ECIES-sealed sessionKey using the
// initiator's static private key.
func RecoverSessionKey(local *seifcrypto.Keypair, ciphertext []byte) ([]byte, error) {
	key, err := seifcrypto.ECIESDecrypt(ciphertext, local.Private)
	if err != nil {
		return nil, fmt.Errorf("%w: recover session key: %v", ErrHandshakeFailed, err)
	}
	return key, nil
}
