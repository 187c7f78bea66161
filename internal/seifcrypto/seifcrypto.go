// Package seifcrypto implements the Seif Protocol's cryptographic
// primitives: NIST P-521 ECDH keypairs, ECIES-style public-key sealing,
// and AES-256-GCM symmetric encryption.
package seifcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// PublicKeySize is the length of a raw uncompressed P-521 public key:
	// 0x04 || X(66) || Y(66).
	PublicKeySize = 133

	// KeySize is the length of an AES-256 key in bytes.
	KeySize = 32

	// IVSize is the length of an AES-GCM nonce in bytes.
	IVSize = 12

	// TagSize is the length of the GCM authentication tag appended to
	// every ciphertext.
	TagSize = 16

	hkdfInfo = "seif-protocol-v0-ecies"
)

// AuthError is returned whenever AES-GCM authentication fails. Per spec
// §4.1 this is the sole source of integrity enforcement on the wire.
var AuthError = errors.New("seifcrypto: authentication failed")

var curve = ecdh.P521()

// Keypair is a static or ephemeral P-521 ECDH keypair.
type Keypair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// GenerateKeypair produces a new extractable P-521 ECDH keypair.
func GenerateKeypair() (*Keypair, error) {
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: generate keypair: %w", err)
	}
	return &Keypair{Private: priv, Public: priv.PublicKey()}, nil
}

// ExportPublicKey returns the 133-byte raw uncompressed form of k.
func ExportPublicKey(k *ecdh.PublicKey) []byte {
	return k.Bytes()
}

// ImportPublicKey parses a 133-byte raw uncompressed public key.
func ImportPublicKey(raw []byte) (*ecdh.PublicKey, error) {
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("seifcrypto: public key must be %d bytes, got %d", PublicKeySize, len(raw))
	}
	pub, err := curve.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: import public key: %w", err)
	}
	return pub, nil
}

// ExportPrivateKey returns the raw private scalar of k (k.Bytes()), the form
// ImportPrivateKey accepts; it does not produce a PKCS#8 encoding. The store
// layer (internal/store) is responsible for encrypting this at rest.
func ExportPrivateKey(k *ecdh.PrivateKey) ([]byte, error) {
	return k.Bytes(), nil
}

// ImportPrivateKey parses a raw scalar private key as produced by
// ExportPrivateKey.
func ImportPrivateKey(raw []byte) (*ecdh.PrivateKey, error) {
	priv, err := curve.NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: import private key: %w", err)
	}
	return priv, nil
}

// HexEncode and HexDecode implement the hex codec §4.1 requires for
// embedding binary values (public keys, buffers) inside JSON identifiers.
func HexEncode(b []byte) string { return hex.EncodeToString(b) }

func HexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: invalid hex: %w", err)
	}
	return b, nil
}

// AESGCMEncrypt encrypts plaintext under key using iv, returning
// ciphertext whose length is len(plaintext)+TagSize.
func AESGCMEncrypt(plaintext, key, iv []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("seifcrypto: iv must be %d bytes, got %d", IVSize, len(iv))
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// AESGCMDecrypt decrypts ciphertext encrypted by AESGCMEncrypt. It returns
// AuthError, wrapped with context, on tag mismatch.
func AESGCMDecrypt(ciphertext, key, iv []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("seifcrypto: iv must be %d bytes, got %d", IVSize, len(iv))
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", AuthError, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("seifcrypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: new AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: new GCM: %w", err)
	}
	return aead, nil
}

// ECIESEncrypt implements §4.1's ecies_encrypt: generate an ephemeral
// P-521 keypair, ECDH against recipientPub, derive a 256-bit key via
// HKDF-SHA256 over the shared secret, and AES-256-GCM-encrypt plaintext
// under a constant all-zero IV (safe because the derived key is used
// exactly once). The output is ephemeral_pub_raw(133) || ciphertext.
func ECIESEncrypt(plaintext []byte, recipientPub *ecdh.PublicKey) ([]byte, error) {
	ephemeral, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	shared, err := ephemeral.Private.ECDH(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: ecies ECDH: %w", err)
	}

	key, err := deriveECIESKey(shared, ephemeral.Public, recipientPub)
	if err != nil {
		return nil, err
	}

	var zeroIV [IVSize]byte
	ciphertext, err := AESGCMEncrypt(plaintext, key, zeroIV[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, PublicKeySize+len(ciphertext))
	out = append(out, ExportPublicKey(ephemeral.Public)...)
	out = append(out, ciphertext...)
	return out, nil
}

// ECIESDecrypt reverses ECIESEncrypt using the recipient's static private
// key.
func ECIESDecrypt(buf []byte, ourPriv *ecdh.PrivateKey) ([]byte, error) {
	if len(buf) < PublicKeySize {
		return nil, fmt.Errorf("seifcrypto: ecies ciphertext too short: %d bytes", len(buf))
	}
	ephemeralPub, err := ImportPublicKey(buf[:PublicKeySize])
	if err != nil {
		return nil, err
	}

	shared, err := ourPriv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("seifcrypto: ecies ECDH: %w", err)
	}

	key, err := deriveECIESKey(shared, ephemeralPub, ourPriv.PublicKey())
	if err != nil {
		return nil, err
	}

	var zeroIV [IVSize]byte
	return AESGCMDecrypt(buf[PublicKeySize:], key, zeroIV[:])
}

// deriveECIESKey mirrors the teacher's sealed-box derivation: HKDF-SHA256
// over the ECDH shared secret, salted with both public keys so the key is
// bound to this specific exchange.
func deriveECIESKey(shared []byte, ephemeralPub, recipientPub *ecdh.PublicKey) ([]byte, error) {
	salt := make([]byte, 0, 2*PublicKeySize)
	salt = append(salt, ephemeralPub.Bytes()...)
	salt = append(salt, recipientPub.Bytes()...)

	key := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("seifcrypto: hkdf derive: %w", err)
	}
	return key, nil
}

// GenerateSymmetricKey produces a fresh random AES-256 key, used for the
// ephemeral handshakeKey and sessionKey of §4.4.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("seifcrypto: generate symmetric key: %w", err)
	}
	return key, nil
}

// ZeroBytes overwrites b with zeroes. Call this on handshake keys and
// ephemeral private key material once they are no longer needed (spec.md
// §9's "zeroise the buffer after use").
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
