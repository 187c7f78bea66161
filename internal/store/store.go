// Package store implements spec.md §6.2's store interface: persistence of
// the local static keypair and the acquaintance directory (petname ->
// address/public-key bindings).
//
// It is grounded on two teacher-adjacent sources: the file-backed,
// atomic-write-then-rename persistence pattern of
// internal/identity.AgentID.Store/Load, and the passphrase-derived at-rest
// key encryption of wyf-ACCEPT-eth2030's pkg/crypto.Keystore — generalized
// here from that keystore's homebrew Keccak-iteration KDF to a real
// golang.org/x/crypto/scrypt derivation, since this module already
// depends on x/crypto for other primitives.
package store

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
	"gopkg.in/yaml.v3"

	"github.com/seif-protocol/seif-go/internal/seifcrypto"
)

// ErrNotFound is returned by the read operations when no value exists for
// the requested key, per spec.md §6.2's "value | NotFound" contract.
var ErrNotFound = errors.New("store: not found")

const (
	keypairFileName      = "keypair.json"
	acquaintanceFileName = "acquaintances.yaml"

	scryptN   = 1 << 15
	scryptR   = 8
	scryptP   = 1
	scryptLen = seifcrypto.KeySize
	saltSize  = 16
)

// Acquaintance is a remembered peer: a petname bound to an address and
// the public key expected at that address.
type Acquaintance struct {
	Petname   string `yaml:"petname"`
	Address   string `yaml:"address"`
	PublicKey []byte `yaml:"public_key"`
}

// storedKeypair is the on-disk encoding of an encrypted static keypair.
type storedKeypair struct {
	PublicKey  string `json:"public_key"` // hex, cleartext
	Salt       string `json:"salt"`       // hex, scrypt salt
	IV         string `json:"iv"`         // hex, AES-GCM nonce
	Ciphertext string `json:"ciphertext"` // hex, encrypted private scalar
}

// acquaintanceFile is the on-disk shape of the acquaintance directory,
// keyed by petname so add_acquaintance's upsert semantics map onto a
// straightforward map write.
type acquaintanceFile struct {
	Acquaintances map[string]Acquaintance `yaml:"acquaintances"`
}

// Store is a file-backed implementation of spec.md §6.2, rooted at a single
// directory. All writes use the write-temp-then-rename pattern so a crash
// mid-write never corrupts the previous contents.
type Store struct {
	dir        string
	passphrase []byte
}

// Open returns a Store rooted at dir, creating the directory if needed.
// passphrase wraps the private key at rest; it is copied internally, so
// the caller remains responsible for zeroising its own copy.
func Open(dir string, passphrase []byte) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	pass := append([]byte(nil), passphrase...)
	return &Store{dir: dir, passphrase: pass}, nil
}

// Close zeroises the passphrase held in memory.
func (s *Store) Close() {
	seifcrypto.ZeroBytes(s.passphrase)
}

func (s *Store) keypairPath() string {
	return filepath.Join(s.dir, keypairFileName)
}

func (s *Store) acquaintancePath() string {
	return filepath.Join(s.dir, acquaintanceFileName)
}

// ReadKeypair implements read_keypair(): decrypts and returns the stored
// static keypair, or ErrNotFound if none has been written yet.
func (s *Store) ReadKeypair() (*seifcrypto.Keypair, error) {
	raw, err := os.ReadFile(s.keypairPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read keypair: %w", err)
	}

	var sk storedKeypair
	if err := json.Unmarshal(raw, &sk); err != nil {
		return nil, fmt.Errorf("store: parse keypair file: %w", err)
	}

	pub, err := hex.DecodeString(sk.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("store: decode public key: %w", err)
	}
	salt, err := hex.DecodeString(sk.Salt)
	if err != nil {
		return nil, fmt.Errorf("store: decode salt: %w", err)
	}
	iv, err := hex.DecodeString(sk.IV)
	if err != nil {
		return nil, fmt.Errorf("store: decode iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(sk.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("store: decode ciphertext: %w", err)
	}

	wrapKey, err := s.deriveWrapKey(salt)
	if err != nil {
		return nil, err
	}
	defer seifcrypto.ZeroBytes(wrapKey)

	rawPriv, err := seifcrypto.AESGCMDecrypt(ciphertext, wrapKey, iv)
	if err != nil {
		return nil, fmt.Errorf("store: decrypt private key (wrong passphrase?): %w", err)
	}
	defer seifcrypto.ZeroBytes(rawPriv)

	priv, err := seifcrypto.ImportPrivateKey(rawPriv)
	if err != nil {
		return nil, fmt.Errorf("store: import private key: %w", err)
	}
	publicKey, err := seifcrypto.ImportPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("store: import public key: %w", err)
	}
	if !publicKeysEqual(publicKey, priv.PublicKey()) {
		return nil, errors.New("store: stored public key does not match decrypted private key")
	}

	return &seifcrypto.Keypair{Private: priv, Public: priv.PublicKey()}, nil
}

// WriteKeypair implements write_keypair(keypair): encrypts kp's private
// scalar under a freshly salted scrypt-derived key and persists it
// atomically.
func (s *Store) WriteKeypair(kp *seifcrypto.Keypair) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("store: generate salt: %w", err)
	}

	wrapKey, err := s.deriveWrapKey(salt)
	if err != nil {
		return err
	}
	defer seifcrypto.ZeroBytes(wrapKey)

	iv := make([]byte, seifcrypto.IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fmt.Errorf("store: generate iv: %w", err)
	}

	rawPriv, err := seifcrypto.ExportPrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("store: export private key: %w", err)
	}
	ciphertext, err := seifcrypto.AESGCMEncrypt(rawPriv, wrapKey, iv)
	if err != nil {
		return fmt.Errorf("store: encrypt private key: %w", err)
	}
	seifcrypto.ZeroBytes(rawPriv)

	sk := storedKeypair{
		PublicKey:  hex.EncodeToString(seifcrypto.ExportPublicKey(kp.Public)),
		Salt:       hex.EncodeToString(salt),
		IV:         hex.EncodeToString(iv),
		Ciphertext: hex.EncodeToString(ciphertext),
	}
	raw, err := json.MarshalIndent(sk, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal keypair file: %w", err)
	}

	return atomicWriteFile(s.keypairPath(), raw, 0600)
}

// ReadAcquaintance implements read_acquaintance(petname).
func (s *Store) ReadAcquaintance(petname string) (*Acquaintance, error) {
	file, err := s.loadAcquaintances()
	if err != nil {
		return nil, err
	}
	a, ok := file.Acquaintances[petname]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

// ListAcquaintances returns every stored acquaintance. Not named in
// spec.md's store interface, but needed by the addressbook command and a
// natural companion to read/add/remove.
func (s *Store) ListAcquaintances() ([]Acquaintance, error) {
	file, err := s.loadAcquaintances()
	if err != nil {
		return nil, err
	}
	out := make([]Acquaintance, 0, len(file.Acquaintances))
	for _, a := range file.Acquaintances {
		out = append(out, a)
	}
	return out, nil
}

// AddAcquaintance implements add_acquaintance(acquaintance): upsert by
// petname.
func (s *Store) AddAcquaintance(a Acquaintance) error {
	if a.Petname == "" {
		return errors.New("store: acquaintance petname must not be empty")
	}
	file, err := s.loadAcquaintances()
	if err != nil {
		return err
	}
	file.Acquaintances[a.Petname] = a
	return s.saveAcquaintances(file)
}

// RemoveAcquaintance implements remove_acquaintance(petname).
func (s *Store) RemoveAcquaintance(petname string) error {
	file, err := s.loadAcquaintances()
	if err != nil {
		return err
	}
	if _, ok := file.Acquaintances[petname]; !ok {
		return ErrNotFound
	}
	delete(file.Acquaintances, petname)
	return s.saveAcquaintances(file)
}

func (s *Store) loadAcquaintances() (*acquaintanceFile, error) {
	raw, err := os.ReadFile(s.acquaintancePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &acquaintanceFile{Acquaintances: make(map[string]Acquaintance)}, nil
		}
		return nil, fmt.Errorf("store: read acquaintances: %w", err)
	}
	var file acquaintanceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("store: parse acquaintances: %w", err)
	}
	if file.Acquaintances == nil {
		file.Acquaintances = make(map[string]Acquaintance)
	}
	return &file, nil
}

func (s *Store) saveAcquaintances(file *acquaintanceFile) error {
	raw, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("store: marshal acquaintances: %w", err)
	}
	return atomicWriteFile(s.acquaintancePath(), raw, 0600)
}

// deriveWrapKey runs scrypt over the store's passphrase and salt to
// produce the AES-256-GCM key that wraps the private key at rest.
func (s *Store) deriveWrapKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, scryptLen)
	if err != nil {
		return nil, fmt.Errorf("store: derive wrap key: %w", err)
	}
	return key, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename %s: %w", tmp, err)
	}
	return nil
}

func publicKeysEqual(a, b *ecdh.PublicKey) bool {
	return hex.EncodeToString(a.Bytes()) == hex.EncodeToString(b.Bytes())
}
