package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/seif-protocol/seif-go/internal/seifcrypto"
)

func TestWriteReadKeypairRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()

	kp, err := seifcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	if err := st.WriteKeypair(kp); err != nil {
		t.Fatalf("WriteKeypair() error = %v", err)
	}

	got, err := st.ReadKeypair()
	if err != nil {
		t.Fatalf("ReadKeypair() error = %v", err)
	}

	if !bytes.Equal(seifcrypto.ExportPublicKey(got.Public), seifcrypto.ExportPublicKey(kp.Public)) {
		t.Fatal("round-tripped public key does not match")
	}
	if !bytes.Equal(got.Private.Bytes(), kp.Private.Bytes()) {
		t.Fatal("round-tripped private key does not match")
	}
}

func TestReadKeypairNotFound(t *testing.T) {
	st, err := Open(t.TempDir(), []byte("pw"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()

	if _, err := st.ReadKeypair(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadKeypair() error = %v, want ErrNotFound", err)
	}
}

func TestReadKeypairWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, []byte("right passphrase"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()

	kp, _ := seifcrypto.GenerateKeypair()
	if err := st.WriteKeypair(kp); err != nil {
		t.Fatalf("WriteKeypair() error = %v", err)
	}

	wrong, err := Open(dir, []byte("wrong passphrase"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer wrong.Close()

	if _, err := wrong.ReadKeypair(); err == nil {
		t.Fatal("expected ReadKeypair() to fail under the wrong passphrase")
	}
}

func TestAcquaintanceUpsertReadRemove(t *testing.T) {
	st, err := Open(t.TempDir(), []byte("pw"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()

	if _, err := st.ReadAcquaintance("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadAcquaintance() on empty store error = %v, want ErrNotFound", err)
	}

	a := Acquaintance{Petname: "alice", Address: "tcp://10.0.0.1:9000", PublicKey: []byte{1, 2, 3}}
	if err := st.AddAcquaintance(a); err != nil {
		t.Fatalf("AddAcquaintance() error = %v", err)
	}

	got, err := st.ReadAcquaintance("alice")
	if err != nil {
		t.Fatalf("ReadAcquaintance() error = %v", err)
	}
	if got.Address != a.Address || !bytes.Equal(got.PublicKey, a.PublicKey) {
		t.Fatalf("ReadAcquaintance() = %+v, want %+v", got, a)
	}

	// Upsert: same petname, new address.
	a.Address = "tcp://10.0.0.2:9000"
	if err := st.AddAcquaintance(a); err != nil {
		t.Fatalf("AddAcquaintance() (upsert) error = %v", err)
	}
	got, err = st.ReadAcquaintance("alice")
	if err != nil {
		t.Fatalf("ReadAcquaintance() after upsert error = %v", err)
	}
	if got.Address != "tcp://10.0.0.2:9000" {
		t.Fatalf("address after upsert = %q, want updated value", got.Address)
	}

	list, err := st.ListAcquaintances()
	if err != nil {
		t.Fatalf("ListAcquaintances() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListAcquaintances() returned %d entries, want 1", len(list))
	}

	if err := st.RemoveAcquaintance("alice"); err != nil {
		t.Fatalf("RemoveAcquaintance() error = %v", err)
	}
	if _, err := st.ReadAcquaintance("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadAcquaintance() after remove error = %v, want ErrNotFound", err)
	}
	if err := st.RemoveAcquaintance("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveAcquaintance() of already-removed petname error = %v, want ErrNotFound", err)
	}
}

func TestAcquaintancesPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	st1, err := Open(dir, []byte("pw"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := st1.AddAcquaintance(Acquaintance{Petname: "bob", Address: "quic://host:1", PublicKey: []byte{9}}); err != nil {
		t.Fatalf("AddAcquaintance() error = %v", err)
	}
	st1.Close()

	st2, err := Open(dir, []byte("pw"))
	if err != nil {
		t.Fatalf("Open() (reopen) error = %v", err)
	}
	defer st2.Close()

	got, err := st2.ReadAcquaintance("bob")
	if err != nil {
		t.Fatalf("ReadAcquaintance() after reopen error = %v", err)
	}
	if got.Address != "quic://host:1" {
		t.Fatalf("address after reopen = %q", got.Address)
	}
}
