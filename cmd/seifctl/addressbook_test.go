package main

import (
	"encoding/hex"
	"testing"

	"github.com/seif-protocol/seif-go/internal/seifcrypto"
	"github.com/seif-protocol/seif-go/internal/store"
)

func TestAddressbookAddListRemove(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SEIF_TEST_PASS", "correct-horse-battery-staple")

	kp, err := seifcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	pubHex := hex.EncodeToString(seifcrypto.ExportPublicKey(kp.Public))

	add := addressbookAddCmd()
	add.SetArgs([]string{
		"--data-dir", dataDir,
		"--passphrase-env", "SEIF_TEST_PASS",
		"--petname", "ziad",
		"--address", "127.0.0.1:4433",
		"--public-key", pubHex,
	})
	if err := add.Execute(); err != nil {
		t.Fatalf("addressbook add Execute() error = %v", err)
	}

	s, err := store.Open(dataDir, []byte("correct-horse-battery-staple"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer s.Close()

	a, err := s.ReadAcquaintance("ziad")
	if err != nil {
		t.Fatalf("ReadAcquaintance() error = %v", err)
	}
	if a.Address != "127.0.0.1:4433" {
		t.Fatalf("Address = %q, want 127.0.0.1:4433", a.Address)
	}
	s.Close()

	list := addressbookListCmd()
	list.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS"})
	if err := list.Execute(); err != nil {
		t.Fatalf("addressbook list Execute() error = %v", err)
	}

	remove := addressbookRemoveCmd()
	remove.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS", "ziad"})
	if err := remove.Execute(); err != nil {
		t.Fatalf("addressbook remove Execute() error = %v", err)
	}

	s2, err := store.Open(dataDir, []byte("correct-horse-battery-staple"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer s2.Close()
	if _, err := s2.ReadAcquaintance("ziad"); err == nil {
		t.Fatal("expected ziad to be forgotten after remove")
	}
}

func TestAddressbookAddRejectsBadPublicKeyHex(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SEIF_TEST_PASS", "correct-horse-battery-staple")

	add := addressbookAddCmd()
	add.SetArgs([]string{
		"--data-dir", dataDir,
		"--passphrase-env", "SEIF_TEST_PASS",
		"--petname", "ziad",
		"--address", "127.0.0.1:4433",
		"--public-key", "not-hex",
	})
	if err := add.Execute(); err == nil {
		t.Fatal("addressbook add with invalid hex should have failed")
	}
}
