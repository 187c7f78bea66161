package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/seif-protocol/seif-go/internal/store"
)

func TestKeygenCmdWritesKeypair(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SEIF_TEST_PASS", "correct-horse-battery-staple")

	cmd := keygenCmd()
	cmd.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keygen Execute() error = %v", err)
	}

	s, err := store.Open(dataDir, []byte("correct-horse-battery-staple"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer s.Close()

	if _, err := s.ReadKeypair(); err != nil {
		t.Fatalf("ReadKeypair() after keygen error = %v", err)
	}
}

func TestKeygenCmdRefusesOverwriteWithoutForce(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SEIF_TEST_PASS", "correct-horse-battery-staple")

	first := keygenCmd()
	first.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS"})
	if err := first.Execute(); err != nil {
		t.Fatalf("first keygen Execute() error = %v", err)
	}

	second := keygenCmd()
	second.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS"})
	if err := second.Execute(); err == nil {
		t.Fatal("second keygen without --force should have failed")
	}

	third := keygenCmd()
	third.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS", "--force"})
	if err := third.Execute(); err != nil {
		t.Fatalf("keygen --force Execute() error = %v", err)
	}
}

func TestKeygenCmdCreatesDataDir(t *testing.T) {
	parent := t.TempDir()
	dataDir := filepath.Join(parent, "nested", "data")
	t.Setenv("SEIF_TEST_PASS", "correct-horse-battery-staple")

	cmd := keygenCmd()
	cmd.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keygen Execute() error = %v", err)
	}

	if _, err := os.Stat(dataDir); err != nil {
		t.Fatalf("expected data dir to exist: %v", err)
	}
}
