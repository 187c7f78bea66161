package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/seif-protocol/seif-go/internal/seifcrypto"
	"github.com/seif-protocol/seif-go/internal/store"
)

func TestIdentityCmdPrintsStoredPublicKey(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SEIF_TEST_PASS", "correct-horse-battery-staple")

	kp, err := seifcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	s, err := store.Open(dataDir, []byte("correct-horse-battery-staple"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	if err := s.WriteKeypair(kp); err != nil {
		t.Fatalf("WriteKeypair() error = %v", err)
	}
	s.Close()

	var out bytes.Buffer
	cmd := identityCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("identity Execute() error = %v", err)
	}
	want := seifcrypto.HexEncode(seifcrypto.ExportPublicKey(kp.Public))
	if got := strings.TrimSpace(out.String()); got != want {
		t.Fatalf("identity output = %q, want %q", got, want)
	}
}

func TestIdentityCmdFailsWithoutKeypair(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SEIF_TEST_PASS", "correct-horse-battery-staple")

	cmd := identityCmd()
	cmd.SetArgs([]string{"--data-dir", dataDir, "--passphrase-env", "SEIF_TEST_PASS"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("identity without a keypair should have failed")
	}
}
