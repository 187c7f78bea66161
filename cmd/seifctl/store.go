package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/seif-protocol/seif-go/internal/config"
	"github.com/seif-protocol/seif-go/internal/store"
)

// resolvePassphrase returns the passphrase for wrapping the local keypair
// at rest: from the configured environment variable if set, otherwise
// read interactively with echo disabled, matching the teacher's
// term.ReadPassword prompt pattern.
func resolvePassphrase(passphraseEnv string, confirm bool) ([]byte, error) {
	if passphraseEnv == "" {
		passphraseEnv = "SEIF_PASSPHRASE"
	}
	if v, ok := os.LookupEnv(passphraseEnv); ok {
		return []byte(v), nil
	}

	fmt.Print("Enter passphrase: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}

	if confirm {
		fmt.Print("Confirm passphrase: ")
		confirmPw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("read passphrase confirmation: %w", err)
		}
		if string(pw) != string(confirmPw) {
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	return pw, nil
}

// openStore opens the store rooted at dataDir, prompting for a passphrase
// if one isn't already available via environment variable.
func openStore(dataDir, passphraseEnv string) (*store.Store, error) {
	pass, err := resolvePassphrase(passphraseEnv, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range pass {
			pass[i] = 0
		}
	}()
	return store.Open(dataDir, pass)
}

// loadConfig loads seifctl.yaml from configPath, falling back to defaults
// if the path is empty and no default file exists.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = "./seifctl.yaml"
		if _, err := os.Stat(configPath); err != nil {
			return config.Default(), nil
		}
	}
	return config.Load(configPath)
}
