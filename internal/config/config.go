// Package config provides configuration parsing and validation for seifctl.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete seifctl configuration.
type Config struct {
	Identity  IdentityConfig   `yaml:"identity"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Listeners []ListenerConfig `yaml:"listeners"`
	Peers     []PeerConfig     `yaml:"peers"`
	Limits    LimitsConfig     `yaml:"limits"`
}

// IdentityConfig locates the store holding the local static keypair and
// acquaintance directory.
type IdentityConfig struct {
	// DataDir is the directory store.Open roots itself at.
	DataDir string `yaml:"data_dir"`

	// PassphraseEnv names the environment variable holding the passphrase
	// that wraps the private key at rest. The passphrase itself is never
	// stored in configuration.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// LoggingConfig controls internal/logging.NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls whether and where Prometheus metrics are served.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ListenerConfig describes one address this peer accepts sessions on.
type ListenerConfig struct {
	// Transport is "tcp", "ws", or "quic".
	Transport string `yaml:"transport"`
	Address   string `yaml:"address"`

	TLS TLSConfig `yaml:"tls"`

	// AcceptRate limits new connections per second; 0 disables limiting.
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`
}

// PeerConfig describes a peer to dial proactively on startup, identified
// by petname in the local acquaintance directory.
type PeerConfig struct {
	Petname string `yaml:"petname"`

	// Reconnect sets the backoff used to retry the initial dial until it
	// succeeds; a session that closes after opening is not re-dialed.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// TLSConfig is a listener or peer's transport-layer TLS material. Per
// internal/transport, this is defense in depth: Seif's own handshake is
// the actual peer-authentication layer, so every field here is optional.
type TLSConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	CAFile       string `yaml:"ca_file"`
	StrictVerify bool   `yaml:"strict_verify"`
}

func (t TLSConfig) HasCert() bool { return t.CertFile != "" && t.KeyFile != "" }
func (t TLSConfig) HasCA() bool   { return t.CAFile != "" }

// ReconnectConfig controls exponential backoff for peer re-dials.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`

	// MaxRetries caps attempts; 0 means unlimited.
	MaxRetries int `yaml:"max_retries"`
}

// LimitsConfig holds handshake and session resource limits. Validate checks
// them; nothing else in this module reads them, so they are not applied.
type LimitsConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxRecordSize    int           `yaml:"max_record_size"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
}

// Default returns a Config with sensible defaults, matching what a fresh
// seifctl install should behave like with no configuration file at all.
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{
			DataDir:       "./data",
			PassphraseEnv: "SEIF_PASSPHRASE",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Listeners: []ListenerConfig{},
		Peers:     []PeerConfig{},
		Limits: LimitsConfig{
			HandshakeTimeout: 10 * time.Second,
			MaxRecordSize:    1 << 20,
			DialTimeout:      30 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, expanding environment
// variable references and validating the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Identity.DataDir == "" {
		return fmt.Errorf("config: identity.data_dir must not be empty")
	}
	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("config: invalid logging.level %q", c.Logging.Level)
	}
	if !isValidLogFormat(c.Logging.Format) {
		return fmt.Errorf("config: invalid logging.format %q", c.Logging.Format)
	}
	for i, l := range c.Listeners {
		if err := c.validateListener(l, i); err != nil {
			return err
		}
	}
	for i, p := range c.Peers {
		if p.Petname == "" {
			return fmt.Errorf("config: peers[%d].petname must not be empty", i)
		}
	}
	if c.Limits.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: limits.handshake_timeout must be positive")
	}
	if c.Limits.MaxRecordSize <= 0 {
		return fmt.Errorf("config: limits.max_record_size must be positive")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	}
	return false
}

func isValidTransport(transport string) bool {
	switch transport {
	case "tcp", "ws", "quic":
		return true
	}
	return false
}

func (c *Config) validateListener(l ListenerConfig, index int) error {
	if !isValidTransport(l.Transport) {
		return fmt.Errorf("config: listeners[%d].transport %q must be tcp, ws, or quic", index, l.Transport)
	}
	if l.Address == "" {
		return fmt.Errorf("config: listeners[%d].address must not be empty", index)
	}
	return nil
}

// Redacted returns a copy of c with nothing sensitive, since seifctl
// carries no secrets in config beyond env var references that are
// already expanded out of the file on disk.
func (c *Config) Redacted() *Config {
	cp := *c
	return &cp
}
