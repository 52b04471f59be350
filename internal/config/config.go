// Package config handles configuration for ostiary.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file path used when none is given.
const DefaultConfigFile = "/etc/ostiary/config.yaml"

// Duration is a time.Duration that reads from YAML as a string like
// "30m" or "100ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all ostiary configuration.
type Config struct {
	// ListenAddr is the address the admission server binds.
	ListenAddr string `yaml:"listen_addr"`

	// Password is the shared secret gating the handshake. Ignored when
	// PasswordHash is set.
	Password string `yaml:"password"`

	// PasswordHash is an optional bcrypt hash of the shared secret,
	// preferred over storing it in the clear.
	PasswordHash string `yaml:"password_hash"`

	// Identity overrides the effective consent identity. Empty means
	// the account the service process runs under.
	Identity string `yaml:"identity"`

	// DataDir is the base directory for consent and audit state.
	DataDir string `yaml:"data_dir"`

	// ConsentPath and AuditPath override the DataDir-derived defaults.
	ConsentPath string `yaml:"consent_path"`
	AuditPath   string `yaml:"audit_path"`

	AuditMaxSizeMB int `yaml:"audit_max_size_mb"`
	AuditMaxFiles  int `yaml:"audit_max_files"`

	// IdleTimeout ends a session after this long without inbound data.
	// 0 disables the idle check.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// TickInterval is the liveness loop period of a session handler.
	TickInterval Duration `yaml:"tick_interval"`

	// MaxSessions bounds concurrent sessions; connections beyond it
	// are rejected with an explicit error.
	MaxSessions int `yaml:"max_sessions"`

	// AcceptRate and AcceptBurst bound accepted connections per second;
	// connections over the rate are dropped before the handshake.
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`

	// StatusAddr is the loopback address of the local status API.
	// Empty disables it.
	StatusAddr string `yaml:"status_addr"`

	// TerminalEnabled attaches a PTY-backed collaborator to sessions;
	// when false, in-session input is discarded.
	TerminalEnabled bool `yaml:"terminal_enabled"`

	LogLevel string `yaml:"log_level"`
}

// DefaultDataDir returns the platform-appropriate state directory.
func DefaultDataDir() string {
	if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".ostiary")
	}
	return "/var/lib/ostiary"
}

// Load reads configuration from path (DefaultConfigFile when empty),
// applies environment overrides, and fills in defaults. A missing
// config file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:     ":9876",
		DataDir:        DefaultDataDir(),
		AuditMaxSizeMB: 50,
		AuditMaxFiles:  10,
		IdleTimeout:    Duration(30 * time.Minute),
		TickInterval:   Duration(100 * time.Millisecond),
		MaxSessions:    10,
		AcceptRate:     20,
		AcceptBurst:    40,
		StatusAddr:     "127.0.0.1:9877",
		LogLevel:       "info",
	}

	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Environment overrides
	if v := os.Getenv("OSTIARY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("OSTIARY_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("OSTIARY_PASSWORD_HASH"); v != "" {
		cfg.PasswordHash = v
	}
	if v := os.Getenv("OSTIARY_IDENTITY"); v != "" {
		cfg.Identity = v
	}
	if v := os.Getenv("OSTIARY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if cfg.ConsentPath == "" {
		cfg.ConsentPath = filepath.Join(cfg.DataDir, "consent", "consent.json")
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = filepath.Join(cfg.DataDir, "logs", "audit.log")
	}

	return cfg, nil
}

// ValidateServe checks the fields the admission server requires.
func (c *Config) ValidateServe() error {
	if c.Password == "" && c.PasswordHash == "" {
		return fmt.Errorf("config: a password or password_hash is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: max_sessions must be positive")
	}
	return nil
}
