package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by the backend setting.
const (
	BackendAuto     = "auto"
	BackendKeychain = "keychain"
	BackendKeyring  = "keyring"
	BackendSimple   = "simple"
)

// DefaultContainer is the keychain name used when none is configured.
const DefaultContainer = "aws-credlock"

// AuditOff disables the audit log when used as audit_log.
const AuditOff = "off"

// Config holds persistent configuration loaded from ~/.credlock/config.yaml.
type Config struct {
	Container    string        `yaml:"container"`
	Backend      string        `yaml:"backend"`
	LockOnSleep  *bool         `yaml:"lock_on_sleep"`
	LockInterval time.Duration `yaml:"lock_interval"`
	AuditLog     string        `yaml:"audit_log"`
	Keyring      KeyringConfig `yaml:"keyring"`
}

// KeyringConfig configures the keyring backend.
type KeyringConfig struct {
	FileDir  string   `yaml:"file_dir"`
	Backends []string `yaml:"backends"`
}

// Home returns the credlock home directory (~/.credlock).
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".credlock")
}

// DefaultPath returns the default config file path: ~/.credlock/config.yaml.
func DefaultPath() string {
	home := Home()
	if home == "" {
		return ""
	}
	return filepath.Join(home, "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	lockOnSleep := true
	home := Home()
	return &Config{
		Container:    DefaultContainer,
		Backend:      BackendAuto,
		LockOnSleep:  &lockOnSleep,
		LockInterval: 5 * time.Minute,
		AuditLog:     filepath.Join(home, "audit.log"),
		Keyring: KeyringConfig{
			FileDir: filepath.Join(home, "keyrings"),
		},
	}
}

// Load reads a YAML config file from path over the defaults. If the file
// does not exist, it returns the defaults and no error. An empty or
// all-comment file also returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.AuditLog = expandHome(cfg.AuditLog)
	cfg.Keyring.FileDir = expandHome(cfg.Keyring.FileDir)
	return cfg, nil
}

// Validate checks that the configuration can be used.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Container) == "" {
		return errors.New("container name is required")
	}
	switch c.Backend {
	case BackendAuto, BackendKeychain, BackendKeyring, BackendSimple:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.LockInterval < 0 {
		return fmt.Errorf("lock_interval must not be negative, got %s", c.LockInterval)
	}
	return nil
}

// AuditEnabled reports whether an audit log should be written.
func (c *Config) AuditEnabled() bool {
	return c.AuditLog != "" && c.AuditLog != AuditOff
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
