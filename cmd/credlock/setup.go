package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/99designs/keyring"
	"github.com/benaskins/credlock/internal/audit"
	"github.com/benaskins/credlock/internal/command"
	"github.com/benaskins/credlock/internal/config"
	"github.com/benaskins/credlock/internal/keychain"
	"github.com/spf13/cobra"
)

// passphraseEnv supplies the encrypted-file keyring passphrase without a prompt.
const passphraseEnv = "CREDLOCK_FILE_PASSPHRASE"

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if containerName != "" {
		cfg.Container = containerName
	}
	if backendName != "" {
		cfg.Backend = backendName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newBackend returns the backend named by cfg. "auto" picks the macOS
// keychain on darwin and the platform keyring elsewhere.
func newBackend(cfg *config.Config) (keychain.Backend, error) {
	name := cfg.Backend
	if name == config.BackendAuto {
		name = config.BackendKeyring
		if runtime.GOOS == "darwin" {
			name = config.BackendKeychain
		}
	}

	switch name {
	case config.BackendKeychain:
		b, err := keychain.NewSystemBackend()
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendKeyring:
		kcfg := keychain.KeyringConfig{
			Backends: cfg.Keyring.Backends,
			FileDir:  cfg.Keyring.FileDir,
		}
		if pass, ok := os.LookupEnv(passphraseEnv); ok {
			kcfg.Passphrase = keyring.FixedStringPrompt(pass)
		}
		return keychain.NewKeyringBackend(kcfg), nil
	case config.BackendSimple:
		return keychain.NewSimpleBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// newRunner wires config, backend, audit log and session for one command.
// The returned cleanup closes the audit log.
func newRunner(cmd *cobra.Command, actor string) (*command.Runner, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	if cfg.AuditEnabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLog), 0700); err != nil {
			return nil, nil, fmt.Errorf("creating audit log dir: %w", err)
		}
		auditLog, err := audit.NewLogger(cfg.AuditLog)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { auditLog.Close() }
		backend = keychain.NewAuditedBackend(backend, auditLog, actor)
		slog.Debug("audit log enabled", "path", auditLog.Path())
	}

	settings := keychain.Settings{LockInterval: cfg.LockInterval}
	if cfg.LockOnSleep != nil {
		settings.LockOnSleep = *cfg.LockOnSleep
	}
	session := keychain.NewSession(backend, cfg.Container, keychain.WithSettings(settings))
	return command.NewRunner(session, cmd.OutOrStdout()), cleanup, nil
}
