package keychain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const (
	// markerKey holds a container's settings and marks it as created.
	markerKey = "credlock.container"
	// recordPrefix prefixes the key of every credential record.
	recordPrefix = "cred."
)

// KeyringConfig configures a KeyringBackend.
type KeyringConfig struct {
	// Backends restricts which keyring implementations may be used, by
	// name: "secret-service", "kwallet", "keychain", "wincred", "pass",
	// "keyctl", "file". Empty allows every available one.
	Backends []string
	// FileDir is the parent directory of encrypted-file keyrings.
	// Each container gets its own subdirectory.
	FileDir string
	// Passphrase unlocks encrypted-file keyrings. Nil falls back to a
	// terminal prompt.
	Passphrase keyring.PromptFunc
}

// KeyringBackend stores records in the platform keyring chosen by
// github.com/99designs/keyring. A container maps to a keyring service
// (a Secret Service collection, a KWallet folder, a file directory).
type KeyringBackend struct {
	cfg    KeyringConfig
	logger *slog.Logger
}

// NewKeyringBackend creates a backend using cfg.
func NewKeyringBackend(cfg KeyringConfig) *KeyringBackend {
	return &KeyringBackend{cfg: cfg, logger: slog.With("component", "keyring")}
}

// open configures the keyring for container name. A configured
// Passphrase takes precedence over prompting.
func (b *KeyringBackend) open(name string) (keyring.Keyring, error) {
	passphrase := b.cfg.Passphrase
	if passphrase == nil {
		passphrase = keyring.TerminalPrompt
	}

	var allowed []keyring.BackendType
	for _, backend := range b.cfg.Backends {
		allowed = append(allowed, keyring.BackendType(backend))
	}

	kcfg := keyring.Config{
		ServiceName:              name,
		KeychainName:             name,
		KeychainTrustApplication: true,
		KWalletAppID:             "credlock",
		KWalletFolder:            name,
		LibSecretCollectionName:  name,
		WinCredPrefix:            name,
		PassPrefix:               name,
		FilePasswordFunc:         passphrase,
		AllowedBackends:          allowed,
	}
	if b.cfg.FileDir != "" {
		kcfg.FileDir = filepath.Join(b.cfg.FileDir, name)
	}

	ring, err := keyring.Open(kcfg)
	if err != nil {
		return nil, mapKeyringError("open", name, err)
	}
	return ring, nil
}

func (b *KeyringBackend) CreateContainer(name string, _ bool) (Container, error) {
	ring, err := b.open(name)
	if err != nil {
		return nil, err
	}
	_, err = ring.Get(markerKey)
	switch {
	case err == nil:
		return nil, newError(KindContainerExists, "create", name, nil)
	case !errors.Is(err, keyring.ErrKeyNotFound):
		return nil, mapKeyringError("create", name, err)
	}

	c := &keyringContainer{name: name, ring: ring, logger: b.logger}
	if err := c.writeMarker(Settings{}); err != nil {
		return nil, err
	}
	b.logger.Debug("keyring container created", "container", name)
	return c, nil
}

func (b *KeyringBackend) OpenContainer(name string) (Container, error) {
	ring, err := b.open(name)
	if err != nil {
		return nil, err
	}
	if _, err := ring.Get(markerKey); err != nil {
		return nil, mapKeyringError("open", name, err)
	}
	return &keyringContainer{name: name, ring: ring, logger: b.logger}, nil
}

type keyringContainer struct {
	name   string
	ring   keyring.Keyring
	closed bool
	logger *slog.Logger
}

func (c *keyringContainer) Name() string { return c.name }

func (c *keyringContainer) handle(op string) (keyring.Keyring, error) {
	if c.closed {
		return nil, newError(KindBackend, op, c.name, errClosed)
	}
	return c.ring, nil
}

// ApplySettings records the locking policy on the container marker.
// Locking itself is enforced by the keyring daemon's own policy.
func (c *keyringContainer) ApplySettings(s Settings) error {
	if err := c.writeMarker(s); err != nil {
		return err
	}
	c.logger.Debug("keyring settings recorded", "container", c.name, "lock_on_sleep", s.LockOnSleep, "lock_interval", s.LockInterval)
	return nil
}

func (c *keyringContainer) writeMarker(s Settings) error {
	ring, err := c.handle("settings")
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return newError(KindBackend, "settings", c.name, err)
	}
	err = ring.Set(keyring.Item{
		Key:         markerKey,
		Data:        data,
		Label:       c.name,
		Description: "credlock container",
	})
	if err != nil {
		return mapKeyringError("settings", c.name, err)
	}
	return nil
}

func (c *keyringContainer) Search(q Query) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		ring, err := c.handle("search")
		if err != nil {
			yield(Record{}, err)
			return
		}
		keys, err := ring.Keys()
		if err != nil {
			yield(Record{}, mapKeyringError("search", c.name, err))
			return
		}

		n := 0
		for _, key := range keys {
			label, account, ok := parseRecordKey(key)
			if !ok || !q.matches(label) {
				continue
			}
			if q.Limit > 0 && n >= q.Limit {
				return
			}
			rec := Record{Label: label, Account: account}
			if q.LoadData {
				item, err := ring.Get(key)
				if errors.Is(err, keyring.ErrKeyNotFound) {
					// removed since Keys was listed
					continue
				}
				if err != nil {
					yield(Record{}, mapKeyringError("read", identity(label, account), err))
					return
				}
				rec.Secret = item.Data
			}
			n++
			if !yield(q.project(rec), nil) {
				return
			}
		}
	}
}

func (c *keyringContainer) Insert(label, account string, secret []byte) error {
	ring, err := c.handle("insert")
	if err != nil {
		return err
	}
	key := recordKey(label, account)
	_, err = ring.Get(key)
	switch {
	case err == nil:
		return newError(KindDuplicate, "insert", identity(label, account), nil)
	case !errors.Is(err, keyring.ErrKeyNotFound):
		return mapKeyringError("insert", identity(label, account), err)
	}

	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        secret,
		Label:       label,
		Description: account,
	})
	if err != nil {
		return mapKeyringError("insert", identity(label, account), err)
	}
	return nil
}

func (c *keyringContainer) DeleteByIdentity(label, account string) error {
	ring, err := c.handle("delete")
	if err != nil {
		return err
	}
	if err := ring.Remove(recordKey(label, account)); err != nil {
		return mapKeyringError("delete", identity(label, account), err)
	}
	return nil
}

func (c *keyringContainer) Close() error {
	c.ring, c.closed = nil, true
	return nil
}

// recordKey encodes an identity into a key that is safe as a file name on
// every platform.
func recordKey(label, account string) string {
	enc := base64.RawURLEncoding
	return recordPrefix + enc.EncodeToString([]byte(label)) + "." + enc.EncodeToString([]byte(account))
}

func parseRecordKey(key string) (label, account string, ok bool) {
	rest, found := strings.CutPrefix(key, recordPrefix)
	if !found {
		return "", "", false
	}
	l, a, found := strings.Cut(rest, ".")
	if !found {
		return "", "", false
	}
	enc := base64.RawURLEncoding
	lb, err := enc.DecodeString(l)
	if err != nil {
		return "", "", false
	}
	ab, err := enc.DecodeString(a)
	if err != nil {
		return "", "", false
	}
	return string(lb), string(ab), true
}

func mapKeyringError(op, name string, err error) error {
	switch {
	case errors.Is(err, keyring.ErrKeyNotFound), errors.Is(err, fs.ErrNotExist):
		return newError(KindNotFound, op, name, err)
	case errors.Is(err, fs.ErrPermission):
		return newError(KindPermissionDenied, op, name, err)
	default:
		return newError(KindBackend, op, name, err)
	}
}
