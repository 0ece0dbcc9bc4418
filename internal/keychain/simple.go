package keychain

import (
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"slices"

	gokeyring "github.com/zalando/go-keyring"
)

// indexUser is the entry listing a container's records. The login
// keyring cannot enumerate entries by service, so the index stands in.
const indexUser = "credlock.index"

type simpleIndex struct {
	Settings Settings      `json:"settings"`
	Records  []simpleEntry `json:"records"`
}

type simpleEntry struct {
	Label   string `json:"label"`
	Account string `json:"account"`
}

// SimpleBackend stores records in the user's default login keyring through
// github.com/zalando/go-keyring. A container is a keyring service name.
type SimpleBackend struct {
	ring   gokeyring.Keyring
	logger *slog.Logger
}

// NewSimpleBackend creates a login-keyring backend.
func NewSimpleBackend() *SimpleBackend {
	return &SimpleBackend{ring: loginKeyring{}, logger: slog.With("component", "simple")}
}

// loginKeyring forwards to the provider go-keyring selected for this OS.
type loginKeyring struct{}

func (loginKeyring) Set(service, user, password string) error {
	return gokeyring.Set(service, user, password)
}

func (loginKeyring) Get(service, user string) (string, error) {
	return gokeyring.Get(service, user)
}

func (loginKeyring) Delete(service, user string) error {
	return gokeyring.Delete(service, user)
}

func (loginKeyring) DeleteAll(service string) error {
	return gokeyring.DeleteAll(service)
}

func (b *SimpleBackend) CreateContainer(name string, _ bool) (Container, error) {
	_, err := b.ring.Get(name, indexUser)
	switch {
	case err == nil:
		return nil, newError(KindContainerExists, "create", name, nil)
	case !errors.Is(err, gokeyring.ErrNotFound):
		return nil, mapSimpleError("create", name, err)
	}

	c := &simpleContainer{name: name, ring: b.ring, logger: b.logger}
	if err := c.writeIndex(&simpleIndex{}); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *SimpleBackend) OpenContainer(name string) (Container, error) {
	if _, err := b.ring.Get(name, indexUser); err != nil {
		return nil, mapSimpleError("open", name, err)
	}
	return &simpleContainer{name: name, ring: b.ring, logger: b.logger}, nil
}

type simpleContainer struct {
	name   string
	ring   gokeyring.Keyring
	closed bool
	logger *slog.Logger
}

func (c *simpleContainer) Name() string { return c.name }

func (c *simpleContainer) checkOpen(op string) error {
	if c.closed {
		return newError(KindBackend, op, c.name, errClosed)
	}
	return nil
}

func (c *simpleContainer) readIndex() (*simpleIndex, error) {
	if err := c.checkOpen("index"); err != nil {
		return nil, err
	}
	raw, err := c.ring.Get(c.name, indexUser)
	if err != nil {
		return nil, mapSimpleError("index", c.name, err)
	}
	idx := &simpleIndex{}
	if err := json.Unmarshal([]byte(raw), idx); err != nil {
		return nil, newError(KindBackend, "index", c.name, err)
	}
	return idx, nil
}

func (c *simpleContainer) writeIndex(idx *simpleIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return newError(KindBackend, "index", c.name, err)
	}
	if err := c.ring.Set(c.name, indexUser, string(data)); err != nil {
		return mapSimpleError("index", c.name, err)
	}
	return nil
}

func (c *simpleContainer) ApplySettings(s Settings) error {
	idx, err := c.readIndex()
	if err != nil {
		return err
	}
	idx.Settings = s
	return c.writeIndex(idx)
}

func (c *simpleContainer) Search(q Query) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		idx, err := c.readIndex()
		if err != nil {
			yield(Record{}, err)
			return
		}

		n := 0
		for _, e := range idx.Records {
			if !q.matches(e.Label) {
				continue
			}
			if q.Limit > 0 && n >= q.Limit {
				return
			}
			rec := Record{Label: e.Label, Account: e.Account}
			if q.LoadData {
				secret, err := c.ring.Get(c.name, recordKey(e.Label, e.Account))
				if errors.Is(err, gokeyring.ErrNotFound) {
					c.logger.Debug("index entry without secret", "container", c.name, "label", e.Label)
					continue
				}
				if err != nil {
					yield(Record{}, mapSimpleError("read", identity(e.Label, e.Account), err))
					return
				}
				rec.Secret = []byte(secret)
			}
			n++
			if !yield(q.project(rec), nil) {
				return
			}
		}
	}
}

func (c *simpleContainer) Insert(label, account string, secret []byte) error {
	idx, err := c.readIndex()
	if err != nil {
		return err
	}
	entry := simpleEntry{Label: label, Account: account}
	if slices.Contains(idx.Records, entry) {
		return newError(KindDuplicate, "insert", identity(label, account), nil)
	}
	key := recordKey(label, account)
	if err := c.ring.Set(c.name, key, string(secret)); err != nil {
		return mapSimpleError("insert", identity(label, account), err)
	}
	idx.Records = append(idx.Records, entry)
	if err := c.writeIndex(idx); err != nil {
		if derr := c.ring.Delete(c.name, key); derr != nil && !errors.Is(derr, gokeyring.ErrNotFound) {
			c.logger.Warn("orphaned secret after index write failure", "container", c.name, "label", label, "error", derr)
		}
		return err
	}
	return nil
}

func (c *simpleContainer) DeleteByIdentity(label, account string) error {
	idx, err := c.readIndex()
	if err != nil {
		return err
	}
	entry := simpleEntry{Label: label, Account: account}
	i := slices.Index(idx.Records, entry)
	if i < 0 {
		return newError(KindNotFound, "delete", identity(label, account), nil)
	}
	err = c.ring.Delete(c.name, recordKey(label, account))
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return mapSimpleError("delete", identity(label, account), err)
	}
	idx.Records = slices.Delete(idx.Records, i, i+1)
	return c.writeIndex(idx)
}

func (c *simpleContainer) Close() error {
	c.closed = true
	return nil
}

func mapSimpleError(op, name string, err error) error {
	switch {
	case errors.Is(err, gokeyring.ErrNotFound):
		return newError(KindNotFound, op, name, err)
	default:
		return newError(KindBackend, op, name, err)
	}
}
