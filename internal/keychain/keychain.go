// Package keychain provides credential record storage backed by the
// operating system's secure secret store.
//
// Records live inside a named container (a file keychain on macOS, a
// keyring collection elsewhere) and are stored as generic secrets with:
//   - Label: the profile name (not unique)
//   - Account: the access key id
//   - Data: the secret access key
//
// A record is identified by its (label, account) pair.
package keychain

import (
	"iter"
	"time"
	"unicode/utf8"
)

// Attribute names exposed by Record.Attributes.
const (
	AttrLabel      = "label"
	AttrAccount    = "account"
	AttrSecretData = "secretData"
)

// Settings is the locking policy of a container.
type Settings struct {
	LockOnSleep bool `json:"lock_on_sleep"`
	// LockInterval locks the container after this much inactivity.
	// Zero means no automatic lock.
	LockInterval time.Duration `json:"lock_interval,omitempty"`
}

// DefaultSettings locks on sleep and after five minutes of inactivity.
var DefaultSettings = Settings{LockOnSleep: true, LockInterval: 300 * time.Second}

// Query filters a Search. Every search is restricted to generic secrets.
// Label always filters by exact match, including the empty label, unless
// AnyLabel is set.
type Query struct {
	Label          string
	AnyLabel       bool
	Limit          int // <= 0 means unbounded
	LoadData       bool
	LoadAttributes bool
}

// Record is one generic secret inside a container. Fields that were not
// requested by the Query are left empty.
type Record struct {
	Label   string
	Account string
	Secret  []byte
}

// Attributes returns the record as a raw attribute mapping. Empty fields
// are absent, and secret bytes that are not valid UTF-8 are dropped.
func (r Record) Attributes() map[string]string {
	attrs := make(map[string]string, 3)
	if r.Label != "" {
		attrs[AttrLabel] = r.Label
	}
	if r.Account != "" {
		attrs[AttrAccount] = r.Account
	}
	if len(r.Secret) > 0 {
		if text, err := r.SecretText(); err == nil {
			attrs[AttrSecretData] = text
		}
	}
	return attrs
}

// SecretText returns the secret as text. Bytes that are not valid UTF-8
// fail with ErrDecode.
func (r Record) SecretText() (string, error) {
	if !utf8.Valid(r.Secret) {
		return "", newError(KindDecode, "decode", r.Label, nil)
	}
	return string(r.Secret), nil
}

// Backend creates and opens containers on one OS mechanism.
type Backend interface {
	// CreateContainer creates a new container. When prompt is true the OS
	// may ask the user for a passphrase protecting it.
	CreateContainer(name string, prompt bool) (Container, error)
	OpenContainer(name string) (Container, error)
}

// Container is an open handle on a named container. Callers must Close it.
type Container interface {
	Name() string
	ApplySettings(s Settings) error
	// Search yields matching records in backend order. Iteration stops
	// after the first error.
	Search(q Query) iter.Seq2[Record, error]
	Insert(label, account string, secret []byte) error
	DeleteByIdentity(label, account string) error
	Close() error
}

// matches reports whether a record with label passes the query filter.
func (q Query) matches(label string) bool {
	return q.AnyLabel || q.Label == label
}

// project strips the fields the query did not ask for.
func (q Query) project(r Record) Record {
	if !q.LoadAttributes {
		r.Label, r.Account = "", ""
	}
	if !q.LoadData {
		r.Secret = nil
	}
	return r
}
