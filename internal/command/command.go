// Package command implements the credlock use-cases on top of a keychain
// session. Each method runs one command to completion; output is written
// only when the command succeeds.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/benaskins/credlock/internal/credentials"
	"github.com/benaskins/credlock/internal/keychain"
)

// ListLimit caps the number of records List reports.
const ListLimit = 100

// Runner executes commands against one container.
type Runner struct {
	session *keychain.Session
	out     io.Writer
	logger  *slog.Logger
}

// NewRunner creates a runner that prints to out.
func NewRunner(session *keychain.Session, out io.Writer) *Runner {
	return &Runner{
		session: session,
		out:     out,
		logger:  slog.With("component", "command", "container", session.Name()),
	}
}

// Init creates the container and applies its locking policy.
func (r *Runner) Init() error {
	return r.session.Init()
}

// List prints the label of every stored record, one per line. Records
// without a label are skipped.
func (r *Runner) List() error {
	var buf bytes.Buffer
	err := r.withContainer(func(c keychain.Container) error {
		q := keychain.Query{AnyLabel: true, Limit: ListLimit, LoadData: true, LoadAttributes: true}
		for rec, err := range c.Search(q) {
			if err != nil {
				return err
			}
			label, ok := rec.Attributes()[keychain.AttrLabel]
			if !ok {
				continue
			}
			fmt.Fprintln(&buf, label)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.flush(&buf)
}

// Get prints one credential process document per record stored under
// profile. No match prints nothing.
func (r *Runner) Get(profile string) error {
	var buf bytes.Buffer
	err := r.withContainer(func(c keychain.Container) error {
		q := keychain.Query{Label: profile, LoadData: true, LoadAttributes: true}
		for rec, err := range c.Search(q) {
			if err != nil {
				return err
			}
			if _, err := rec.SecretText(); errors.Is(err, keychain.ErrDecode) {
				r.logger.Warn("stored secret is not text, emitting an empty secret", "profile", profile)
			}
			doc, err := credentials.Encode(credentials.FromRecord(rec))
			if err != nil {
				return fmt.Errorf("encoding credentials for %s: %w", profile, err)
			}
			buf.Write(doc)
			buf.WriteByte('\n')
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.flush(&buf)
}

// Add stores a new record for profile. Both values must be non-empty;
// the prompt layer guarantees it.
func (r *Runner) Add(profile, accessKeyID, secretAccessKey string) error {
	return r.withContainer(func(c keychain.Container) error {
		return c.Insert(profile, accessKeyID, []byte(secretAccessKey))
	})
}

// Remove deletes every record stored under profile. Accounts are resolved
// first, then deleted by identity; records that vanish in between are
// skipped. It fails with keychain.ErrNotFound when nothing was deleted.
func (r *Runner) Remove(profile string) error {
	return r.withContainer(func(c keychain.Container) error {
		var accounts []string
		q := keychain.Query{Label: profile, LoadAttributes: true}
		for rec, err := range c.Search(q) {
			if err != nil {
				return err
			}
			accounts = append(accounts, rec.Attributes()[keychain.AttrAccount])
		}
		if len(accounts) == 0 {
			return &keychain.Error{Kind: keychain.KindNotFound, Op: "remove", Name: profile}
		}

		deleted := 0
		for _, account := range accounts {
			err := c.DeleteByIdentity(profile, account)
			if errors.Is(err, keychain.ErrNotFound) {
				r.logger.Debug("record vanished before delete", "profile", profile)
				continue
			}
			if err != nil {
				return err
			}
			deleted++
		}
		if deleted == 0 {
			return &keychain.Error{Kind: keychain.KindNotFound, Op: "remove", Name: profile}
		}
		r.logger.Debug("records removed", "profile", profile, "count", deleted)
		return nil
	})
}

// withContainer opens the container, runs fn and always closes it.
func (r *Runner) withContainer(fn func(keychain.Container) error) (err error) {
	c, err := r.session.Open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(c)
}

func (r *Runner) flush(buf *bytes.Buffer) error {
	if _, err := buf.WriteTo(r.out); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
