package keychain

import (
	"iter"
	"log/slog"

	"github.com/benaskins/credlock/internal/audit"
)

// AuditedBackend wraps a Backend and records every credential access to
// an audit log.
type AuditedBackend struct {
	inner Backend
	audit *audit.Logger
	actor string // "cli" or "credential_process"
}

// NewAuditedBackend wraps an existing backend with audit logging.
func NewAuditedBackend(inner Backend, auditLog *audit.Logger, actor string) *AuditedBackend {
	return &AuditedBackend{inner: inner, audit: auditLog, actor: actor}
}

func (b *AuditedBackend) CreateContainer(name string, prompt bool) (Container, error) {
	c, err := b.inner.CreateContainer(name, prompt)
	if err != nil {
		return nil, err
	}
	b.log(audit.Entry{Action: audit.ActionContainerCreate, Container: name})
	return &auditedContainer{Container: c, backend: b}, nil
}

func (b *AuditedBackend) OpenContainer(name string) (Container, error) {
	c, err := b.inner.OpenContainer(name)
	if err != nil {
		return nil, err
	}
	return &auditedContainer{Container: c, backend: b}, nil
}

// log is best-effort: a failure to write the audit log does not block
// the operation.
func (b *AuditedBackend) log(e audit.Entry) {
	e.Actor = b.actor
	if err := b.audit.Log(e); err != nil {
		slog.Warn("audit log write failed", "action", e.Action, "error", err)
	}
}

type auditedContainer struct {
	Container
	backend *AuditedBackend
}

// Search logs one read per record whose secret was loaded.
func (c *auditedContainer) Search(q Query) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for rec, err := range c.Container.Search(q) {
			if err == nil && q.LoadData {
				profile := rec.Label
				if profile == "" && !q.AnyLabel {
					profile = q.Label
				}
				c.backend.log(audit.Entry{
					Action:    audit.ActionCredentialRead,
					Container: c.Name(),
					Profile:   profile,
				})
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

func (c *auditedContainer) Insert(label, account string, secret []byte) error {
	err := c.Container.Insert(label, account, secret)
	e := audit.Entry{Action: audit.ActionCredentialWrite, Container: c.Name(), Profile: label}
	if err != nil {
		e.Error = KindOf(err).String()
	}
	c.backend.log(e)
	return err
}

func (c *auditedContainer) DeleteByIdentity(label, account string) error {
	err := c.Container.DeleteByIdentity(label, account)
	e := audit.Entry{Action: audit.ActionCredentialDelete, Container: c.Name(), Profile: label}
	if err != nil {
		e.Error = KindOf(err).String()
	}
	c.backend.log(e)
	return err
}
