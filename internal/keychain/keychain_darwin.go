//go:build darwin

package keychain

import (
	"encoding/json"
	"errors"
	"iter"
	"log/slog"

	gokeychain "github.com/keybase/go-keychain"
)

// ServicePrefix namespaces the keychain service of every container.
const ServicePrefix = "credlock."

// SystemBackend stores records as generic passwords in the user's login
// keychain. A container is a service namespace: its records and a marker
// item share the service ServicePrefix+name.
//
// Record items use recordKey(label, account) as their account attribute,
// so the (service, account) primary key the keychain enforces is exactly
// the record identity. The label attribute carries the profile name.
type SystemBackend struct {
	prefix string
	logger *slog.Logger
}

// NewSystemBackend creates a login-keychain backend.
func NewSystemBackend() (*SystemBackend, error) {
	return newSystemBackend(ServicePrefix), nil
}

func newSystemBackend(prefix string) *SystemBackend {
	return &SystemBackend{prefix: prefix, logger: slog.With("component", "keychain")}
}

func (b *SystemBackend) service(name string) string {
	return b.prefix + name
}

func (b *SystemBackend) markerQuery(name string) gokeychain.Item {
	item := gokeychain.NewItem()
	item.SetSecClass(gokeychain.SecClassGenericPassword)
	item.SetService(b.service(name))
	item.SetAccount(markerKey)
	return item
}

// CreateContainer adds the marker item. The login keychain is already
// protected by the user's login password, so prompt has no effect.
func (b *SystemBackend) CreateContainer(name string, _ bool) (Container, error) {
	data, err := json.Marshal(Settings{})
	if err != nil {
		return nil, newError(KindBackend, "create", name, err)
	}
	marker := gokeychain.NewGenericPassword(b.service(name), markerKey, name, data, "")
	marker.SetDescription("credlock container")
	lockToDevice(&marker)
	if err := gokeychain.AddItem(marker); err != nil {
		if errors.Is(err, gokeychain.ErrorDuplicateItem) {
			return nil, newError(KindContainerExists, "create", name, err)
		}
		return nil, mapError("create", name, err)
	}
	b.logger.Debug("keychain container created", "service", b.service(name))
	return b.handle(name), nil
}

func (b *SystemBackend) OpenContainer(name string) (Container, error) {
	query := b.markerQuery(name)
	query.SetMatchLimit(gokeychain.MatchLimitOne)
	query.SetReturnAttributes(true)
	results, err := gokeychain.QueryItem(query)
	if err != nil {
		return nil, mapError("open", name, err)
	}
	if len(results) == 0 {
		return nil, newError(KindNotFound, "open", name, nil)
	}
	return b.handle(name), nil
}

func (b *SystemBackend) handle(name string) *systemContainer {
	return &systemContainer{name: name, service: b.service(name), backend: b, logger: b.logger}
}

type systemContainer struct {
	name    string
	service string
	backend *SystemBackend
	closed  bool
	logger  *slog.Logger
}

func (c *systemContainer) Name() string { return c.name }

func (c *systemContainer) checkOpen(op string) error {
	if c.closed {
		return newError(KindBackend, op, c.name, errClosed)
	}
	return nil
}

// ApplySettings records the locking policy on the marker item. Record
// items are only readable while the login keychain is unlocked, so they
// follow its lock policy.
func (c *systemContainer) ApplySettings(s Settings) error {
	if err := c.checkOpen("settings"); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return newError(KindBackend, "settings", c.name, err)
	}
	update := gokeychain.NewItem()
	update.SetData(data)
	if err := gokeychain.UpdateItem(c.backend.markerQuery(c.name), update); err != nil {
		return mapError("settings", c.name, err)
	}
	c.logger.Debug("keychain settings recorded", "container", c.name, "lock_on_sleep", s.LockOnSleep, "lock_interval", s.LockInterval)
	return nil
}

// Search lists attributes in one query, then loads each secret by the
// item's own (service, account) key as the caller iterates. The Security
// framework refuses to return data for more than one item per query.
func (c *systemContainer) Search(q Query) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if err := c.checkOpen("search"); err != nil {
			yield(Record{}, err)
			return
		}

		query := gokeychain.NewItem()
		query.SetSecClass(gokeychain.SecClassGenericPassword)
		query.SetService(c.service)
		if !q.AnyLabel {
			// SetLabel drops an empty label; q.matches below still filters.
			query.SetLabel(q.Label)
		}
		query.SetMatchLimit(gokeychain.MatchLimitAll)
		query.SetReturnAttributes(true)

		results, err := gokeychain.QueryItem(query)
		if err != nil {
			yield(Record{}, mapError("search", c.name, err))
			return
		}

		n := 0
		for _, res := range results {
			if res.Account == markerKey {
				continue
			}
			rec := recordFromItem(res)
			if !q.matches(rec.Label) {
				continue
			}
			if q.Limit > 0 && n >= q.Limit {
				return
			}
			if q.LoadData {
				data, err := c.loadData(res.Account)
				if errors.Is(err, ErrNotFound) {
					c.logger.Debug("keychain item vanished before read", "container", c.name, "label", rec.Label)
					continue
				}
				if err != nil {
					yield(Record{}, err)
					return
				}
				rec.Secret = data
			}
			n++
			if !yield(q.project(rec), nil) {
				return
			}
		}
	}
}

// recordFromItem decodes the identity of a keychain item. Items not
// written by credlock keep their raw label and account.
func recordFromItem(res gokeychain.QueryResult) Record {
	if label, account, ok := parseRecordKey(res.Account); ok {
		return Record{Label: label, Account: account}
	}
	return Record{Label: res.Label, Account: res.Account}
}

func (c *systemContainer) loadData(account string) ([]byte, error) {
	query := gokeychain.NewItem()
	query.SetSecClass(gokeychain.SecClassGenericPassword)
	query.SetService(c.service)
	query.SetAccount(account)
	query.SetMatchLimit(gokeychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := gokeychain.QueryItem(query)
	if err != nil {
		return nil, mapError("read", c.name, err)
	}
	if len(results) == 0 {
		return nil, newError(KindNotFound, "read", c.name, nil)
	}
	return results[0].Data, nil
}

func (c *systemContainer) Insert(label, account string, secret []byte) error {
	if err := c.checkOpen("insert"); err != nil {
		return err
	}
	item := gokeychain.NewGenericPassword(c.service, recordKey(label, account), label, secret, "")
	item.SetDescription("credlock credential")
	lockToDevice(&item)
	if err := gokeychain.AddItem(item); err != nil {
		return mapError("insert", identity(label, account), err)
	}
	return nil
}

// DeleteByIdentity removes the item written for (label, account). Items
// not written by credlock are matched by their raw account and label.
func (c *systemContainer) DeleteByIdentity(label, account string) error {
	if err := c.checkOpen("delete"); err != nil {
		return err
	}
	item := gokeychain.NewItem()
	item.SetSecClass(gokeychain.SecClassGenericPassword)
	item.SetService(c.service)
	item.SetAccount(recordKey(label, account))
	err := gokeychain.DeleteItem(item)
	if errors.Is(err, gokeychain.ErrorItemNotFound) && account != markerKey {
		raw := gokeychain.NewItem()
		raw.SetSecClass(gokeychain.SecClassGenericPassword)
		raw.SetService(c.service)
		raw.SetAccount(account)
		raw.SetLabel(label)
		err = gokeychain.DeleteItem(raw)
	}
	if err != nil {
		return mapError("delete", identity(label, account), err)
	}
	c.logger.Debug("keychain item deleted", "container", c.name, "label", label)
	return nil
}

func (c *systemContainer) Close() error {
	c.closed = true
	return nil
}

func lockToDevice(item *gokeychain.Item) {
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)
}

func mapError(op, name string, err error) error {
	var code gokeychain.Error
	if !errors.As(err, &code) {
		return newError(KindBackend, op, name, err)
	}
	switch code {
	case gokeychain.ErrorItemNotFound, gokeychain.ErrorNoSuchKeychain:
		return newError(KindNotFound, op, name, err)
	case gokeychain.ErrorDuplicateItem:
		return newError(KindDuplicate, op, name, err)
	case gokeychain.ErrorAuthFailed, gokeychain.ErrorNoAccessForItem, gokeychain.ErrorUserCanceled,
		gokeychain.ErrorInteractionNotAllowed, gokeychain.ErrorReadOnly:
		return newError(KindPermissionDenied, op, name, err)
	default:
		return newError(KindBackend, op, name, err)
	}
}
