package keychain

import (
	"iter"
	"slices"
	"sync"
)

// MemoryBackend is an in-memory implementation of Backend for testing.
// Containers survive Close and reopen for the lifetime of the backend.
type MemoryBackend struct {
	mu         sync.RWMutex
	containers map[string]*memoryContainer
}

type memoryContainer struct {
	settings Settings
	records  []Record // insertion order
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{containers: make(map[string]*memoryContainer)}
}

func (b *MemoryBackend) CreateContainer(name string, _ bool) (Container, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.containers[name]; ok {
		return nil, newError(KindContainerExists, "create", name, nil)
	}
	b.containers[name] = &memoryContainer{}
	return &memoryHandle{backend: b, name: name}, nil
}

func (b *MemoryBackend) OpenContainer(name string) (Container, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.containers[name]; !ok {
		return nil, newError(KindNotFound, "open", name, nil)
	}
	return &memoryHandle{backend: b, name: name}, nil
}

// Settings returns the settings last applied to a container.
func (b *MemoryBackend) Settings(name string) (Settings, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.containers[name]
	if !ok {
		return Settings{}, false
	}
	return c.settings, true
}

// Put stores a raw record without identity checks, for seeding tests with
// records a foreign tool might have written.
func (b *MemoryBackend) Put(name string, r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[name]
	if !ok {
		c = &memoryContainer{}
		b.containers[name] = c
	}
	c.records = append(c.records, r)
}

type memoryHandle struct {
	backend *MemoryBackend
	name    string
	closed  bool
}

func (h *memoryHandle) Name() string { return h.name }

func (h *memoryHandle) ApplySettings(s Settings) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	c, err := h.container("settings")
	if err != nil {
		return err
	}
	c.settings = s
	return nil
}

func (h *memoryHandle) Search(q Query) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		h.backend.mu.RLock()
		c, err := h.container("search")
		var snapshot []Record
		if err == nil {
			snapshot = slices.Clone(c.records)
		}
		h.backend.mu.RUnlock()
		if err != nil {
			yield(Record{}, err)
			return
		}

		n := 0
		for _, r := range snapshot {
			if !q.matches(r.Label) {
				continue
			}
			if q.Limit > 0 && n >= q.Limit {
				return
			}
			n++
			r.Secret = slices.Clone(r.Secret)
			if !yield(q.project(r), nil) {
				return
			}
		}
	}
}

func (h *memoryHandle) Insert(label, account string, secret []byte) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	c, err := h.container("insert")
	if err != nil {
		return err
	}
	if slices.IndexFunc(c.records, sameIdentity(label, account)) >= 0 {
		return newError(KindDuplicate, "insert", identity(label, account), nil)
	}
	c.records = append(c.records, Record{Label: label, Account: account, Secret: slices.Clone(secret)})
	return nil
}

func (h *memoryHandle) DeleteByIdentity(label, account string) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	c, err := h.container("delete")
	if err != nil {
		return err
	}
	i := slices.IndexFunc(c.records, sameIdentity(label, account))
	if i < 0 {
		return newError(KindNotFound, "delete", identity(label, account), nil)
	}
	c.records = slices.Delete(c.records, i, i+1)
	return nil
}

func (h *memoryHandle) Close() error {
	h.closed = true
	return nil
}

// container must be called with the backend lock held.
func (h *memoryHandle) container(op string) (*memoryContainer, error) {
	if h.closed {
		return nil, newError(KindBackend, op, h.name, errClosed)
	}
	c, ok := h.backend.containers[h.name]
	if !ok {
		return nil, newError(KindNotFound, op, h.name, nil)
	}
	return c, nil
}

func sameIdentity(label, account string) func(Record) bool {
	return func(r Record) bool {
		return r.Label == label && r.Account == account
	}
}
