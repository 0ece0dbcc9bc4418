package keychain

import (
	"errors"
	"log/slog"
	"testing"

	gokeyring "github.com/zalando/go-keyring"
)

// The zalando mock provider is process-global, so these tests do not run
// in parallel.

func TestSimpleBackendContract(t *testing.T) {
	runContainerContract(t, func(t *testing.T) Backend {
		gokeyring.MockInit()
		return NewSimpleBackend()
	})
}

func TestSimpleIndexTracksRecords(t *testing.T) {
	gokeyring.MockInit()
	b := NewSimpleBackend()
	c := createContainer(t, b, "indexed")
	c.Insert("prod", "AKIAPROD", []byte("secret"))

	secret, err := gokeyring.Get("indexed", recordKey("prod", "AKIAPROD"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if secret != "secret" {
		t.Errorf("secret = %q, want secret", secret)
	}

	c.DeleteByIdentity("prod", "AKIAPROD")
	if _, err := gokeyring.Get("indexed", recordKey("prod", "AKIAPROD")); !errors.Is(err, gokeyring.ErrNotFound) {
		t.Errorf("expected secret removed, got %v", err)
	}
}

func TestSimpleSkipsIndexEntryWithoutSecret(t *testing.T) {
	gokeyring.MockInit()
	b := NewSimpleBackend()
	c := createContainer(t, b, "stale")
	c.Insert("prod", "AKIAPROD", []byte("secret"))
	gokeyring.Delete("stale", recordKey("prod", "AKIAPROD"))

	if recs := collect(t, c, Query{Label: "prod", LoadData: true, LoadAttributes: true}); len(recs) != 0 {
		t.Errorf("expected stale entry skipped, got %d records", len(recs))
	}
}

func TestSimpleProviderErrorIsBackendFailure(t *testing.T) {
	gokeyring.MockInitWithError(errors.New("dbus unavailable"))
	defer gokeyring.MockInit()

	_, err := NewSimpleBackend().OpenContainer("broken")
	if KindOf(err) != KindBackend {
		t.Errorf("expected backend failure, got %v", err)
	}
}

// indexFailingKeyring rejects writes to the index entry once armed.
type indexFailingKeyring struct {
	gokeyring.Keyring
	armed bool
}

func (k *indexFailingKeyring) Set(service, user, password string) error {
	if k.armed && user == indexUser {
		return errors.New("keyring locked")
	}
	return k.Keyring.Set(service, user, password)
}

func TestSimpleInsertRemovesSecretWhenIndexWriteFails(t *testing.T) {
	gokeyring.MockInit()
	ring := &indexFailingKeyring{Keyring: loginKeyring{}}
	b := &SimpleBackend{ring: ring, logger: slog.Default()}
	c := createContainer(t, b, "orphans")

	ring.armed = true
	err := c.Insert("prod", "AKIAPROD", []byte("secret"))
	if KindOf(err) != KindBackend {
		t.Fatalf("expected backend failure, got %v", err)
	}
	if _, err := gokeyring.Get("orphans", recordKey("prod", "AKIAPROD")); !errors.Is(err, gokeyring.ErrNotFound) {
		t.Errorf("expected no orphaned secret, got %v", err)
	}

	ring.armed = false
	if recs := collect(t, c, Query{Label: "prod", LoadAttributes: true}); len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}
