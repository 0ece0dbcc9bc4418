package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"testing"

	"github.com/benaskins/credlock/internal/keychain"
)

const container = "aws-credlock-test"

func setupRunner(t *testing.T) (*Runner, *bytes.Buffer, *keychain.MemoryBackend) {
	t.Helper()
	backend := keychain.NewMemoryBackend()
	var out bytes.Buffer
	r := NewRunner(keychain.NewSession(backend, container, keychain.WithPrompt(false)), &out)
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r, &out, backend
}

// decodeDocuments splits the output of Get into its JSON documents.
func decodeDocuments(t *testing.T, out string) []map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(out))
	var docs []map[string]any
	for dec.More() {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		docs = append(docs, doc)
	}
	return docs
}

func TestInitTwiceReportsContainerExists(t *testing.T) {
	r, _, _ := setupRunner(t)
	err := r.Init()
	if !errors.Is(err, keychain.ErrContainerExists) {
		t.Fatalf("expected ErrContainerExists, got %v", err)
	}
}

func TestCommandsBeforeInitFail(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(keychain.NewSession(keychain.NewMemoryBackend(), container), &out)

	for name, run := range map[string]func() error{
		"list":   r.List,
		"get":    func() error { return r.Get("prod") },
		"add":    func() error { return r.Add("prod", "AKIA", "secret") },
		"remove": func() error { return r.Remove("prod") },
	} {
		if err := run(); !errors.Is(err, keychain.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestAddThenGet(t *testing.T) {
	r, out, _ := setupRunner(t)
	if err := r.Add("prod", "AKIAPROD", "prod-secret"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Get("prod"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	docs := decodeDocuments(t, out.String())
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0]["AccessKeyId"] != "AKIAPROD" {
		t.Errorf("AccessKeyId = %v, want AKIAPROD", docs[0]["AccessKeyId"])
	}
	if docs[0]["SecretAccessKey"] != "prod-secret" {
		t.Errorf("SecretAccessKey = %v, want prod-secret", docs[0]["SecretAccessKey"])
	}
	if docs[0]["Version"] != float64(1) {
		t.Errorf("Version = %v, want 1", docs[0]["Version"])
	}
}

func TestGetOutputIsPrettyAndNewlineTerminated(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("prod", "key", "secret")
	r.Get("prod")

	want := "{\n  \"Version\": 1,\n  \"AccessKeyId\": \"key\",\n  \"SecretAccessKey\": \"secret\"\n}\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestGetPrintsEveryMatch(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("shared", "AKIAONE", "one")
	r.Add("shared", "AKIATWO", "two")
	r.Add("other", "AKIAOTHER", "other")

	if err := r.Get("shared"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	docs := decodeDocuments(t, out.String())
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestGetUnknownProfilePrintsNothing(t *testing.T) {
	r, out, _ := setupRunner(t)
	if err := r.Get("nobody"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestGetEmptyProfileDoesNotMatchEverything(t *testing.T) {
	r, out, backend := setupRunner(t)
	r.Add("prod", "AKIAPROD", "prod-secret")
	r.Add("dev", "AKIADEV", "dev-secret")

	if err := r.Get(""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}

	backend.Put(container, keychain.Record{Account: "AKIANOLABEL", Secret: []byte("unlabeled")})
	if err := r.Get(""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	docs := decodeDocuments(t, out.String())
	if len(docs) != 1 || docs[0]["AccessKeyId"] != "AKIANOLABEL" {
		t.Errorf("expected only the unlabeled record, got %v", docs)
	}
}

func TestRemoveEmptyProfileKeepsOthers(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("prod", "AKIAPROD", "prod-secret")

	if err := r.Remove(""); !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	r.List()
	if out.String() != "prod\n" {
		t.Errorf("got %q, want %q", out.String(), "prod\n")
	}
}

func TestGetIsIdempotent(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("prod", "AKIAPROD", "prod-secret")

	r.Get("prod")
	first := out.String()
	out.Reset()
	r.Get("prod")

	if out.String() != first {
		t.Errorf("second Get differs:\n%s\nvs\n%s", out.String(), first)
	}
}

func TestGetLenientOnForeignRecords(t *testing.T) {
	r, out, backend := setupRunner(t)
	backend.Put(container, keychain.Record{Label: "foreign"})
	backend.Put(container, keychain.Record{Label: "foreign", Account: "AKIA", Secret: []byte{0xff, 0xfe}})

	if err := r.Get("foreign"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	docs := decodeDocuments(t, out.String())
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0]["AccessKeyId"] != "" || docs[0]["SecretAccessKey"] != "" {
		t.Errorf("expected empty fields, got %v", docs[0])
	}
	if docs[1]["AccessKeyId"] != "AKIA" || docs[1]["SecretAccessKey"] != "" {
		t.Errorf("expected empty secret for invalid text, got %v", docs[1])
	}
}

func TestList(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("prod", "AKIAPROD", "s")
	r.Add("dev", "AKIADEV", "s")

	if err := r.List(); err != nil {
		t.Fatalf("List: %v", err)
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	slices.Sort(got)
	if !slices.Equal(got, []string{"dev", "prod"}) {
		t.Errorf("labels = %v, want [dev prod]", got)
	}
}

func TestListEmpty(t *testing.T) {
	r, out, _ := setupRunner(t)
	if err := r.List(); err != nil {
		t.Fatalf("List: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestListSkipsUnlabeledRecords(t *testing.T) {
	r, out, backend := setupRunner(t)
	backend.Put(container, keychain.Record{Account: "AKIANOLABEL", Secret: []byte("s")})
	r.Add("prod", "AKIAPROD", "s")

	r.List()
	if out.String() != "prod\n" {
		t.Errorf("got %q, want %q", out.String(), "prod\n")
	}
}

func TestListCapsAtLimit(t *testing.T) {
	r, out, _ := setupRunner(t)
	for i := range ListLimit + 5 {
		r.Add(fmt.Sprintf("profile-%03d", i), "AKIA", "s")
	}

	r.List()
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != ListLimit {
		t.Errorf("expected %d labels, got %d", ListLimit, len(lines))
	}
}

func TestListIsIdempotent(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("prod", "AKIAPROD", "s")
	r.Add("dev", "AKIADEV", "s")

	r.List()
	first := out.String()
	out.Reset()
	r.List()
	if out.String() != first {
		t.Errorf("second List differs: %q vs %q", out.String(), first)
	}
}

func TestAddThenRemoveThenGet(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("prod", "AKIAPROD", "prod-secret")

	if err := r.Remove("prod"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Get("prod"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestRemoveDeletesEveryAccount(t *testing.T) {
	r, out, _ := setupRunner(t)
	r.Add("shared", "AKIAONE", "one")
	r.Add("shared", "AKIATWO", "two")
	r.Add("keep", "AKIAKEEP", "keep")

	if err := r.Remove("shared"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	r.List()
	if out.String() != "keep\n" {
		t.Errorf("got %q, want %q", out.String(), "keep\n")
	}
}

func TestRemoveUnknownProfile(t *testing.T) {
	r, out, _ := setupRunner(t)
	err := r.Remove("nobody")
	if !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

// racingBackend deletes every matching record after Search resolves it,
// simulating another process removing the profile between steps.
type racingBackend struct {
	*keychain.MemoryBackend
}

func (b racingBackend) OpenContainer(name string) (keychain.Container, error) {
	c, err := b.MemoryBackend.OpenContainer(name)
	if err != nil {
		return nil, err
	}
	return racingContainer{c}, nil
}

type racingContainer struct {
	keychain.Container
}

func (c racingContainer) Search(q keychain.Query) iter.Seq2[keychain.Record, error] {
	return func(yield func(keychain.Record, error) bool) {
		var recs []keychain.Record
		for rec, err := range c.Container.Search(q) {
			if err != nil {
				yield(rec, err)
				return
			}
			recs = append(recs, rec)
		}
		for _, rec := range recs {
			c.Container.DeleteByIdentity(rec.Label, rec.Account)
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func TestRemoveToleratesVanishedRecords(t *testing.T) {
	backend := racingBackend{keychain.NewMemoryBackend()}
	var out bytes.Buffer
	r := NewRunner(keychain.NewSession(backend, container), &out)
	r.Init()
	r.Add("prod", "AKIAPROD", "s")

	err := r.Remove("prod")
	if !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failingBackend fails searches after yielding one record.
type failingBackend struct {
	*keychain.MemoryBackend
}

func (b failingBackend) OpenContainer(name string) (keychain.Container, error) {
	c, err := b.MemoryBackend.OpenContainer(name)
	if err != nil {
		return nil, err
	}
	return failingContainer{c}, nil
}

type failingContainer struct {
	keychain.Container
}

func (c failingContainer) Search(q keychain.Query) iter.Seq2[keychain.Record, error] {
	return func(yield func(keychain.Record, error) bool) {
		for rec, err := range c.Container.Search(q) {
			if !yield(rec, err) {
				return
			}
			break
		}
		yield(keychain.Record{}, &keychain.Error{Kind: keychain.KindPermissionDenied, Op: "read"})
	}
}

func TestGetFailureProducesNoOutput(t *testing.T) {
	backend := failingBackend{keychain.NewMemoryBackend()}
	var out bytes.Buffer
	r := NewRunner(keychain.NewSession(backend, container), &out)
	r.Init()
	r.Add("prod", "AKIAONE", "one")
	r.Add("prod", "AKIATWO", "two")

	err := r.Get("prod")
	if !errors.Is(err, keychain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no partial output, got %q", out.String())
	}
}
