package keychain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/credlock/internal/audit"
)

func setupAuditedBackend(t *testing.T) (*AuditedBackend, string) {
	t.Helper()
	auditPath := filepath.Join(t.TempDir(), "audit.log")

	auditLog, err := audit.NewLogger(auditPath)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	return NewAuditedBackend(NewMemoryBackend(), auditLog, "cli"), auditPath
}

func readAuditEntries(t *testing.T, path string) []audit.Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	entries := make([]audit.Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var e audit.Entry
		json.Unmarshal([]byte(line), &e)
		entries = append(entries, e)
	}
	return entries
}

func TestAuditedBackendContract(t *testing.T) {
	runContainerContract(t, func(t *testing.T) Backend {
		b, _ := setupAuditedBackend(t)
		return b
	})
}

func TestAuditedCreateAndInsert(t *testing.T) {
	b, auditPath := setupAuditedBackend(t)
	c := createContainer(t, b, "audited")
	c.Insert("prod", "AKIAPROD", []byte("secret"))

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionContainerCreate {
		t.Errorf("expected container_create, got %v", entries[0].Action)
	}
	if entries[1].Action != audit.ActionCredentialWrite {
		t.Errorf("expected credential_write, got %v", entries[1].Action)
	}
	if entries[1].Profile != "prod" {
		t.Errorf("expected prod, got %q", entries[1].Profile)
	}
	if entries[1].Actor != "cli" {
		t.Errorf("expected cli, got %q", entries[1].Actor)
	}
}

func TestAuditedSearchLogsReadsOnlyWithData(t *testing.T) {
	b, auditPath := setupAuditedBackend(t)
	c := createContainer(t, b, "audited")
	c.Insert("prod", "AKIAPROD", []byte("secret"))

	collect(t, c, Query{Label: "prod", LoadAttributes: true})
	collect(t, c, Query{Label: "prod", LoadData: true, LoadAttributes: true})

	var reads int
	for _, e := range readAuditEntries(t, auditPath) {
		if e.Action == audit.ActionCredentialRead {
			reads++
		}
	}
	if reads != 1 {
		t.Errorf("expected 1 read entry, got %d", reads)
	}
}

func TestAuditedDeleteFailureRecorded(t *testing.T) {
	b, auditPath := setupAuditedBackend(t)
	c := createContainer(t, b, "audited")
	c.DeleteByIdentity("prod", "AKIAPROD")

	entries := readAuditEntries(t, auditPath)
	last := entries[len(entries)-1]
	if last.Action != audit.ActionCredentialDelete {
		t.Fatalf("expected credential_delete, got %v", last.Action)
	}
	if last.Error != "not found" {
		t.Errorf("expected not found error, got %q", last.Error)
	}
}

func TestAuditedLogNeverContainsSecrets(t *testing.T) {
	b, auditPath := setupAuditedBackend(t)
	c := createContainer(t, b, "audited")
	c.Insert("prod", "AKIAPROD", []byte("super-secret"))
	collect(t, c, Query{Label: "prod", LoadData: true, LoadAttributes: true})
	c.Insert("prod", "AKIAPROD", []byte("super-secret"))

	data, _ := os.ReadFile(auditPath)
	for _, forbidden := range []string{"super-secret", "AKIAPROD"} {
		if strings.Contains(string(data), forbidden) {
			t.Errorf("audit log contains %q", forbidden)
		}
	}
}
