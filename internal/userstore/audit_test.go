package userstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

func TestAuditLogRecordsAuthOutcomes(t *testing.T) {
	dir := t.TempDir()
	audit, err := OpenAuditLog(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("OpenAuditLog: %v", err)
	}
	defer audit.Close()

	store := newTestStore(t)
	if err := store.AddUser("u1", "pw", "t1", 1, &model.Bouquet{}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	as := &AuditedStore{Store: store, Audit: audit}

	if _, ok := as.Authenticate("u1", "pw"); !ok {
		t.Fatal("expected authenticate to succeed")
	}
	if _, ok := as.Authenticate("u1", "wrong"); ok {
		t.Fatal("expected authenticate to fail")
	}

	events, err := audit.Recent(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != "auth_denied" || events[1].Event != "auth_ok" {
		t.Fatalf("unexpected event order: %+v", events)
	}
}

func TestAuditLogRecordsAcquireOutcomes(t *testing.T) {
	dir := t.TempDir()
	audit, err := OpenAuditLog(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("OpenAuditLog: %v", err)
	}
	defer audit.Close()

	store := newTestStore(t)
	if err := store.AddUser("u1", "pw", "t1", 1, &model.Bouquet{}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	as := &AuditedStore{Store: store, Audit: audit}

	if !as.Acquire("u1") {
		t.Fatal("expected first acquire to succeed")
	}
	if as.Acquire("u1") {
		t.Fatal("expected second acquire to fail: max_connections is 1")
	}

	events, err := audit.Recent(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 || events[0].Event != "stream_rejected" || events[1].Event != "stream_acquired" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
