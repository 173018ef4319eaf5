package audit

import (
	"context"
	"strings"
	"testing"
)

func TestService_AppendRequiresType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_LogFraudFlag(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogFraudFlag(context.Background(), "c1", "u1", 100, 60); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].Type != EventTypeFraudFlag {
		t.Fatalf("expected fraud flag type, got %q", evs[0].Type)
	}
	if evs[0].CallID != "c1" {
		t.Fatalf("expected call id captured")
	}
	if !strings.Contains(evs[0].Metadata, `"server_seconds":100`) {
		t.Fatalf("expected server duration in metadata, got %q", evs[0].Metadata)
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestService_LogForcedTermination(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogForcedTermination(context.Background(), "c1", "heartbeat_timeout"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 || evs[0].Type != EventTypeForcedTermination {
		t.Fatalf("expected forced termination event, got %+v", evs)
	}
}

func TestService_LogAdminAction(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminAction(context.Background(), "admin-1", "admin", "u1", "manual wallet credit", `{"coins":50}`); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogForcedTermination(context.Background(), "c1", "connection_lost"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	admin := repo.OfType(EventTypeAdminAction)
	if len(admin) != 1 {
		t.Fatalf("expected 1 admin action, got %d", len(admin))
	}
	if admin[0].ActorUserID != "admin-1" || admin[0].ActorRole != "admin" || admin[0].UserID != "u1" {
		t.Fatalf("unexpected actor capture: %+v", admin[0])
	}
	if got := repo.OfType(EventTypeForcedTermination); len(got) != 1 {
		t.Fatalf("expected termination stream separated, got %d", len(got))
	}
}
