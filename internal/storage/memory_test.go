package storage

import (
	"context"
	"testing"
	"time"

	"github.com/methings/brainctl/internal/models"
)

func TestMemoryAdapter_PermissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	g := &models.Grant{ID: "p_1", Tool: "device.camera", Scope: models.ScopeSession, Status: models.StatusPending, CreatedAt: time.Now()}
	if err := a.CreatePermission(ctx, g); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := a.GetPermission(ctx, "p_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("status = %v, want pending", got.Status)
	}

	got.Status = models.StatusApproved
	if err := a.UpdatePermission(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	pending, err := a.ListPendingPermissions(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending grants after approval, got %d", len(pending))
	}
}

func TestMemoryAdapter_ChatMessageRetention(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	a.perSessionCap = 5

	for i := 0; i < 10; i++ {
		if err := a.AppendChatMessage(ctx, &models.ChatMessage{SessionID: "s1", Role: models.RoleUser, Text: "hi", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rows, err := a.ListChatMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected retention cap of 5 rows, got %d", len(rows))
	}
}

func TestMemoryAdapter_ListForSessionExactOrder(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	for i := 0; i < 6; i++ {
		a.AppendChatMessage(ctx, &models.ChatMessage{SessionID: "s1", Role: models.RoleUser, Text: string(rune('a' + i)), CreatedAt: time.Now()})
	}
	a.AppendChatMessage(ctx, &models.ChatMessage{SessionID: "s2", Role: models.RoleUser, Text: "other", CreatedAt: time.Now()})

	rows, err := a.ListChatMessages(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("want 3 rows, got %d", len(rows))
	}
	want := []string{"d", "e", "f"}
	for i, r := range rows {
		if r.Text != want[i] {
			t.Fatalf("row %d = %q, want %q", i, r.Text, want[i])
		}
	}
}

func TestMemoryAdapter_SettingsAndCredentials(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	if _, ok, _ := a.GetSetting(ctx, "missing"); ok {
		t.Fatal("expected missing setting to report !ok")
	}
	if err := a.SetSetting(ctx, "runtime_config", `{"enabled":true}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := a.GetSetting(ctx, "runtime_config")
	if err != nil || !ok || v != `{"enabled":true}` {
		t.Fatalf("get = %q, %v, %v", v, ok, err)
	}

	if err := a.SetCredential(ctx, "openai_api_key", "sk-test"); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	c, err := a.GetCredential(ctx, "openai_api_key")
	if err != nil || c.Value != "sk-test" {
		t.Fatalf("get credential: %v %v", c, err)
	}
	if err := a.DeleteCredential(ctx, "openai_api_key"); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if _, err := a.GetCredential(ctx, "openai_api_key"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
