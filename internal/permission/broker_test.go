package permission

import (
	"context"
	"testing"
	"time"

	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/storage"
)

func TestBroker_StateMachine(t *testing.T) {
	ctx := context.Background()
	b := New(storage.NewMemoryAdapter())

	g, err := b.Request(ctx, "device.camera", "take a photo", models.ScopeOnce, "sess1", "camera", 0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if g.Status != models.StatusPending {
		t.Fatalf("status = %v, want pending", g.Status)
	}

	if _, err := b.Validate(ctx, g.ID, "device.camera"); err == nil {
		t.Fatal("expected validate to fail before approval")
	}

	approved, err := b.Approve(ctx, g.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.StatusApproved {
		t.Fatalf("status = %v, want approved", approved.Status)
	}

	// Repeated approve is a no-op, not an error.
	if _, err := b.Approve(ctx, g.ID); err != nil {
		t.Fatalf("repeated approve should be a no-op: %v", err)
	}

	if _, err := b.Validate(ctx, g.ID, "device.camera"); err != nil {
		t.Fatalf("validate after approval: %v", err)
	}

	if err := b.ConsumeOnce(ctx, g.ID); err != nil {
		t.Fatalf("consume once: %v", err)
	}
	final, _ := b.Get(ctx, g.ID)
	if final.Status != models.StatusUsed {
		t.Fatalf("status = %v, want used", final.Status)
	}

	// A terminal grant never resurrects.
	if _, err := b.Approve(ctx, g.ID); err == nil {
		t.Fatal("expected approve on a terminal grant to fail")
	}
}

func TestBroker_DenyIsTerminal(t *testing.T) {
	ctx := context.Background()
	b := New(storage.NewMemoryAdapter())

	g, _ := b.Request(ctx, "shell", "run curl", models.ScopeSession, "", "", 0)
	if _, err := b.Deny(ctx, g.ID); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if _, err := b.Approve(ctx, g.ID); err == nil {
		t.Fatal("expected approve after deny to fail")
	}
}

func TestBroker_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	b := New(storage.NewMemoryAdapter())

	g, _ := b.Request(ctx, "device.camera", "d", models.ScopeSession, "", "camera", 1)
	g, err := b.Approve(ctx, g.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Force expiry without waiting a full minute.
	past := time.Now().Add(-time.Second)
	g.ExpiresAt = &past

	broker2 := &Broker{store: b.store}
	if err := broker2.store.UpdatePermission(ctx, g); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := b.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusExpired {
		t.Fatalf("status = %v, want expired", got.Status)
	}

	if _, err := b.Validate(ctx, g.ID, "device.camera"); err == nil {
		t.Fatal("expected validate on expired grant to fail")
	}
}
