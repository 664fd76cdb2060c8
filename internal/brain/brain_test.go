package brain

import (
	"context"
	"testing"
	"time"

	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/fstool"
	"github.com/methings/brainctl/internal/journal"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/permission"
	"github.com/methings/brainctl/internal/shellsandbox"
	"github.com/methings/brainctl/internal/storage"
)

type noopDevice struct{}

func (noopDevice) Invoke(ctx context.Context, action string, payload map[string]any, identity string) (*models.ToolResult, error) {
	return &models.ToolResult{Status: models.ToolStatusOK}, nil
}

type noopCloud struct{}

func (noopCloud) Invoke(ctx context.Context, args map[string]any, identity string) (*models.ToolResult, error) {
	return &models.ToolResult{Status: models.ToolStatusOK}, nil
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	store := storage.NewMemoryAdapter()
	broker := permission.New(store)
	j := journal.New(store)
	fs := fstool.New(t.TempDir())
	shell := shellsandbox.New(t.TempDir())
	al, _ := audit.NewLogger(audit.Config{Enabled: false})
	d := dispatcher.New(broker, store, fs, shell, noopDevice{}, noopCloud{})
	return New(store, j, d, al, nil, nil)
}

func defaultTestConfig() models.RuntimeConfig {
	var c models.RuntimeConfig
	c.Clamp()
	return c
}

func TestEnqueueChat_FillsInboxThenErrors(t *testing.T) {
	r := newTestRuntime(t)
	for i := 0; i < inboxCapacity; i++ {
		if _, err := r.EnqueueChat("s", "hi"); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if _, err := r.EnqueueChat("s", "one too many"); err == nil {
		t.Fatal("expected inbox-full error")
	}
}

func TestLocalAnswer_UsesSessionNotes(t *testing.T) {
	notes := map[string]string{"favorite_color": "green"}
	reply, ok := localAnswer(notes, "what is my favorite color?")
	if !ok || reply != "Your favorite color is green." {
		t.Fatalf("reply = %q, ok = %v", reply, ok)
	}
}

func TestProcessChat_NoProviderConfiguredFallsBack(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	item, err := r.EnqueueChat("s1", "hello there")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.processChat(ctx, defaultTestConfig(), *item); err != nil {
		t.Fatalf("processChat: %v", err)
	}
	msgs, err := r.journal.ListForSession(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant rows, got %d", len(msgs))
	}
}

func TestWorkerLoop_ProcessesQueuedItem(t *testing.T) {
	r := newTestRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := defaultTestConfig()
	r.Start(ctx, cfg)

	if _, err := r.EnqueueChat("s2", "hello"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, _ := r.journal.ListForSession(ctx, "s2", 10)
		if len(msgs) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("worker did not process queued chat item in time")
}
