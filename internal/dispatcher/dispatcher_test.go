package dispatcher

import (
	"context"
	"testing"

	"github.com/methings/brainctl/internal/fstool"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/permission"
	"github.com/methings/brainctl/internal/shellsandbox"
	"github.com/methings/brainctl/internal/storage"
)

type stubDevice struct{}

func (stubDevice) Invoke(ctx context.Context, action string, payload map[string]any, identity string) (*models.ToolResult, error) {
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"action": action}}, nil
}

type stubCloud struct{}

func (stubCloud) Invoke(ctx context.Context, args map[string]any, identity string) (*models.ToolResult, error) {
	return &models.ToolResult{Status: models.ToolStatusOK}, nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *permission.Broker) {
	t.Helper()
	store := storage.NewMemoryAdapter()
	broker := permission.New(store)
	fs := fstool.New(t.TempDir())
	shell := shellsandbox.New(t.TempDir())
	return New(broker, store, fs, shell, stubDevice{}, stubCloud{}), broker
}

func TestDispatcher_FilesystemRequiresPermissionFirst(t *testing.T) {
	d, broker := newTestDispatcher(t)
	ctx := context.Background()

	res := d.Invoke(ctx, ToolFilesystem, map[string]any{"op": "mkdir", "path": "a"}, "", "create a dir", "sess1")
	if res.Status != models.ToolStatusPermissionRequired {
		t.Fatalf("expected permission_required, got %+v", res)
	}
	grantID := res.Request.ID

	if _, err := broker.Approve(ctx, grantID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	res2 := d.Invoke(ctx, ToolFilesystem, map[string]any{"op": "mkdir", "path": "a"}, grantID, "", "sess1")
	if res2.Status != models.ToolStatusOK {
		t.Fatalf("expected ok after approval, got %+v", res2)
	}
}

func TestDispatcher_ShellCommandNotAllowedNeverTouchesFS(t *testing.T) {
	d, broker := newTestDispatcher(t)
	ctx := context.Background()

	res := d.Invoke(ctx, ToolShell, map[string]any{"cmd": "rm", "raw_args": []any{"-rf", "/"}}, "", "", "s")
	grantID := res.Request.ID
	if _, err := broker.Approve(ctx, grantID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	res2 := d.Invoke(ctx, ToolShell, map[string]any{"cmd": "rm", "raw_args": []any{"-rf", "/"}}, grantID, "", "s")
	if res2.Status != models.ToolStatusError {
		t.Fatalf("expected error for disallowed command, got %+v", res2)
	}
}

func TestDispatcher_DeviceAPIPassesThroughWithoutGrant(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res := d.Invoke(context.Background(), ToolDeviceAPI, map[string]any{"action": "python.status"}, "", "", "s")
	if res.Status != models.ToolStatusOK {
		t.Fatalf("expected device_api to pass through, got %+v", res)
	}
}

func TestGuardOutboundTarget_RejectsLoopback(t *testing.T) {
	if err := guardOutboundTarget(map[string]any{"url": "http://127.0.0.1:9999/x"}); err == nil {
		t.Fatal("expected loopback target to be rejected")
	}
	if err := guardOutboundTarget(map[string]any{"url": "https://example.com/x"}); err != nil {
		t.Fatalf("expected public target to pass: %v", err)
	}
}
