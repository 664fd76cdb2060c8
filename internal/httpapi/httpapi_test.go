package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

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

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := storage.NewMemoryAdapter()
	broker := permission.New(store)
	j := journal.New(store)
	fs := fstool.New(t.TempDir())
	shell := shellsandbox.New(t.TempDir())
	al, _ := audit.NewLogger(audit.Config{Enabled: false})
	d := dispatcher.New(broker, store, fs, shell, noopDevice{}, noopCloud{})
	return New(Config{Store: store, Broker: broker, Dispatcher: d, Journal: j, Audit: al})
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.mux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
}

func TestHandlePermissionsCreateAndApprove(t *testing.T) {
	s := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/permissions",
		jsonBody(t, map[string]any{"tool": "filesystem", "detail": "read a file", "scope": "once"}))
	w := httptest.NewRecorder()
	s.mux().ServeHTTP(w, createReq)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body.String())
	}
	var grant models.Grant
	if err := json.NewDecoder(w.Body).Decode(&grant); err != nil {
		t.Fatalf("decode: %v", err)
	}

	approveReq := httptest.NewRequest(http.MethodPost, "/permissions/"+grant.ID+"/approve", nil)
	w2 := httptest.NewRecorder()
	s.mux().ServeHTTP(w2, approveReq)
	if w2.Code != http.StatusOK {
		t.Fatalf("approve status = %d body = %s", w2.Code, w2.Body.String())
	}
}

func TestHandleToolInvoke_FilesystemRequiresPermission(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tools/filesystem/invoke",
		jsonBody(t, map[string]any{"args": map[string]any{"op": "list_dir", "path": "."}}))
	w := httptest.NewRecorder()
	s.mux().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var result models.ToolResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Status != models.ToolStatusPermissionRequired {
		t.Fatalf("status = %v", result.Status)
	}
}

func TestHandleToolInvoke_RejectsBadArgsBeforeDispatch(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tools/filesystem/invoke",
		jsonBody(t, map[string]any{"args": map[string]any{"op": "delete_everything"}}))
	w := httptest.NewRecorder()
	s.mux().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}
