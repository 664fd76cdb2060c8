package cloudrequest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/methings/brainctl/internal/models"
)

func TestInvoke_ForwardsAndParsesOKBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://example.com" {
			t.Errorf("unexpected body: %v", body)
		}
		if r.Header.Get("X-Methings-Identity") != "sess1" {
			t.Errorf("missing identity header")
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "data": "hi"})
	}))
	defer ts.Close()

	c := New(ts.URL)
	result, err := c.Invoke(context.Background(), map[string]any{"url": "https://example.com", "method": "GET"}, "sess1")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != models.ToolStatusOK {
		t.Fatalf("status = %v", result.Status)
	}
}

func TestInvoke_PermissionRequiredPassthrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "permission_required", "request": map[string]any{"id": "p1"}})
	}))
	defer ts.Close()

	c := New(ts.URL)
	result, err := c.Invoke(context.Background(), map[string]any{"url": "https://example.com"}, "sess1")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Status != models.ToolStatusPermissionRequired {
		t.Fatalf("status = %v", result.Status)
	}
}
