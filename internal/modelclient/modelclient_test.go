package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/methings/brainctl/internal/storage"
)

func TestResolveAPIKey_PrefersStoredCredential(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	if err := store.SetCredential(ctx, "openai_api_key", "stored-key"); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "env-key")

	key, err := ResolveAPIKey(ctx, store, "openai_api_key", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "stored-key" {
		t.Fatalf("key = %q, want stored-key", key)
	}
}

func TestResolveAPIKey_FallsBackToEnv(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	t.Setenv("OPENAI_API_KEY", "env-key")

	key, err := ResolveAPIKey(ctx, store, "openai_api_key", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "env-key" {
		t.Fatalf("key = %q, want env-key", key)
	}
}

func TestIsToolLoopEndpoint(t *testing.T) {
	if !IsToolLoopEndpoint("https://api.example.com/v1/responses") {
		t.Fatal("expected /responses suffix to select the tool-loop protocol")
	}
	if IsToolLoopEndpoint("https://api.example.com/v1/chat/completions") {
		t.Fatal("expected a non-responses endpoint to select the planner protocol")
	}
}

func TestToolLoopClient_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth header")
		}
		var req ToolLoopRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := ToolLoopResponse{
			ID: "resp_1",
			Output: []ToolLoopItem{
				{Type: "function_call", Name: "list_dir", Arguments: `{"path":"."}`, CallID: "call_1"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewToolLoopClient(srv.URL, "test-key")
	resp, err := client.Call(context.Background(), ToolLoopRequest{
		Model: "gpt-4o-mini",
		Input: []ToolLoopItem{{Type: "message", Role: "user", Content: "list my files"}},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.ID != "resp_1" || len(resp.Output) != 1 || resp.Output[0].Name != "list_dir" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestToolLoopClient_Call_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ToolLoopResponse{ID: "resp_2"})
	}))
	defer srv.Close()

	client := NewToolLoopClient(srv.URL, "test-key")
	resp, err := client.Call(context.Background(), ToolLoopRequest{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.ID != "resp_2" {
		t.Fatalf("resp = %+v", resp)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestToolLoopClient_Call_NoRetryOn4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	client := NewToolLoopClient(srv.URL, "test-key")
	if _, err := client.Call(context.Background(), ToolLoopRequest{Model: "gpt-4o-mini"}); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1 (4xx should not retry)", got)
	}
}
