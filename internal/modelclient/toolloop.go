package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/methings/brainctl/internal/retry"
)

// ToolLoopItem is one entry of a Tool-Loop Protocol request/response
// payload: a message, a model-issued function call, or the caller's
// output for a prior function call.
type ToolLoopItem struct {
	Type      string `json:"type"` // "message" | "function_call" | "function_call_output"
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// ToolSchema is one function the model may call.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolLoopRequest is the body this client POSTs to the provider's
// /responses-shaped endpoint.
type ToolLoopRequest struct {
	Model              string         `json:"model"`
	Input              []ToolLoopItem `json:"input"`
	Tools              []ToolSchema   `json:"tools,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Temperature        float32        `json:"temperature,omitempty"`
}

// ToolLoopResponse is the provider's reply: a response id to continue the
// conversation with, and a list of output items (assistant text and/or
// function calls the caller must now execute).
type ToolLoopResponse struct {
	ID     string         `json:"id"`
	Output []ToolLoopItem `json:"output"`
}

// ToolLoopClient issues raw HTTP calls against an OpenAI-Responses-shaped
// endpoint. The go-openai SDK's typed request/response structs don't model
// function_call items or previous_response_id continuation, so this client
// builds and parses the JSON envelope directly.
type ToolLoopClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewToolLoopClient builds a client pointed at baseURL (expected to already
// include the /responses suffix or equivalent) with apiKey for bearer auth.
func NewToolLoopClient(baseURL, apiKey string) *ToolLoopClient {
	return &ToolLoopClient{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 60 * time.Second}}
}

// Call issues one Tool-Loop Protocol round, retrying transient network and
// 5xx failures with jittered exponential backoff. A 4xx response is treated
// as permanent since retrying it would just reproduce the same error.
func (c *ToolLoopClient) Call(ctx context.Context, req ToolLoopRequest) (*ToolLoopResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal tool-loop request: %w", err)
	}

	parsed, result := retry.DoWithValue(ctx, retry.Exponential(3, 250*time.Millisecond, 4*time.Second), func() (*ToolLoopResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("build tool-loop request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("tool-loop call: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read tool-loop response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("tool-loop call: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		if resp.StatusCode >= 400 {
			return nil, retry.Permanent(fmt.Errorf("tool-loop call: %s: %s", resp.Status, strings.TrimSpace(string(body))))
		}

		var parsed ToolLoopResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, retry.Permanent(fmt.Errorf("parse tool-loop response: %w", err))
		}
		return &parsed, nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return parsed, nil
}

// IsToolLoopEndpoint reports whether providerURL should be driven through
// the Tool-Loop Protocol rather than the Planner Protocol.
func IsToolLoopEndpoint(providerURL string) bool {
	return strings.HasSuffix(strings.TrimRight(providerURL, "/"), "/responses")
}
