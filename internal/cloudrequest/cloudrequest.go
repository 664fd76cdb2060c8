// Package cloudrequest implements the dispatcher's CloudRequestInvoker: a
// thin forwarder to the on-device peer's /cloud/request endpoint, which
// owns secret expansion (vault/config/file) and its own permission prompt
// flow. The control plane never sees the expanded request or its secrets;
// it only relays the model-authored template and the peer's response.
package cloudrequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/models"
)

// Client forwards cloud_request tool calls to the peer.
type Client struct {
	peerBase string
	http     *http.Client
}

// New constructs a Client targeting peerBase (e.g. http://127.0.0.1:8766).
func New(peerBase string) *Client {
	return &Client{peerBase: peerBase, http: &http.Client{}}
}

// Invoke forwards args as the /cloud/request body. The local timeout is
// clamped to [60s, 300s] and set 60s above the caller's requested
// timeout_s, so the outer call never times out before the upstream
// request the peer is making on the model's behalf does.
func (c *Client) Invoke(ctx context.Context, args map[string]any, identity string) (*models.ToolResult, error) {
	payload := make(map[string]any, len(args)+1)
	for k, v := range args {
		payload[k] = v
	}
	if identity != "" {
		if _, ok := payload["identity"]; !ok {
			payload["identity"] = identity
		}
	}

	reqTimeout := 45.0
	if v, ok := args["timeout_s"].(float64); ok && v > 0 {
		reqTimeout = v
	}
	toolTimeout := reqTimeout + 60
	if toolTimeout < 60 {
		toolTimeout = 60
	}
	if toolTimeout > 300 {
		toolTimeout = 300
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(toolTimeout*float64(time.Second)))
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cloud_request: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.peerBase+"/cloud/request", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cloud_request: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if identity != "" {
		req.Header.Set("X-Methings-Identity", identity)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "upstream_unavailable"}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "upstream_error"}, nil
	}
	sanitized := audit.Redact(string(raw))

	var parsed map[string]any
	if err := json.Unmarshal([]byte(sanitized), &parsed); err != nil {
		return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"raw": sanitized, "http_status": resp.StatusCode}}, nil
	}

	if resp.StatusCode == http.StatusForbidden {
		if status, _ := parsed["status"].(string); status == "permission_required" {
			return &models.ToolResult{Status: models.ToolStatusPermissionRequired, Data: parsed}, nil
		}
	}
	if resp.StatusCode >= 400 {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "upstream_error", Detail: parsed}, nil
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: parsed}, nil
}
