package deviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/permission"
)

// cacheKey is the (tool, capability, scope) triple the permission cache is
// keyed by, per the "Capability → Permission cache" entry.
type cacheKey struct {
	tool       string
	capability string
	scope      models.GrantScope
}

// Proxy is the Device API Proxy: table-driven verb dispatch to an external
// HTTP peer, owning its own session-scoped grant cache.
type Proxy struct {
	broker   *permission.Broker
	peerBase string
	client   *http.Client

	mu    sync.Mutex
	cache map[cacheKey]string
}

// New constructs a Proxy speaking to peerBase (the device-API peer's
// loopback base URL, e.g. "http://127.0.0.1:8766").
func New(broker *permission.Broker, peerBase string) *Proxy {
	return &Proxy{
		broker:   broker,
		peerBase: peerBase,
		client:   &http.Client{},
		cache:    make(map[cacheKey]string),
	}
}

// Invoke executes a single device API verb: lookup, permission check, and peer call.
func (p *Proxy) Invoke(ctx context.Context, action string, payload map[string]any, identity string) (*models.ToolResult, error) {
	// Special behaviour: one level of {action: device_api, payload: {action, payload}} nesting is unwrapped.
	if action == "device_api" {
		if inner, ok := payload["action"].(string); ok {
			innerPayload, _ := payload["payload"].(map[string]any)
			return p.Invoke(ctx, inner, innerPayload, identity)
		}
	}

	if virtual, ok := uvcVirtualActions[action]; ok {
		return virtual(ctx, p, payload, identity)
	}

	return p.dispatchPrimitive(ctx, action, payload, identity)
}

// dispatchPrimitive resolves a table-declared verb (not a virtual one) to
// a grant check followed by a peer call. Shared by Invoke and by the UVC
// virtual actions, which compose several primitives into one tool call.
func (p *Proxy) dispatchPrimitive(ctx context.Context, action string, payload map[string]any, identity string) (*models.ToolResult, error) {
	act, ok := actionTable[action]
	if !ok {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "unknown_action"}, nil
	}

	var permissionID string
	if act.RequiresPermission {
		tool, capability := derivePermission(action)
		g, err := p.acquireGrant(ctx, tool, capability, identity)
		if err != nil {
			return nil, err
		}
		if g.Status != models.StatusApproved {
			return &models.ToolResult{Status: models.ToolStatusPermissionRequired, Request: g}, nil
		}
		permissionID = g.ID
	}

	return p.callPeer(ctx, act, action, payload, permissionID, identity)
}

// acquireGrant consults the capability cache and falls back to requesting
// a fresh grant if nothing cached is still valid.
func (p *Proxy) acquireGrant(ctx context.Context, tool, capability, identity string) (*models.Grant, error) {
	key := cacheKey{tool: tool, capability: capability, scope: models.ScopeSession}

	p.mu.Lock()
	cachedID, hasCached := p.cache[key]
	p.mu.Unlock()

	if hasCached {
		g, err := p.broker.Get(ctx, cachedID)
		if err == nil && g != nil && g.Status == models.StatusApproved {
			return g, nil
		}
		p.mu.Lock()
		delete(p.cache, key)
		p.mu.Unlock()
	}

	g, err := p.broker.Request(ctx, tool, fmt.Sprintf("device capability %q", capability), models.ScopeSession, identity, capability, 0)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.cache[key] = g.ID
	p.mu.Unlock()
	return g, nil
}

// callPeer issues the HTTP request to the device-API peer and returns its
// JSON body annotated with the HTTP status.
func (p *Proxy) callPeer(ctx context.Context, act Action, action string, payload map[string]any, permissionID, identity string) (*models.ToolResult, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if permissionID != "" && act.Method == MethodPOST {
		payload["permission_id"] = permissionID
	}

	ctx, cancel := context.WithTimeout(ctx, act.Timeout)
	defer cancel()

	var body io.Reader
	url := p.peerBase + act.PeerPath
	if act.Method == MethodPOST {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, brainerr.New(brainerr.KindBadRequest, "invalid_payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, string(act.Method), url, body)
	if err != nil {
		return nil, brainerr.New(brainerr.KindInternal, "build request: %v", err)
	}
	if act.Method == MethodPOST {
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != "" {
		req.Header.Set("X-Methings-Identity", identity)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, brainerr.New(brainerr.KindUpstreamUnavailable, "device_unavailable: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode == http.StatusForbidden {
		if status, _ := decoded["status"].(string); status == string(models.ToolStatusPermissionRequired) {
			return &models.ToolResult{Status: models.ToolStatusPermissionRequired, Data: decoded}, nil
		}
	}

	status := models.ToolStatusOK
	if resp.StatusCode >= 400 {
		status = models.ToolStatusError
	}
	return &models.ToolResult{Status: status, Data: decoded, Detail: map[string]any{"http_status": resp.StatusCode, "action": action}}, nil
}
