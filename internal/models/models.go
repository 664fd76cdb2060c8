// Package models holds the data model shared across the control plane:
// permission grants, sessions, chat messages, inbox items, runtime config
// and credentials.
package models

import "time"

// GrantScope is the lifetime a permission grant is valid for.
type GrantScope string

const (
	ScopeOnce       GrantScope = "once"
	ScopeSession    GrantScope = "session"
	ScopePersistent GrantScope = "persistent"
)

// GrantStatus is the permission grant state machine's current state.
type GrantStatus string

const (
	StatusPending  GrantStatus = "pending"
	StatusApproved GrantStatus = "approved"
	StatusDenied   GrantStatus = "denied"
	StatusExpired  GrantStatus = "expired"
	StatusUsed     GrantStatus = "used"
)

// IsTerminal reports whether status can no longer transition.
func (s GrantStatus) IsTerminal() bool {
	switch s {
	case StatusDenied, StatusExpired, StatusUsed:
		return true
	default:
		return false
	}
}

// Grant is a persisted permission row.
type Grant struct {
	ID         string      `json:"id"`
	Tool       string      `json:"tool"`
	Capability string      `json:"capability,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	Scope      GrantScope  `json:"scope"`
	Status     GrantStatus `json:"status"`
	Identity   string      `json:"identity,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

// ChatRole is the role a chat message was authored under.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleTool      ChatRole = "tool"
	RoleSystem    ChatRole = "system"
)

// ActorTag classifies who produced a chat message, for transcript tagging.
type ActorTag string

const (
	ActorHuman ActorTag = "human"
	ActorAgent ActorTag = "agent"
	ActorTool  ActorTag = "tool"
	ActorCodex ActorTag = "codex"
	ActorSystem ActorTag = "system"
)

// ChatMessage is one immutable, append-only journal row.
type ChatMessage struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Role      ChatRole       `json:"role"`
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionSummary is a listing row: a session id plus its message count and
// the timestamp of its most recent message.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	Count         int       `json:"count"`
	LastCreatedAt time.Time `json:"last_created_at"`
}

// InboxItemKind distinguishes chat prompts from out-of-band events.
type InboxItemKind string

const (
	ItemChat  InboxItemKind = "chat"
	ItemEvent InboxItemKind = "event"
)

// InboxItem is a single unit of work consumed exactly once by the runtime
// worker. It is never persisted.
type InboxItem struct {
	ID        string         `json:"id"`
	Kind      InboxItemKind  `json:"kind"`
	Text      string         `json:"text,omitempty"`
	Name      string         `json:"name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolPolicy governs whether the runtime nudges the model to use tools.
type ToolPolicy string

const (
	ToolPolicyAuto     ToolPolicy = "auto"
	ToolPolicyRequired ToolPolicy = "required"
)

// FSScope selects whether filesystem operations resolve under the app root
// or a per-user subdirectory of it.
type FSScope string

const (
	FSScopeUser FSScope = "user"
	FSScopeApp  FSScope = "app"
)

// RuntimeConfig is the brain runtime's mutable, persisted configuration.
type RuntimeConfig struct {
	Enabled          bool       `json:"enabled"`
	AutoStart        bool       `json:"auto_start"`
	ProviderURL      string     `json:"provider_url"`
	Model            string     `json:"model"`
	APIKeyCredential string     `json:"api_key_credential,omitempty"`
	APIKeyEnv        string     `json:"api_key_env,omitempty"`
	ToolPolicy       ToolPolicy `json:"tool_policy"`
	FSScope          FSScope    `json:"fs_scope"`
	SystemPrompt     string     `json:"system_prompt,omitempty"`
	Temperature      float64    `json:"temperature"`
	MaxActions       int        `json:"max_actions"`
	MaxToolRounds    int        `json:"max_tool_rounds"`
	IdleSleepMS      int        `json:"idle_sleep_ms"`
}

// Clamp enforces sane bounds on this config and fills in defaults for
// zero-valued fields.
func (c *RuntimeConfig) Clamp() {
	if c.MaxActions < 1 {
		c.MaxActions = 4
	}
	if c.MaxActions > 12 {
		c.MaxActions = 12
	}
	if c.MaxToolRounds < 1 {
		c.MaxToolRounds = 8
	}
	if c.MaxToolRounds > 24 {
		c.MaxToolRounds = 24
	}
	if c.IdleSleepMS < 100 {
		c.IdleSleepMS = 800
	}
	if c.ToolPolicy == "" {
		c.ToolPolicy = ToolPolicyAuto
	}
	if c.FSScope == "" {
		c.FSScope = FSScopeUser
	}
}

// DefaultRuntimeConfig returns the config a fresh install starts with.
func DefaultRuntimeConfig() RuntimeConfig {
	c := RuntimeConfig{
		Enabled:     false,
		AutoStart:   false,
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
	}
	c.Clamp()
	return c
}

// Credential is a named secret value read by the runtime (e.g. a model
// provider API key) and written only behind a "credentials" permission grant.
type Credential struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEvent is one row of the append-only audit log.
type AuditEvent struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolStatus is the outer envelope every tool/dispatcher result carries.
type ToolStatus string

const (
	ToolStatusOK                  ToolStatus = "ok"
	ToolStatusPermissionRequired  ToolStatus = "permission_required"
	ToolStatusPermissionExpired   ToolStatus = "permission_expired"
	ToolStatusError               ToolStatus = "error"
)

// ToolResult is the uniform envelope returned by the dispatcher and by
// individual tool implementations.
type ToolResult struct {
	Status  ToolStatus     `json:"status"`
	Data    map[string]any `json:"data,omitempty"`
	Request *Grant         `json:"request,omitempty"`
	Error   string         `json:"error,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}
