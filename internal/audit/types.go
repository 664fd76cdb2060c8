// Package audit provides structured, append-only audit logging for
// permission decisions and tool invocations, separate from ordinary
// application logging.
package audit

import "time"

// EventType categorizes an audit event.
type EventType string

const (
	EventToolInvoked       EventType = "tool_invoked"
	EventPermissionGranted EventType = "permission_granted"
	EventPermissionDenied  EventType = "permission_denied"
	EventPermissionExpired EventType = "permission_expired"
	EventBrainAction       EventType = "brain_action"
	EventBrainResponse     EventType = "brain_response"
	EventBrainItemFailed   EventType = "brain_item_failed"
)

// Level is audit event severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single audit log entry.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Level     Level          `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// OutputFormat is the audit logger's serialization.
type OutputFormat string

const (
	FormatJSON   OutputFormat = "json"
	FormatLogfmt OutputFormat = "logfmt"
)

// Config configures the audit logger.
type Config struct {
	Enabled       bool         `yaml:"enabled"`
	Format        OutputFormat `yaml:"format"`
	Output        string       `yaml:"output"` // "stdout", "stderr", or "file:/path"
	MaxFieldSize  int          `yaml:"max_field_size"`
	BufferSize    int          `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns the audit logger's default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Format:        FormatJSON,
		Output:        "stdout",
		MaxFieldSize:  2048,
		BufferSize:    512,
		FlushInterval: 2 * time.Second,
	}
}
