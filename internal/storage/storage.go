// Package storage defines the Storage Adapter: the row-level persistence
// interface every other component drives, plus an in-memory and a SQLite
// backed implementation of it.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/methings/brainctl/internal/models"
)

// ErrNotFound is returned by Get-style lookups that find nothing.
var ErrNotFound = errors.New("storage: not found")

// EncryptionStatus is an opaque-to-the-core descriptor an adapter reports
// on health checks without the core inspecting how encryption is done.
type EncryptionStatus struct {
	Encrypted bool   `json:"encrypted"`
	Mode      string `json:"mode"`
}

// Adapter is the Storage Adapter contract. Every write is atomic; every read
// reflects all prior writes in program order for a single process.
type Adapter interface {
	// Permissions
	CreatePermission(ctx context.Context, g *models.Grant) error
	UpdatePermission(ctx context.Context, g *models.Grant) error
	GetPermission(ctx context.Context, id string) (*models.Grant, error)
	ListPendingPermissions(ctx context.Context) ([]*models.Grant, error)

	// Credentials
	SetCredential(ctx context.Context, name, value string) error
	GetCredential(ctx context.Context, name string) (*models.Credential, error)
	DeleteCredential(ctx context.Context, name string) error

	// Chat messages
	AppendChatMessage(ctx context.Context, m *models.ChatMessage) error
	ListChatMessages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error)
	ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error)

	// Audit
	AppendAudit(ctx context.Context, event string, data map[string]any) error
	ListAuditRecent(ctx context.Context, limit int) ([]models.AuditEvent, error)

	// Settings (opaque string-valued key/value, used for the RuntimeConfig blob)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	// EncryptionStatus reports the opaque descriptor passed through to /health.
	EncryptionStatus() EncryptionStatus

	Close() error
}

// now is overridable in tests.
var now = time.Now
