package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/methings/brainctl/internal/models"
)

// MemoryAdapter is an in-memory Storage Adapter, used for tests and the
// ephemeral dev mode.
type MemoryAdapter struct {
	mu sync.RWMutex

	permissions map[string]*models.Grant
	credentials map[string]*models.Credential
	settings    map[string]string

	messages  []*models.ChatMessage
	nextMsgID int64
	audit     []models.AuditEvent
	nextAudID int64

	perSessionCap int
	globalCap     int
}

// NewMemoryAdapter constructs an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		permissions:   make(map[string]*models.Grant),
		credentials:   make(map[string]*models.Credential),
		settings:      make(map[string]string),
		perSessionCap: 400,
		globalCap:     4000,
	}
}

func (m *MemoryAdapter) CreatePermission(_ context.Context, g *models.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.permissions[g.ID] = &cp
	return nil
}

func (m *MemoryAdapter) UpdatePermission(_ context.Context, g *models.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[g.ID]; !ok {
		return ErrNotFound
	}
	cp := *g
	m.permissions[g.ID] = &cp
	return nil
}

func (m *MemoryAdapter) GetPermission(_ context.Context, id string) (*models.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.permissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryAdapter) ListPendingPermissions(_ context.Context) ([]*models.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Grant, 0)
	for _, g := range m.permissions {
		if g.Status == models.StatusPending {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryAdapter) SetCredential(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[name] = &models.Credential{Name: name, Value: value, UpdatedAt: now()}
	return nil
}

func (m *MemoryAdapter) GetCredential(_ context.Context, name string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryAdapter) DeleteCredential(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, name)
	return nil
}

func (m *MemoryAdapter) AppendChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	cp := *msg
	cp.ID = m.nextMsgID
	m.messages = append(m.messages, &cp)
	msg.ID = cp.ID

	if len(m.messages) > m.globalCap {
		m.messages = m.messages[len(m.messages)-m.globalCap:]
	}
	m.trimSessionLocked(cp.SessionID)
	return nil
}

// trimSessionLocked enforces the per-session retention cap; caller holds the lock.
func (m *MemoryAdapter) trimSessionLocked(sessionID string) {
	count := 0
	for _, row := range m.messages {
		if row.SessionID == sessionID {
			count++
		}
	}
	if count <= m.perSessionCap {
		return
	}
	drop := count - m.perSessionCap
	out := make([]*models.ChatMessage, 0, len(m.messages))
	for _, row := range m.messages {
		if row.SessionID == sessionID && drop > 0 {
			drop--
			continue
		}
		out = append(out, row)
	}
	m.messages = out
}

func (m *MemoryAdapter) ListChatMessages(_ context.Context, sessionID string, limit int) ([]*models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]*models.ChatMessage, 0)
	for _, row := range m.messages {
		if row.SessionID == sessionID {
			cp := *row
			matched = append(matched, &cp)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (m *MemoryAdapter) ListSessions(_ context.Context, limit int) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySession := make(map[string]*models.SessionSummary)
	order := make([]string, 0)
	for _, row := range m.messages {
		s, ok := bySession[row.SessionID]
		if !ok {
			s = &models.SessionSummary{SessionID: row.SessionID}
			bySession[row.SessionID] = s
			order = append(order, row.SessionID)
		}
		s.Count++
		if row.CreatedAt.After(s.LastCreatedAt) {
			s.LastCreatedAt = row.CreatedAt
		}
	}
	out := make([]models.SessionSummary, 0, len(order))
	for _, sid := range order {
		out = append(out, *bySession[sid])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastCreatedAt.After(out[j].LastCreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryAdapter) AppendAudit(_ context.Context, event string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAudID++
	m.audit = append(m.audit, models.AuditEvent{ID: m.nextAudID, Event: event, Data: data, CreatedAt: now()})
	const auditCap = 5000
	if len(m.audit) > auditCap {
		m.audit = m.audit[len(m.audit)-auditCap:]
	}
	return nil
}

func (m *MemoryAdapter) ListAuditRecent(_ context.Context, limit int) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]models.AuditEvent, limit)
	copy(out, m.audit[len(m.audit)-limit:])
	return out, nil
}

func (m *MemoryAdapter) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MemoryAdapter) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MemoryAdapter) EncryptionStatus() EncryptionStatus {
	return EncryptionStatus{Encrypted: false, Mode: "none"}
}

func (m *MemoryAdapter) Close() error { return nil }
