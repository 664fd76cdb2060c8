// Package journal implements the Session Journal: durable per-session chat
// history backing conversational context, plus ephemeral session notes
// extracted without model calls.
package journal

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"context"

	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/storage"
)

const (
	defaultSessionID  = "default"
	sessionIDMaxBytes = 80
	notesCap          = 50
	notesEvictBatch   = 10
)

var sessionIDAllowed = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeSessionID maps arbitrary input onto [A-Za-z0-9_.-]{1,80}, mapping
// empty/whitespace input to "default". Idempotent and surjective onto that
// charset
func SanitizeSessionID(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return defaultSessionID
	}
	cleaned := sessionIDAllowed.ReplaceAllString(trimmed, "_")
	if len(cleaned) > sessionIDMaxBytes {
		cleaned = cleaned[:sessionIDMaxBytes]
	}
	if cleaned == "" {
		return defaultSessionID
	}
	return cleaned
}

// Journal owns the session-notes map exclusively; chat rows flow through
// the shared Storage Adapter.
type Journal struct {
	store storage.Adapter

	mu        sync.Mutex
	notes     map[string]map[string]string
	notesSeen []string // FIFO order of session ids with at least one note
}

// New constructs a Journal backed by store.
func New(store storage.Adapter) *Journal {
	return &Journal{
		store: store,
		notes: make(map[string]map[string]string),
	}
}

// Append sanitises session_id and writes one immutable chat row.
func (j *Journal) Append(ctx context.Context, sessionID string, role models.ChatRole, text string, meta map[string]any) (*models.ChatMessage, error) {
	sid := SanitizeSessionID(sessionID)
	m := &models.ChatMessage{
		SessionID: sid,
		Role:      role,
		Text:      text,
		Meta:      meta,
		CreatedAt: time.Now(),
	}
	if err := j.store.AppendChatMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the tail of the default session.
func (j *Journal) List(ctx context.Context, limit int) ([]*models.ChatMessage, error) {
	return j.ListForSession(ctx, defaultSessionID, limit)
}

// ListForSession returns up to the last limit rows for sid in ascending
// time order.
func (j *Journal) ListForSession(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error) {
	return j.store.ListChatMessages(ctx, SanitizeSessionID(sessionID), limit)
}

// ListSessions returns (session_id, count, last_created_at) summaries.
func (j *Journal) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	return j.store.ListSessions(ctx, limit)
}

// noteExtractors pairs a compiled pattern with the note key it populates and
// a length cap for the captured value
type noteExtractor struct {
	pattern *regexp.Regexp
	key     string
	maxLen  int
}

var noteExtractors = []noteExtractor{
	{regexp.MustCompile(`(?i)my favorite colou?r is\s+([^\n.,!?]{1,80})`), "favorite_color", 40},
	{regexp.MustCompile(`(?i)my name is\s+([^\n.,!?]{1,160})`), "name", 80},
	// Japanese: "好きな色は X" (favourite colour is X).
	{regexp.MustCompile(`好きな色は\s*([^\n。、！？]{1,80})`), "favorite_color", 40},
	// Japanese: "私の名前は X" / "名前はXです" (my name is X).
	{regexp.MustCompile(`(?:私の)?名前は\s*([^\n。、です！？]{1,160})`), "name", 80},
}

// UpdateNotes runs the deterministic extraction rules against text and
// merges any matches into the session's notes, returning the changed subset.
func (j *Journal) UpdateNotes(sessionID, text string) map[string]string {
	sid := SanitizeSessionID(sessionID)
	changed := make(map[string]string)

	for _, ext := range noteExtractors {
		m := ext.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		if len(value) > ext.maxLen {
			value = value[:ext.maxLen]
		}
		changed[ext.key] = value
	}
	if len(changed) == 0 {
		return changed
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.notes[sid]; !exists {
		j.evictIfNeededLocked()
		j.notes[sid] = make(map[string]string)
		j.notesSeen = append(j.notesSeen, sid)
	}
	for k, v := range changed {
		j.notes[sid][k] = v
	}
	return changed
}

// evictIfNeededLocked drops the oldest 10 sessions' notes once the active
// count exceeds 50; caller holds the lock.
func (j *Journal) evictIfNeededLocked() {
	if len(j.notesSeen) < notesCap {
		return
	}
	drop := notesEvictBatch
	if drop > len(j.notesSeen) {
		drop = len(j.notesSeen)
	}
	for _, sid := range j.notesSeen[:drop] {
		delete(j.notes, sid)
	}
	j.notesSeen = j.notesSeen[drop:]
}

// Notes returns a copy of a session's current notes map.
func (j *Journal) Notes(sessionID string) map[string]string {
	sid := SanitizeSessionID(sessionID)
	j.mu.Lock()
	defer j.mu.Unlock()
	src := j.notes[sid]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
