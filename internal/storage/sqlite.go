package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/methings/brainctl/internal/models"
)

// SQLiteAdapter is the durable Storage Adapter backing, driven through
// database/sql + the mattn/go-sqlite3 CGO driver.
type SQLiteAdapter struct {
	db        *sql.DB
	encrypted bool
}

const schema = `
CREATE TABLE IF NOT EXISTS permissions (
	id TEXT PRIMARY KEY,
	tool TEXT NOT NULL,
	capability TEXT,
	detail TEXT,
	scope TEXT NOT NULL,
	status TEXT NOT NULL,
	identity TEXT,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS credentials (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event TEXT NOT NULL,
	data TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT,
	meta TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, id);
`

// OpenSQLite opens (creating if needed) a SQLite-backed adapter at path.
// An optional SQLCIPHER_KEY_FILE environment variable is reported (but not
// interpreted) via EncryptionStatus, matching the environment
// variable list; actual encryption is delegated to the driver/peer.
func OpenSQLite(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	_, keyed := os.LookupEnv("SQLCIPHER_KEY_FILE")
	return &SQLiteAdapter{db: db, encrypted: keyed}, nil
}

func (a *SQLiteAdapter) CreatePermission(ctx context.Context, g *models.Grant) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO permissions (id, tool, capability, detail, scope, status, identity, created_at, expires_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Tool, g.Capability, g.Detail, g.Scope, g.Status, g.Identity, g.CreatedAt, nullableTime(g.ExpiresAt))
	return err
}

func (a *SQLiteAdapter) UpdatePermission(ctx context.Context, g *models.Grant) error {
	res, err := a.db.ExecContext(ctx, `UPDATE permissions SET tool=?, capability=?, detail=?, scope=?, status=?, identity=?, expires_at=? WHERE id=?`,
		g.Tool, g.Capability, g.Detail, g.Scope, g.Status, g.Identity, nullableTime(g.ExpiresAt), g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *SQLiteAdapter) GetPermission(ctx context.Context, id string) (*models.Grant, error) {
	row := a.db.QueryRowContext(ctx, `SELECT id, tool, capability, detail, scope, status, identity, created_at, expires_at FROM permissions WHERE id=?`, id)
	return scanGrant(row)
}

func (a *SQLiteAdapter) ListPendingPermissions(ctx context.Context) ([]*models.Grant, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, tool, capability, detail, scope, status, identity, created_at, expires_at FROM permissions WHERE status='pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Grant, 0)
	for rows.Next() {
		g, err := scanGrantRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*models.Grant, error) {
	g, err := scanGrantRows(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return g, err
}

func scanGrantRows(row rowScanner) (*models.Grant, error) {
	var g models.Grant
	var capability, detail, identity sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(&g.ID, &g.Tool, &capability, &detail, &g.Scope, &g.Status, &identity, &g.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	g.Capability = capability.String
	g.Detail = detail.String
	g.Identity = identity.String
	if expiresAt.Valid {
		t := expiresAt.Time
		g.ExpiresAt = &t
	}
	return &g, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (a *SQLiteAdapter) SetCredential(ctx context.Context, name, value string) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO credentials (name, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, name, value, time.Now())
	return err
}

func (a *SQLiteAdapter) GetCredential(ctx context.Context, name string) (*models.Credential, error) {
	row := a.db.QueryRowContext(ctx, `SELECT name, value, updated_at FROM credentials WHERE name=?`, name)
	var c models.Credential
	if err := row.Scan(&c.Name, &c.Value, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (a *SQLiteAdapter) DeleteCredential(ctx context.Context, name string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM credentials WHERE name=?`, name)
	return err
}

func (a *SQLiteAdapter) AppendChatMessage(ctx context.Context, m *models.ChatMessage) error {
	metaJSON, err := json.Marshal(m.Meta)
	if err != nil {
		return err
	}
	res, err := a.db.ExecContext(ctx, `INSERT INTO chat_messages (session_id, role, text, meta, created_at) VALUES (?,?,?,?,?)`,
		m.SessionID, m.Role, m.Text, string(metaJSON), m.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	return a.trimRetention(ctx, m.SessionID)
}

// trimRetention enforces the per-session (400) and global (4000) row caps
// described in the persisted-state table.
func (a *SQLiteAdapter) trimRetention(ctx context.Context, sessionID string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id=? AND id NOT IN (
		SELECT id FROM chat_messages WHERE session_id=? ORDER BY id DESC LIMIT 400)`, sessionID, sessionID); err != nil {
		return err
	}
	_, err := a.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id NOT IN (
		SELECT id FROM chat_messages ORDER BY id DESC LIMIT 4000)`)
	return err
}

func (a *SQLiteAdapter) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 400
	}
	rows, err := a.db.QueryContext(ctx, `SELECT id, session_id, role, text, meta, created_at FROM
		(SELECT id, session_id, role, text, meta, created_at FROM chat_messages WHERE session_id=? ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.ChatMessage, 0)
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanChatMessage(rows *sql.Rows) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var metaJSON sql.NullString
	if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &metaJSON, &m.CreatedAt); err != nil {
		return nil, err
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &m.Meta)
	}
	return &m, nil
}

func (a *SQLiteAdapter) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `SELECT session_id, COUNT(*), MAX(created_at) FROM chat_messages
		GROUP BY session_id ORDER BY MAX(created_at) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.SessionSummary, 0)
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.SessionID, &s.Count, &s.LastCreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (a *SQLiteAdapter) AppendAudit(ctx context.Context, event string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `INSERT INTO audit_log (event, data, created_at) VALUES (?,?,?)`, event, string(payload), time.Now())
	return err
}

func (a *SQLiteAdapter) ListAuditRecent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `SELECT id, event, data, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AuditEvent, 0)
	for rows.Next() {
		var e models.AuditEvent
		var dataJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Event, &dataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if dataJSON.Valid && dataJSON.String != "" && dataJSON.String != "null" {
			_ = json.Unmarshal([]byte(dataJSON.String), &e.Data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *SQLiteAdapter) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := a.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (a *SQLiteAdapter) SetSetting(ctx context.Context, key, value string) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, time.Now())
	return err
}

func (a *SQLiteAdapter) EncryptionStatus() EncryptionStatus {
	if a.encrypted {
		return EncryptionStatus{Encrypted: true, Mode: "sqlcipher"}
	}
	return EncryptionStatus{Encrypted: false, Mode: "none"}
}

func (a *SQLiteAdapter) Close() error { return a.db.Close() }
