package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/ratelimit"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates the bridge database.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent pollers. Transactions begin immediate so the
	// read-modify-write paths (TakeUnread, ConsumeApprovalToken,
	// TakeRateTokens) queue on the busy handler instead of failing the
	// deferred-to-write lock upgrade under contention.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		role_a TEXT NOT NULL,
		role_b TEXT NOT NULL,
		secret_a TEXT NOT NULL,
		secret_b TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_expires ON conversations(expires_at);

	CREATE TABLE IF NOT EXISTS session_status (
		conversation_id TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, side)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		from_side TEXT NOT NULL,
		to_side TEXT NOT NULL,
		body TEXT NOT NULL,
		category TEXT NOT NULL,
		files_json TEXT NOT NULL DEFAULT '[]',
		read INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, to_side, read);

	CREATE TABLE IF NOT EXISTS guard_states (
		conversation_id TEXT NOT NULL,
		side TEXT NOT NULL,
		stage TEXT NOT NULL,
		mode TEXT NOT NULL,
		workspace TEXT NOT NULL,
		timeout_secs INTEGER NOT NULL,
		sandbox INTEGER NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		stage_expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, side)
	);

	CREATE TABLE IF NOT EXISTS approval_tokens (
		value TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		side TEXT NOT NULL,
		issued_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0,
		consumed_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_expires ON approval_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS rate_buckets (
		session_key TEXT NOT NULL,
		window TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		tokens REAL NOT NULL,
		refilled_at INTEGER NOT NULL,
		PRIMARY KEY (session_key, window)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_log(conversation_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, role_a, role_b, secret_a, secret_b, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.RoleA, conv.RoleB, conv.SecretA, conv.SecretB,
		conv.CreatedAt.UnixNano(), conv.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, side := range []string{SideA, SideB} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_status (conversation_id, side, status, last_heartbeat)
			VALUES (?, ?, 'registered', ?)`,
			conv.ID, side, conv.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("seed session status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, role_a, role_b, secret_a, secret_b, created_at, expires_at
		FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.RoleA, &conv.RoleB, &conv.SecretA, &conv.SecretB, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, kkErrors.NotFound("conversation " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(0, createdAt)
	conv.ExpiresAt = time.Unix(0, expiresAt)
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role_a, role_b, secret_a, secret_b, created_at, expires_at
		FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var conv Conversation
		var createdAt, expiresAt int64
		if err := rows.Scan(&conv.ID, &conv.RoleA, &conv.RoleB, &conv.SecretA, &conv.SecretB, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.CreatedAt = time.Unix(0, createdAt)
		conv.ExpiresAt = time.Unix(0, expiresAt)
		out = append(out, &conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteExpiredConversations(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.UnixNano()
	for _, q := range []string{
		`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE expires_at < ?)`,
		`DELETE FROM session_status WHERE conversation_id IN (SELECT id FROM conversations WHERE expires_at < ?)`,
		`DELETE FROM guard_states WHERE conversation_id IN (SELECT id FROM conversations WHERE expires_at < ?)`,
		`DELETE FROM approval_tokens WHERE conversation_id IN (SELECT id FROM conversations WHERE expires_at < ?)`,
	} {
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, fmt.Errorf("cascade delete: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete conversations: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, m *Message) (int64, error) {
	files, err := json.Marshal(m.Files)
	if err != nil {
		return 0, fmt.Errorf("marshal files: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, from_side, to_side, body, category, files_json, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		m.ConversationID, m.From, m.To, m.Body, m.Category, string(files), m.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) InsertBroadcast(ctx context.Context, convID, body, category string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, side := range []string{SideA, SideB} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, from_side, to_side, body, category, files_json, read, created_at)
			VALUES (?, ?, ?, ?, ?, '[]', 0, ?)`,
			convID, SideSystem, side, body, category, now.UnixNano())
		if err != nil {
			return fmt.Errorf("insert broadcast message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit broadcast: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		var m Message
		var filesJSON string
		var read int
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.From, &m.To, &m.Body, &m.Category, &filesJSON, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &m.Files); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
		m.Read = read != 0
		m.CreatedAt = time.Unix(0, createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TakeUnread(ctx context.Context, convID, side string) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, conversation_id, from_side, to_side, body, category, files_json, read, created_at
		FROM messages
		WHERE conversation_id = ? AND to_side = ? AND read = 0
		ORDER BY created_at, id`, convID, side)
	if err != nil {
		return nil, fmt.Errorf("query unread: %w", err)
	}
	msgs, err := scanMessages(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE id = ?`, m.ID); err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		m.Read = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delivery: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, convID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, from_side, to_side, body, category, files_json, read, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at, id`, convID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) UpsertStatus(ctx context.Context, st *SessionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_status (conversation_id, side, status, last_heartbeat)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, side) DO UPDATE SET
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat`,
		st.ConversationID, st.Side, st.Status, st.LastHeartbeat.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchHeartbeat(ctx context.Context, convID, side string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_status SET last_heartbeat = ?
		WHERE conversation_id = ? AND side = ?`,
		now.UnixNano(), convID, side)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStatus(ctx context.Context, convID, side string) (*SessionStatus, error) {
	var st SessionStatus
	var heartbeat int64
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, side, status, last_heartbeat
		FROM session_status WHERE conversation_id = ? AND side = ?`, convID, side).
		Scan(&st.ConversationID, &st.Side, &st.Status, &heartbeat)
	if err == sql.ErrNoRows {
		return nil, kkErrors.NotFound("session status " + convID + "/" + side)
	}
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	st.LastHeartbeat = time.Unix(0, heartbeat)
	return &st, nil
}

func (s *SQLiteStore) PutGuardState(ctx context.Context, gs *GuardState) error {
	sandbox := 0
	if gs.Sandbox {
		sandbox = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guard_states (conversation_id, side, stage, mode, workspace, timeout_secs, sandbox, code, stage_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, side) DO UPDATE SET
			stage = excluded.stage,
			mode = excluded.mode,
			workspace = excluded.workspace,
			timeout_secs = excluded.timeout_secs,
			sandbox = excluded.sandbox,
			code = excluded.code,
			stage_expires_at = excluded.stage_expires_at,
			updated_at = excluded.updated_at`,
		gs.ConversationID, gs.Side, string(gs.Stage), string(gs.Mode), gs.Workspace,
		gs.TimeoutSecs, sandbox, gs.Code, gs.StageExpiresAt.UnixNano(), gs.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert guard state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetGuardState(ctx context.Context, convID, side string) (*GuardState, error) {
	var gs GuardState
	var stage, mode string
	var sandbox int
	var expires, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, side, stage, mode, workspace, timeout_secs, sandbox, code, stage_expires_at, updated_at
		FROM guard_states WHERE conversation_id = ? AND side = ?`, convID, side).
		Scan(&gs.ConversationID, &gs.Side, &stage, &mode, &gs.Workspace, &gs.TimeoutSecs, &sandbox, &gs.Code, &expires, &updated)
	if err == sql.ErrNoRows {
		return nil, kkErrors.NotFound("guard state " + convID + "/" + side)
	}
	if err != nil {
		return nil, fmt.Errorf("query guard state: %w", err)
	}
	gs.Stage = GuardStage(stage)
	gs.Mode = ExecMode(mode)
	gs.Sandbox = sandbox != 0
	gs.StageExpiresAt = time.Unix(0, expires)
	gs.UpdatedAt = time.Unix(0, updated)
	return &gs, nil
}

func (s *SQLiteStore) DeleteGuardState(ctx context.Context, convID, side string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guard_states WHERE conversation_id = ? AND side = ?`, convID, side)
	if err != nil {
		return fmt.Errorf("delete guard state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertApprovalToken(ctx context.Context, t *ApprovalToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_tokens (value, conversation_id, side, issued_at, expires_at, consumed, consumed_at)
		VALUES (?, ?, ?, ?, ?, 0, 0)`,
		t.Value, t.ConversationID, t.Side, t.IssuedAt.UnixNano(), t.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert approval token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ConsumeApprovalToken(ctx context.Context, value string, now time.Time) (*ApprovalToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var t ApprovalToken
	var consumed int
	var issuedAt, expiresAt, consumedAt int64
	err = tx.QueryRowContext(ctx, `
		SELECT value, conversation_id, side, issued_at, expires_at, consumed, consumed_at
		FROM approval_tokens WHERE value = ?`, value).
		Scan(&t.Value, &t.ConversationID, &t.Side, &issuedAt, &expiresAt, &consumed, &consumedAt)
	if err == sql.ErrNoRows {
		// Unknown tokens get the same rejection as out-of-sequence use so a
		// probe cannot distinguish "never issued" from "wrong stage".
		return nil, kkErrors.GuardState("unknown approval token")
	}
	if err != nil {
		return nil, fmt.Errorf("query approval token: %w", err)
	}
	t.IssuedAt = time.Unix(0, issuedAt)
	t.ExpiresAt = time.Unix(0, expiresAt)
	t.Consumed = consumed != 0
	if consumedAt != 0 {
		t.ConsumedAt = time.Unix(0, consumedAt)
	}

	if t.Consumed {
		return nil, fmt.Errorf("token consumed at %s: %w", t.ConsumedAt.Format(time.RFC3339), kkErrors.ErrTokenAlreadyUsed)
	}
	if now.After(t.ExpiresAt) {
		return nil, fmt.Errorf("token expired at %s: %w", t.ExpiresAt.Format(time.RFC3339), kkErrors.ErrTokenExpired)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE approval_tokens SET consumed = 1, consumed_at = ? WHERE value = ?`,
		now.UnixNano(), value); err != nil {
		return nil, fmt.Errorf("consume approval token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit token consumption: %w", err)
	}
	t.Consumed = true
	t.ConsumedAt = now
	return &t, nil
}

func (s *SQLiteStore) ListActiveTokens(ctx context.Context, now time.Time) ([]*ApprovalToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, conversation_id, side, issued_at, expires_at, consumed, consumed_at
		FROM approval_tokens WHERE consumed = 0 AND expires_at >= ?
		ORDER BY issued_at`, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query active tokens: %w", err)
	}
	defer rows.Close()

	var out []*ApprovalToken
	for rows.Next() {
		var t ApprovalToken
		var consumed int
		var issuedAt, expiresAt, consumedAt int64
		if err := rows.Scan(&t.Value, &t.ConversationID, &t.Side, &issuedAt, &expiresAt, &consumed, &consumedAt); err != nil {
			return nil, fmt.Errorf("scan approval token: %w", err)
		}
		t.IssuedAt = time.Unix(0, issuedAt)
		t.ExpiresAt = time.Unix(0, expiresAt)
		t.Consumed = consumed != 0
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM approval_tokens WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) TakeRateTokens(ctx context.Context, sessionKey string, now time.Time, windows []ratelimit.Window) (*ratelimit.Denial, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	buckets := make([]*ratelimit.Bucket, 0, len(windows))
	for _, w := range windows {
		var b ratelimit.Bucket
		var refilledAt int64
		err := tx.QueryRowContext(ctx, `
			SELECT window, capacity, tokens, refilled_at
			FROM rate_buckets WHERE session_key = ? AND window = ?`, sessionKey, w.Name).
			Scan(&b.Window, &b.Capacity, &b.Tokens, &refilledAt)
		switch {
		case err == sql.ErrNoRows:
			buckets = append(buckets, ratelimit.NewBucket(w, now))
		case err != nil:
			return nil, fmt.Errorf("query rate bucket: %w", err)
		default:
			b.RefilledAt = time.Unix(0, refilledAt)
			buckets = append(buckets, &b)
		}
	}

	denial := ratelimit.Admit(buckets, windows, now)

	for _, b := range buckets {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_buckets (session_key, window, capacity, tokens, refilled_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_key, window) DO UPDATE SET
				capacity = excluded.capacity,
				tokens = excluded.tokens,
				refilled_at = excluded.refilled_at`,
			sessionKey, b.Window, b.Capacity, b.Tokens, b.RefilledAt.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("upsert rate bucket: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rate check: %w", err)
	}
	return denial, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) (int64, error) {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return 0, fmt.Errorf("marshal audit detail: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (conversation_id, side, action, outcome, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.Side, e.Action, e.Outcome, string(detail), e.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit sequence: %w", err)
	}
	e.Seq = seq
	return seq, nil
}

func (s *SQLiteStore) TailAudit(ctx context.Context, convID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT seq, conversation_id, side, action, outcome, detail_json, created_at
		FROM audit_log`
	args := []any{}
	if convID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, convID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var detailJSON string
		var createdAt int64
		if err := rows.Scan(&e.Seq, &e.ConversationID, &e.Side, &e.Action, &e.Outcome, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(detailJSON), &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal audit detail: %w", err)
		}
		e.CreatedAt = time.Unix(0, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
