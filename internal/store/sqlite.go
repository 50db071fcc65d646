// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                 TEXT PRIMARY KEY,
			title              TEXT NOT NULL,
			summary            TEXT NOT NULL DEFAULT '',
			last_summarized_id TEXT,
			last_activity_at   TEXT NOT NULL,
			created_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			agent_id        TEXT NOT NULL,
			position        INTEGER NOT NULL,

			PRIMARY KEY (conversation_id, agent_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE TABLE IF NOT EXISTS agent_sessions (
			conversation_id TEXT NOT NULL,
			agent_id        TEXT NOT NULL,
			session_token   TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			PRIMARY KEY (conversation_id, agent_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			author           TEXT NOT NULL,
			author_kind      TEXT NOT NULL,
			content          TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			parent_id        TEXT,
			unread           INTEGER NOT NULL DEFAULT 0,
			deleted          INTEGER NOT NULL DEFAULT 0,
			pinned           INTEGER NOT NULL DEFAULT 0,
			attachments_json TEXT,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (author_kind IN ('human', 'agent', 'system', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_unread
			ON messages(conversation_id, unread);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_pinned
			ON messages(conversation_id, pinned);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation creates a new conversation with its participant rows.
// Returns ErrDuplicateConversation if the ID is already taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, summary, last_summarized_id, last_activity_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.Title,
		conv.Summary,
		nullable(conv.LastSummarizedID),
		conv.LastActivityAt.UTC().Format(time.RFC3339Nano),
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, agentID := range conv.Participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, agent_id, position)
			VALUES (?, ?, ?)
		`, conv.ID, agentID, i)
		if err != nil {
			return fmt.Errorf("inserting participant %s: %w", agentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", len(conv.Participants))
	return nil
}

// GetConversation retrieves a conversation by ID, including its ordered
// participants and the per-agent session map.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	var lastSummarized sql.NullString
	var lastActivityStr, createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, summary, last_summarized_id, last_activity_at, created_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(
		&conv.ID,
		&conv.Title,
		&conv.Summary,
		&lastSummarized,
		&lastActivityStr,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.LastSummarizedID = lastSummarized.String
	conv.LastActivityAt, err = time.Parse(time.RFC3339Nano, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		conv.Participants = append(conv.Participants, agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participants: %w", err)
	}

	conv.Sessions = make(map[string]string)
	sessRows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, session_token FROM agent_sessions
		WHERE conversation_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying agent sessions: %w", err)
	}
	defer sessRows.Close()

	for sessRows.Next() {
		var agentID, token string
		if err := sessRows.Scan(&agentID, &token); err != nil {
			return nil, fmt.Errorf("scanning agent session: %w", err)
		}
		conv.Sessions[agentID] = token
	}
	if err := sessRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent sessions: %w", err)
	}

	return &conv, nil
}

// ListConversations returns conversation previews ordered by most recent
// activity: title, latest visible message snippet, and unread count.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*ConversationPreview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.last_activity_at,
			COALESCE((
				SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id AND m.deleted = 0
				ORDER BY m.rowid DESC LIMIT 1
			), ''),
			(
				SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.unread = 1 AND m.deleted = 0
			)
		FROM conversations c
		ORDER BY c.last_activity_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var previews []*ConversationPreview
	for rows.Next() {
		var p ConversationPreview
		var lastActivityStr string
		if err := rows.Scan(&p.ID, &p.Title, &lastActivityStr, &p.Preview, &p.UnreadCount); err != nil {
			return nil, fmt.Errorf("scanning conversation preview: %w", err)
		}
		p.LastActivityAt, err = time.Parse(time.RFC3339Nano, lastActivityStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_activity_at: %w", err)
		}
		previews = append(previews, &p)
	}
	return previews, rows.Err()
}

// UpdateTitle sets a conversation's title.
func (s *SQLiteStore) UpdateTitle(ctx context.Context, id, title string) error {
	return s.updateConversationField(ctx, id, "UPDATE conversations SET title = ? WHERE id = ?", title)
}

// UpdateSummary sets the rolling summary and the last-summarized message pointer.
func (s *SQLiteStore) UpdateSummary(ctx context.Context, id, summary, lastMessageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET summary = ?, last_summarized_id = ? WHERE id = ?
	`, summary, nullable(lastMessageID), id)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}
	return checkAffected(res)
}

// TouchLastActivity bumps the conversation's last-activity timestamp.
func (s *SQLiteStore) TouchLastActivity(ctx context.Context, id string, at time.Time) error {
	return s.updateConversationField(ctx, id,
		"UPDATE conversations SET last_activity_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano))
}

func (s *SQLiteStore) updateConversationField(ctx context.Context, id, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	return checkAffected(res)
}

// UpdateAgentSession upserts the session token for one (conversation, agent)
// pair. Returns ErrNotParticipant if the agent is not in the conversation's
// participant list - session-map keys must stay a subset of participants.
func (s *SQLiteStore) UpdateAgentSession(ctx context.Context, conversationID, agentID, token string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants
		WHERE conversation_id = ? AND agent_id = ?
	`, conversationID, agentID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotParticipant
	}
	if err != nil {
		return fmt.Errorf("checking participant: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (conversation_id, agent_id, session_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, agent_id)
		DO UPDATE SET session_token = excluded.session_token, updated_at = excluded.updated_at
	`, conversationID, agentID, token, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting agent session: %w", err)
	}

	s.logger.Debug("agent session updated", "conversation_id", conversationID, "agent_id", agentID)
	return nil
}

// InsertMessage stores a new message row.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) error {
	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, author, author_kind, content,
			created_at, parent_id, unread, deleted, pinned, attachments_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.Author,
		string(msg.Kind),
		msg.Content,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullable(msg.ParentID),
		boolToInt(msg.Unread),
		boolToInt(msg.Deleted),
		boolToInt(msg.Pinned),
		attachments,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID, including soft-deleted ones.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+" WHERE id = ?", id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns up to limit visible messages for a conversation in
// oldest-first order. Soft-deleted messages are excluded: they stay in the
// table but never in a replay window.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE conversation_id = ? AND deleted = 0
		ORDER BY rowid DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse newest-first into oldest-first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UpdateMessageContent replaces a message's content by ID.
// Returns ErrNotFound if no such message exists.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET content = ? WHERE id = ?", content, id)
	if err != nil {
		return fmt.Errorf("updating message content: %w", err)
	}
	return checkAffected(res)
}

// SearchMessages returns visible messages whose content matches the query
// substring, newest first.
func (s *SQLiteStore) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE conversation_id = ? AND deleted = 0 AND content LIKE '%' || ? || '%'
		ORDER BY rowid DESC
		LIMIT ?
	`, conversationID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkConversationRead clears the unread flag on every message in a conversation.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET unread = 0 WHERE conversation_id = ? AND unread = 1",
		conversationID)
	if err != nil {
		return fmt.Errorf("marking conversation read: %w", err)
	}
	return nil
}

// UnreadCount returns the number of unread, visible messages in a conversation.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND unread = 1 AND deleted = 0",
		conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}

// PinMessage pins a message. Returns ErrPinLimit once the conversation has
// MaxPinnedPerConversation pinned messages, ErrNotFound for unknown IDs.
func (s *SQLiteStore) PinMessage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var conversationID string
	var pinned int
	err = tx.QueryRowContext(ctx,
		"SELECT conversation_id, pinned FROM messages WHERE id = ?", id).
		Scan(&conversationID, &pinned)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying message: %w", err)
	}
	if pinned == 1 {
		return nil // already pinned
	}

	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND pinned = 1",
		conversationID).Scan(&count)
	if err != nil {
		return fmt.Errorf("counting pinned: %w", err)
	}
	if count >= MaxPinnedPerConversation {
		return ErrPinLimit
	}

	if _, err := tx.ExecContext(ctx, "UPDATE messages SET pinned = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("pinning message: %w", err)
	}
	return tx.Commit()
}

// UnpinMessage clears a message's pinned flag.
func (s *SQLiteStore) UnpinMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET pinned = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("unpinning message: %w", err)
	}
	return checkAffected(res)
}

// PinnedMessages returns the pinned, visible messages of a conversation,
// oldest first.
func (s *SQLiteStore) PinnedMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE conversation_id = ? AND pinned = 1 AND deleted = 0
		ORDER BY rowid
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying pinned messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SoftDeleteMessage hides a message from display. The row is retained for
// context reconstruction; there is no hard delete.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET deleted = 1, pinned = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("soft-deleting message: %w", err)
	}
	return checkAffected(res)
}

const messageSelect = `
	SELECT id, conversation_id, author, author_kind, content, created_at,
		parent_id, unread, deleted, pinned, attachments_json
	FROM messages
`

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var kind, createdAtStr string
	var parentID, attachmentsJSON sql.NullString
	var unread, deleted, pinned int

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Author,
		&kind,
		&msg.Content,
		&createdAtStr,
		&parentID,
		&unread,
		&deleted,
		&pinned,
		&attachmentsJSON,
	)
	if err != nil {
		return nil, err
	}

	msg.Kind = AuthorKind(kind)
	msg.ParentID = parentID.String
	msg.Unread = unread == 1
	msg.Deleted = deleted == 1
	msg.Pinned = pinned == 1

	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if attachmentsJSON.Valid && attachmentsJSON.String != "" {
		if err := json.Unmarshal([]byte(attachmentsJSON.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("parsing attachments: %w", err)
		}
	}

	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func marshalAttachments(refs []string) (sql.NullString, error) {
	if len(refs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding attachments: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
