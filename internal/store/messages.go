// ABOUTME: SQLite persistence for agent mailbox messages
// ABOUTME: Insert, unread listing in creation order, batch mark-read and age-based purge

package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// InsertMessage stores a message and assigns its ID and creation time.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (from_agent, to_agent, message_type, content, file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.FromAgentID, msg.ToAgentID, msg.Type, msg.Content, nullString(msg.FilePath), formatTime(msg.CreatedAt))
	if err != nil {
		return unavailable("inserting message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return unavailable("reading message id", err)
	}
	msg.ID = id
	return nil
}

// ListUnreadMessages returns unread messages for recipient, oldest first.
// The autoincrement id follows insertion order, so it is the sort key.
func (s *SQLiteStore) ListUnreadMessages(ctx context.Context, recipient string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_agent, to_agent, message_type, content, file_path, created_at, read_at
		FROM messages
		WHERE to_agent = ? AND read_at IS NULL
		ORDER BY id ASC
	`, recipient)
	if err != nil {
		return nil, unavailable("querying unread messages", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		var m Message
		var filePath, readAt sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.FromAgentID, &m.ToAgentID, &m.Type, &m.Content, &filePath, &createdAt, &readAt); err != nil {
			return nil, unavailable("scanning message", err)
		}
		m.FilePath = filePath.String
		m.CreatedAt = parseTime(createdAt)
		if readAt.Valid {
			t := parseTime(readAt.String)
			m.ReadAt = &t
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating messages", err)
	}
	return messages, nil
}

// MarkMessagesRead stamps read_at on every still-unread message in ids.
// Messages that are already read keep their original timestamp.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE read_at IS NULL AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, unavailable("marking messages read", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("checking rows affected", err)
	}
	return n, nil
}

// DeleteMessagesBefore removes every message created before cutoff, read or not.
func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, unavailable("deleting old messages", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("checking rows affected", err)
	}
	return n, nil
}
