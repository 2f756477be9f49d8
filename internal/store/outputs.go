// ABOUTME: SQLite persistence for agent output records
// ABOUTME: Insert, latest-per-agent lookup and time-window listing

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InsertOutput stores an output record and assigns its ID and creation time.
func (s *SQLiteStore) InsertOutput(ctx context.Context, out *Output) error {
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	metadata := out.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling output metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO outputs (agent_id, file_path, metadata, created_at)
		VALUES (?, ?, ?, ?)
	`, out.AgentID, out.FilePath, string(metaJSON), formatTime(out.CreatedAt))
	if err != nil {
		return unavailable("inserting output", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return unavailable("reading output id", err)
	}
	out.ID = id
	out.Metadata = metadata
	return nil
}

// GetLatestOutput returns the newest output for agentID. Ties on creation
// time go to the higher id. Returns ErrNotFound if the agent has none.
func (s *SQLiteStore) GetLatestOutput(ctx context.Context, agentID string) (*Output, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, file_path, metadata, created_at
		FROM outputs
		WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, agentID)

	out, err := scanOutput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying latest output", err)
	}
	return out, nil
}

// ListOutputsSince returns outputs created strictly after since, newest first.
func (s *SQLiteStore) ListOutputsSince(ctx context.Context, since time.Time) ([]*Output, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, file_path, metadata, created_at
		FROM outputs
		WHERE created_at > ?
		ORDER BY created_at DESC, id DESC
	`, formatTime(since))
	if err != nil {
		return nil, unavailable("querying outputs", err)
	}
	defer func() { _ = rows.Close() }()

	var outputs []*Output
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, unavailable("scanning output", err)
		}
		outputs = append(outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating outputs", err)
	}
	return outputs, nil
}

func scanOutput(row rowScanner) (*Output, error) {
	var o Output
	var metaJSON, createdAt string
	if err := row.Scan(&o.ID, &o.AgentID, &o.FilePath, &metaJSON, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &o.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata for output %d: %w", o.ID, err)
	}
	if o.Metadata == nil {
		o.Metadata = map[string]any{}
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}
