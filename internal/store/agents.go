// ABOUTME: SQLite persistence for registered agents
// ABOUTME: Upsert on registration, status updates with zero-row detection, listing newest first

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertAgent inserts or replaces an agent row. A re-registration counts as a
// fresh registration: status resets to active, details are cleared and the
// registration time moves to now.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	capabilities := agent.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	capsJSON, err := json.Marshal(capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, workspace_path, capabilities, status, details, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workspace_path = excluded.workspace_path,
			capabilities = excluded.capabilities,
			status = excluded.status,
			details = NULL,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, agent.ID, agent.WorkspacePath, string(capsJSON), StatusActive, formatTime(now), formatTime(now))
	if err != nil {
		return unavailable("upserting agent", err)
	}

	agent.Capabilities = capabilities
	agent.Status = StatusActive
	agent.Details = ""
	agent.RegisteredAt = now
	agent.UpdatedAt = now
	return nil
}

// UpdateAgentStatus sets status and details. Returns ErrNotFound if no row matched.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, id, status, details string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, details = ?, updated_at = ? WHERE id = ?
	`, status, nullString(details), formatTime(time.Now()), id)
	if err != nil {
		return unavailable("updating agent status", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return unavailable("checking rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns ErrNotFound if missing.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_path, capabilities, status, details, created_at, updated_at
		FROM agents WHERE id = ?
	`, id)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying agent", err)
	}
	return agent, nil
}

// ListAgents returns all agents, newest-registered first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_path, capabilities, status, details, created_at, updated_at
		FROM agents ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, unavailable("querying agents", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, unavailable("scanning agent", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating agents", err)
	}
	return agents, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var capsJSON string
	var details sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&a.ID, &a.WorkspacePath, &capsJSON, &a.Status, &details, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(capsJSON), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities for %s: %w", a.ID, err)
	}
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
	a.Details = details.String
	a.RegisteredAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
