// Package store provides persistent storage for guardian using SQLite.
//
// # Architecture
//
// Store is the narrow interface the coordination layer depends on. Two
// implementations exist:
//
//   - SQLiteStore: the production store, backed by modernc.org/sqlite by
//     default or by github.com/mattn/go-sqlite3 when the "sqlite3" driver is
//     configured
//   - MockStore: an in-memory store for unit tests, with failure injection
//
// # Data Models
//
//   - Agent: a registered worker with workspace, capabilities and status
//   - Message: a mailbox entry; ReadAt is set once and never cleared
//   - Output: an artifact announced by an agent, with free-form metadata
//
// # Schema
//
// Tables are created on open and missing columns are added by lightweight
// migrations that inspect pragma_table_info:
//
//	agents   (id PK, workspace_path, capabilities JSON, status, details, created_at, updated_at)
//	messages (id AUTOINCREMENT, from_agent, to_agent, message_type, content, file_path, created_at, read_at)
//	outputs  (id AUTOINCREMENT, agent_id, file_path, metadata JSON, created_at)
//
// Timestamps are stored as fixed-width UTC text so SQL ordering matches
// chronological ordering.
//
// # Errors
//
// ErrNotFound is returned for missing rows, including status updates that
// affect zero rows. Every database failure wraps ErrUnavailable:
//
//	if errors.Is(err, store.ErrUnavailable) {
//	    // safe to retry later
//	}
//
// # Usage
//
//	s, err := store.Open(store.DriverModernc, "/var/lib/guardian/guardian.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
package store
