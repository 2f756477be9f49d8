// Package presence tracks registered agents.
//
// Registry fronts the store with an in-memory cache. Writes go to the store
// first and reach the cache only after they succeed, so a store failure
// never leaves a cache-only agent behind. Reads that must be authoritative
// (Get on a miss, ListAll) go to the store and repopulate the cache.
// IsRegistered and ListActive are cache-only fast paths.
//
// Statuses are open labels. The core accepts any non-empty string; the
// recommended set lives in package coord.
package presence
