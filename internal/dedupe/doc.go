// Package dedupe suppresses duplicate file events. Editors and copy tools
// often produce several create notifications for one file; the watcher
// consults a Cache keyed by (agent, path) so each file is announced once per
// TTL window.
package dedupe
