// Package watch observes agent output directories.
//
// A Service holds one fsnotify watcher per agent. Watch replaces any earlier
// watch for the same agent, Unwatch cancels it. Files present before the
// watch starts are never reported.
//
// A newly created file is reported only after its size and modification
// time have held still for StabilityThreshold, so half-written artifacts are
// not announced. Repeated create events for the same path within DedupeTTL
// are dropped. Writes to files that have already settled are reported as
// KindModified, and watcher failures as KindError; consumers treat both as
// diagnostics.
package watch
