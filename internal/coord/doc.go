// Package coord holds the vocabulary shared by the coordination packages:
// the error taxonomy and the recommended agent statuses.
//
// Errors are sentinels matched with errors.Is. Transports call Code to turn
// an error into a stable string such as "unknown_agent" or "output_timeout".
package coord
