// ABOUTME: Recommended agent status labels
// ABOUTME: Statuses stay open strings; this set is only consulted at transport boundaries

package coord

// Recommended statuses. Any other string is accepted by the core.
const (
	StatusActive   = "active"
	StatusBusy     = "busy"
	StatusWaiting  = "waiting"
	StatusComplete = "complete"
	StatusError    = "error"
)

// KnownStatuses lists the recommended statuses in display order.
var KnownStatuses = []string{StatusActive, StatusBusy, StatusWaiting, StatusComplete, StatusError}

// KnownStatus reports whether s is one of the recommended statuses.
func KnownStatus(s string) bool {
	for _, k := range KnownStatuses {
		if s == k {
			return true
		}
	}
	return false
}

// Live reports whether s counts as an active agent for ListActive.
func Live(s string) bool {
	return s == StatusActive || s == StatusBusy
}
