// ABOUTME: Run lifecycle states and the mapping from backend status strings
// ABOUTME: completed, failed, cancelled and expired are terminal

package run

import "strings"

// Status is the local view of a run's lifecycle.
type Status string

const (
	Submitted      Status = "submitted"
	InProgress     Status = "in_progress"
	RequiresAction Status = "requires_action"
	Completed      Status = "completed"
	Failed         Status = "failed"
	Cancelled      Status = "cancelled"
	Expired        Status = "expired"
)

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	switch s {
	case Completed, Failed, Cancelled, Expired:
		return true
	}
	return false
}

// ParseStatus maps a backend status string onto Status. Backend states that
// are still moving (queued, cancelling) count as in progress, "incomplete"
// counts as failed, and anything unrecognised is treated as in progress so the
// poll deadline bounds it.
func ParseStatus(backend string) Status {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "queued", "in_progress", "cancelling":
		return InProgress
	case "requires_action":
		return RequiresAction
	case "completed":
		return Completed
	case "failed", "incomplete":
		return Failed
	case "cancelled":
		return Cancelled
	case "expired":
		return Expired
	default:
		return InProgress
	}
}
