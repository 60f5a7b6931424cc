package domain

import "time"

// SyncAction is what reconciliation did with one identifier
type SyncAction string

const (
	ActionCreated SyncAction = "Created"
	ActionUpdated SyncAction = "Updated"
	ActionDeleted SyncAction = "Deleted"
)

// SyncStats summarizes one storage reconciliation
type SyncStats struct {
	StorageUID int
	Created    int
	Updated    int
	Deleted    int
	Failed     int

	// Truncated is set when the remote listing ended early; the deletion
	// phase is skipped in that case.
	Truncated bool

	StartTime time.Time
	EndTime   time.Time
}

// Synchronized returns created plus updated.
func (s SyncStats) Synchronized() int {
	return s.Created + s.Updated
}

// Duration returns the wall time of the run
func (s SyncStats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
