package models

import "time"

// SyncStatus is the observable engine state exposed to the UI layer.
type SyncStatus struct {
	Syncing    bool       `json:"syncing"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// CycleResult classifies a finished sync cycle.
type CycleResult string

const (
	// CycleSuccess: every pending action flushed and the pull merged.
	CycleSuccess CycleResult = "success"
	// CyclePartial: the cycle completed but some actions failed terminally.
	CyclePartial CycleResult = "partial"
	// CycleFailed: the cycle aborted before completing pull and merge.
	CycleFailed CycleResult = "failed"
)

// CycleStats summarizes one sync cycle for events and logs.
type CycleStats struct {
	Result    CycleResult   `json:"result"`
	Flushed   int           `json:"flushed"`
	Failed    int           `json:"failed"`
	Retried   int           `json:"retried"`
	Pulled    int           `json:"pulled"`
	Conflicts int           `json:"conflicts"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
