package models

import "time"

// SyncStatus is the state of a queued session.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncQueueItem marks a session as awaiting replication. There is at most one
// item per session; a successful sync deletes it.
type SyncQueueItem struct {
	ID         string     `db:"id" json:"id"`
	SessionID  string     `db:"session_id" json:"sessionId"`
	Status     SyncStatus `db:"status" json:"status"`
	RetryCount int        `db:"retry_count" json:"retryCount"`
	LastError  string     `db:"last_error" json:"lastError,omitempty"`
	QueuedAt   time.Time  `db:"queued_at" json:"queuedAt"`
}

// QueueStats counts queue items by status.
type QueueStats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Total returns the number of queued items regardless of status.
func (s QueueStats) Total() int {
	return s.Pending + s.Failed
}
