package entity

import "time"

// DeadLetter is a result message the collector could not store.
type DeadLetter struct {
	TaskID   string    `json:"task_id,omitempty"`
	Queue    string    `json:"queue"`
	Body     string    `json:"body"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

type DeadLetterStats struct {
	Total         int64     `json:"total"`
	OldestFailure time.Time `json:"oldest_failure"`
	NewestFailure time.Time `json:"newest_failure"`
}
