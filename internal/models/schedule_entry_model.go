package models

import (
	"database/sql"
	"time"
)

// ScheduleEntry is one durable queue row awaiting future delivery of a
// single PostDetail. Rows are never deleted; they transition to done or
// failed and stay as history. At most one worker holds a processing
// lock on an entry at any time.
type ScheduleEntry struct {
	ID           int64          `db:"id" json:"id"`
	PostDetailID int64          `db:"post_detail_id" json:"post_detail_id"`
	RunAt        time.Time      `db:"run_at" json:"run_at"`
	Status       string         `db:"status" json:"status"`
	LockedAt     sql.NullTime   `db:"locked_at" json:"locked_at"`
	WorkerID     sql.NullString `db:"worker_id" json:"worker_id"`
	Attempts     int            `db:"attempts" json:"attempts"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

const (
	EntryStatusPending    = "pending"
	EntryStatusProcessing = "processing"
	EntryStatusDone       = "done"
	EntryStatusFailed     = "failed"
)
