package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusStarted   = "STARTED"
	TaskStatusCompleted = "COMPLETED"
	TaskStatusFailed    = "FAILED"
)

// ExecutionLog is one row of the audit ledger: a single attempt of one stage
// on one resource. Rows are appended per attempt and updated in place to a
// terminal status; they are never deleted. TaskID is deterministic
// ("<stage>-<resourceID>") and at most one STARTED row may be open per
// TaskID at any time.
type ExecutionLog struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	TaskID       string     `db:"task_id"       json:"task_id"`
	TaskName     string     `db:"task_name"     json:"task_name"`
	ResourceID   *uuid.UUID `db:"resource_id"   json:"resource_id,omitempty"`
	Status       string     `db:"status"        json:"status"`
	LogOutput    string     `db:"log_output"    json:"log_output"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartTime    time.Time  `db:"start_time"    json:"start_time"`
	EndTime      *time.Time `db:"end_time"      json:"end_time,omitempty"`
}
