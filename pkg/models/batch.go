package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// BatchJob tracks processing progress across all resources submitted together.
// Progress is a monotonic counter incremented once per resource that finishes
// the persistence stage; the batch flips to completed when progress reaches
// total_items. A failed batch is a trip-wire for operators; it is never
// resubmitted automatically.
type BatchJob struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	UserID     string    `db:"user_id"     json:"user_id"`
	Status     string    `db:"status"      json:"status"`
	TotalItems int       `db:"total_items" json:"total_items"`
	Progress   int       `db:"progress"    json:"progress"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
