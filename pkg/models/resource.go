package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResourceTypeArticle    = "article"
	ResourceTypeTranscript = "transcript"
	ResourceTypeNote       = "note"
)

const (
	ResourceStatusPending    = "pending"
	ResourceStatusProcessing = "processing"
	ResourceStatusCompleted  = "completed"
	ResourceStatusFailed     = "failed"
)

// Resource is one piece of content submitted for analysis. Ingestion writes
// the sanitized content; later stages only append to Metadata and Tags, never
// overwriting what an earlier stage wrote.
type Resource struct {
	ID               uuid.UUID      `db:"id"                json:"id"`
	BatchID          uuid.UUID      `db:"batch_id"          json:"batch_id"`
	UserID           string         `db:"user_id"           json:"user_id"`
	Title            string         `db:"title"             json:"title"`
	SourceURL        string         `db:"source_url"        json:"source_url,omitempty"`
	Type             string         `db:"type"              json:"type"`
	Content          string         `db:"content"           json:"content"`
	ProcessingStatus string         `db:"processing_status" json:"processing_status"`
	Metadata         map[string]any `db:"metadata"          json:"metadata"`
	Tags             []string       `db:"tags"              json:"tags"`
	CreatedAt        time.Time      `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"        json:"updated_at"`
}

// TranscriptSegment is one ordered caption segment of a transcript source.
type TranscriptSegment struct {
	Offset time.Duration `json:"offset"`
	Text   string        `json:"text"`
}
