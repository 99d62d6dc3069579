package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentSummary is the final synthesized report for one resource, created
// exactly once by the persistence stage.
type ContentSummary struct {
	ID                uuid.UUID      `db:"id"                  json:"id"`
	ResourceID        uuid.UUID      `db:"resource_id"         json:"resource_id"`
	ExecutiveSummary  string         `db:"executive_summary"   json:"executive_summary"`
	KeyInsights       string         `db:"key_insights"        json:"key_insights"`
	CriticalWarnings  string         `db:"critical_warnings"   json:"critical_warnings"`
	ImmediateActions  string         `db:"immediate_actions"   json:"immediate_actions"`
	KeyMetrics        map[string]any `db:"key_metrics"         json:"key_metrics"`
	ToolsResources    map[string]any `db:"tools_resources"     json:"tools_resources"`
	PeopleCompanies   []string       `db:"people_companies"    json:"people_companies"`
	PrimaryKeywords   []string       `db:"primary_keywords"    json:"primary_keywords"`
	SemanticTags      []string       `db:"semantic_tags"       json:"semantic_tags"`
	QuestionBasedTags []string       `db:"question_based_tags" json:"question_based_tags"`
	Disclaimer        string         `db:"disclaimer"          json:"disclaimer"`
	TotalChunks       int            `db:"total_chunks"        json:"total_chunks"`
	EmbeddingModel    string         `db:"embedding_model"     json:"embedding_model"`
	CreatedAt         time.Time      `db:"created_at"          json:"created_at"`
}

// VectorChunk is one embedded slice of a summary, the unit searched by the
// internal coherence stage. Namespace partitions the search space per user.
type VectorChunk struct {
	ID              uuid.UUID `db:"id"               json:"id"`
	ResourceID      uuid.UUID `db:"resource_id"      json:"resource_id"`
	SummaryID       uuid.UUID `db:"summary_id"       json:"summary_id"`
	ChunkIndex      int       `db:"chunk_index"      json:"chunk_index"`
	ChunkType       string    `db:"chunk_type"       json:"chunk_type"`
	Content         string    `db:"content"          json:"content"`
	Embedding       []float32 `db:"embedding"        json:"-"`
	VectorDimension int       `db:"vector_dimension" json:"vector_dimension"`
	Namespace       string    `db:"namespace"        json:"namespace"`
	EmbeddingModel  string    `db:"embedding_model"  json:"embedding_model"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}

// SimilarChunk is one vector-search hit, ordered by descending similarity.
type SimilarChunk struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Content    string    `json:"content"`
	Title      string    `json:"title"`
	Similarity float64   `json:"similarity"`
}
