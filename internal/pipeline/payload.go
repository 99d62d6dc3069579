package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kmathur/briefly/pkg/models"
)

// Stage names, in execution order. These double as queue job names and the
// prefix of the deterministic task ID ("<stage>-<resourceID>").
const (
	StageIngestion         = "ingestion"
	StageDefensiveAnalysis = "defensiveAnalysis"
	StageInternalCoherence = "internalCoherence"
	StageSynthesis         = "synthesisOpinion"
	StagePersistence       = "persistence"
)

// Stages lists the pipeline in order. Adding or reordering a stage is a
// change here plus a dispatch entry, not code scattered across handlers.
var Stages = []string{
	StageIngestion,
	StageDefensiveAnalysis,
	StageInternalCoherence,
	StageSynthesis,
	StagePersistence,
}

// Human-readable task names recorded in the execution log.
var stageTaskNames = map[string]string{
	StageIngestion:         "Ingestion Agent",
	StageDefensiveAnalysis: "Defensive Analysis Agent",
	StageInternalCoherence: "Internal Coherence Agent",
	StageSynthesis:         "Synthesis & Opinion Agent",
	StagePersistence:       "Persistence Agent",
}

// TaskID returns the deterministic task identifier for one (stage, resource)
// pair. It is both the execution-log key and the queue dedupe key.
func TaskID(stage string, resourceID uuid.UUID) string {
	return fmt.Sprintf("%s-%s", stage, resourceID)
}

var ErrInvalidPayload = errors.New("invalid stage payload")

// JobConfig is the per-batch processing configuration carried through every
// stage envelope unchanged.
type JobConfig struct {
	EmbeddingModel string `json:"embedding_model"`
	ChunkSize      int    `json:"chunk_size"`
}

func (c JobConfig) validate() error {
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding model is required", ErrInvalidPayload)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be at least 1", ErrInvalidPayload)
	}
	return nil
}

// IngestResource describes one source to ingest. Exactly one of URL, Content
// or Segments must be set, matching the resource type.
type IngestResource struct {
	ID       uuid.UUID                  `json:"id"`
	Title    string                     `json:"title"`
	Type     string                     `json:"type"`
	URL      string                     `json:"url,omitempty"`
	Content  string                     `json:"content,omitempty"`
	Segments []models.TranscriptSegment `json:"segments,omitempty"`
}

func (r IngestResource) validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: resource id is required", ErrInvalidPayload)
	}
	switch r.Type {
	case models.ResourceTypeArticle:
		if r.URL == "" {
			return fmt.Errorf("%w: article resource %s has no url", ErrInvalidPayload, r.ID)
		}
	case models.ResourceTypeTranscript:
		if len(r.Segments) == 0 {
			return fmt.Errorf("%w: transcript resource %s has no segments", ErrInvalidPayload, r.ID)
		}
	case models.ResourceTypeNote:
		if r.Content == "" {
			return fmt.Errorf("%w: note resource %s has no content", ErrInvalidPayload, r.ID)
		}
	default:
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidPayload, r.Type)
	}
	return nil
}

// IngestionPayload starts the chain: one job covering every resource in the
// batch. Ingestion fans out one defensiveAnalysis job per resource.
type IngestionPayload struct {
	BatchID   uuid.UUID        `json:"batch_id"`
	Resources []IngestResource `json:"resources"`
	UserID    string           `json:"user_id"`
	Config    JobConfig        `json:"config"`
}

func (p IngestionPayload) Validate() error {
	if p.BatchID == uuid.Nil {
		return fmt.Errorf("%w: batch id is required", ErrInvalidPayload)
	}
	if len(p.Resources) == 0 {
		return fmt.Errorf("%w: at least one resource is required", ErrInvalidPayload)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	for _, r := range p.Resources {
		if err := r.validate(); err != nil {
			return err
		}
	}
	return p.Config.validate()
}

// envelope is the common part of every per-resource stage payload.
type envelope struct {
	BatchID    uuid.UUID `json:"batch_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	UserID     string    `json:"user_id"`
	Config     JobConfig `json:"config"`
}

func (e envelope) Validate() error {
	if e.BatchID == uuid.Nil {
		return fmt.Errorf("%w: batch id is required", ErrInvalidPayload)
	}
	if e.ResourceID == uuid.Nil {
		return fmt.Errorf("%w: resource id is required", ErrInvalidPayload)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	return e.Config.validate()
}

// AnalysisPayload is the defensiveAnalysis input: the envelope plus the
// sanitized content produced by ingestion.
type AnalysisPayload struct {
	envelope
	SanitizedContent string `json:"sanitized_content"`
}

func (p AnalysisPayload) Validate() error {
	if err := p.envelope.Validate(); err != nil {
		return err
	}
	if p.SanitizedContent == "" {
		return fmt.Errorf("%w: sanitized content is required", ErrInvalidPayload)
	}
	return nil
}

// CoherencePayload carries the defensive analysis findings forward.
type CoherencePayload struct {
	envelope
	Findings []models.Finding `json:"findings"`
}

func (p CoherencePayload) Validate() error {
	if err := p.envelope.Validate(); err != nil {
		return err
	}
	if p.Findings == nil {
		return fmt.Errorf("%w: findings are required", ErrInvalidPayload)
	}
	return nil
}

// SynthesisPayload accumulates both upstream outputs; losing either here is
// a silent data-loss bug downstream.
type SynthesisPayload struct {
	envelope
	Findings  []models.Finding       `json:"findings"`
	Coherence models.CoherenceReport `json:"coherence"`
}

func (p SynthesisPayload) Validate() error {
	if err := p.envelope.Validate(); err != nil {
		return err
	}
	if p.Findings == nil {
		return fmt.Errorf("%w: findings are required", ErrInvalidPayload)
	}
	if p.Coherence.Relationship == "" {
		return fmt.Errorf("%w: coherence relationship is required", ErrInvalidPayload)
	}
	return nil
}

// PersistencePayload carries the synthesized opinion to the final stage.
type PersistencePayload struct {
	envelope
	Opinion models.OpinionDocument `json:"opinion"`
}

func (p PersistencePayload) Validate() error {
	if err := p.envelope.Validate(); err != nil {
		return err
	}
	if p.Opinion.Disclaimer == "" {
		return fmt.Errorf("%w: opinion disclaimer is required", ErrInvalidPayload)
	}
	return nil
}
