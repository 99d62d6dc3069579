package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kmathur/briefly/internal/fetch"
	"github.com/kmathur/briefly/internal/search"
	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

// runIngestion fetches and sanitizes every resource in the batch, then fans
// out one defensiveAnalysis job per resource. Resources are independent: a
// resource whose task is already open is skipped without failing the rest.
// The batch moves to processing before any downstream job exists, so a worker
// racing through the whole chain can never have its terminal status
// overwritten by a late stamp from this stage.
func (p *Pipeline) runIngestion(ctx context.Context, pl IngestionPayload) error {
	if err := p.store.MarkBatchProcessing(ctx, pl.BatchID); err != nil {
		return fmt.Errorf("marking batch processing: %w", err)
	}

	for _, res := range pl.Resources {
		startLog := fmt.Sprintf("Starting ingestion for resource %s", res.ID)
		err := p.runTask(ctx, StageIngestion, pl.BatchID, res.ID, startLog, func(ctx context.Context) (string, *nextJob, error) {
			content, err := p.fetcher.Fetch(ctx, fetch.Source{
				Type:     res.Type,
				URL:      res.URL,
				Content:  res.Content,
				Segments: res.Segments,
			})
			if err != nil {
				return "", nil, err
			}

			if err := p.store.StoreSanitizedContent(ctx, res.ID, content); err != nil {
				return "", nil, fmt.Errorf("storing sanitized content: %w", err)
			}

			doneLog := fmt.Sprintf("Successfully ingested and sanitized content for resource %s. Content length: %d", res.ID, len(content))
			next := &nextJob{
				stage: StageDefensiveAnalysis,
				payload: AnalysisPayload{
					envelope: envelope{
						BatchID:    pl.BatchID,
						ResourceID: res.ID,
						UserID:     pl.UserID,
						Config:     pl.Config,
					},
					SanitizedContent: content,
				},
			}
			return doneLog, next, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runDefensiveAnalysis asks the model for weaknesses in the sanitized
// content and parses the findings array with the two-attempt JSON strategy.
func (p *Pipeline) runDefensiveAnalysis(ctx context.Context, pl AnalysisPayload) error {
	startLog := fmt.Sprintf("Starting defensive analysis for resource %s", pl.ResourceID)
	return p.runTask(ctx, StageDefensiveAnalysis, pl.BatchID, pl.ResourceID, startLog, func(ctx context.Context) (string, *nextJob, error) {
		text, err := p.provider.Generate(ctx, defensiveAnalysisPrompt(pl.SanitizedContent))
		if err != nil {
			return "", nil, fmt.Errorf("model call: %w", err)
		}

		findings, err := parseFindings(text)
		if err != nil {
			return "", nil, err
		}

		doneLog := fmt.Sprintf("Successfully completed defensive analysis for resource %s. Findings: %d", pl.ResourceID, len(findings))
		next := &nextJob{
			stage: StageInternalCoherence,
			payload: CoherencePayload{
				envelope: pl.envelope,
				Findings: findings,
			},
		}
		return doneLog, next, nil
	})
}

// parseFindings accepts either a bare findings array or an object wrapping
// one under "findings"; models produce both.
func parseFindings(text string) ([]models.Finding, error) {
	var findings []models.Finding
	if err := parseModelJSON(text, &findings); err == nil {
		if findings == nil {
			findings = []models.Finding{}
		}
		return findings, nil
	}

	var wrapped struct {
		Findings []models.Finding `json:"findings"`
	}
	if err := parseModelJSON(text, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Findings == nil {
		wrapped.Findings = []models.Finding{}
	}
	return wrapped.Findings, nil
}

// runInternalCoherence embeds the serialized findings, searches the caller's
// namespace for similar stored chunks, and classifies the relationship to
// prior knowledge. The report is appended to the resource metadata.
func (p *Pipeline) runInternalCoherence(ctx context.Context, pl CoherencePayload) error {
	startLog := fmt.Sprintf("Starting internal coherence analysis for resource %s", pl.ResourceID)
	return p.runTask(ctx, StageInternalCoherence, pl.BatchID, pl.ResourceID, startLog, func(ctx context.Context) (string, *nextJob, error) {
		serialized, err := json.Marshal(pl.Findings)
		if err != nil {
			return "", nil, fmt.Errorf("serializing findings: %w", err)
		}

		chunks, err := p.searcher.Search(ctx, string(serialized), search.Options{
			Namespace: pl.UserID,
			TopK:      p.cfg.CoherenceTopK,
			Threshold: p.cfg.SimilarityThreshold,
		})
		if err != nil {
			return "", nil, err
		}

		report := p.policy.Classify(chunks)
		if err := p.store.AppendResourceMetadata(ctx, pl.ResourceID, map[string]any{"coherence": report}); err != nil {
			return "", nil, fmt.Errorf("appending coherence metadata: %w", err)
		}

		doneLog := fmt.Sprintf("Successfully completed internal coherence analysis for resource %s. Relationship: %s", pl.ResourceID, report.Relationship)
		next := &nextJob{
			stage: StageSynthesis,
			payload: SynthesisPayload{
				envelope:  pl.envelope,
				Findings:  pl.Findings,
				Coherence: report,
			},
		}
		return doneLog, next, nil
	})
}

// runSynthesis merges the findings and coherence report into a structured
// opinion document. The disclaimer is mandatory: when the model omits it the
// stage injects the canned string. This is the one place state is added
// rather than passed through.
func (p *Pipeline) runSynthesis(ctx context.Context, pl SynthesisPayload) error {
	startLog := fmt.Sprintf("Starting synthesis and opinion generation for resource %s", pl.ResourceID)
	return p.runTask(ctx, StageSynthesis, pl.BatchID, pl.ResourceID, startLog, func(ctx context.Context) (string, *nextJob, error) {
		text, err := p.provider.Generate(ctx, synthesisPrompt(pl.Findings, pl.Coherence))
		if err != nil {
			return "", nil, fmt.Errorf("model call: %w", err)
		}

		var opinion models.OpinionDocument
		if err := parseModelJSON(text, &opinion); err != nil {
			return "", nil, err
		}
		if opinion.Disclaimer == "" {
			opinion.Disclaimer = models.DefaultDisclaimer
		}

		doneLog := fmt.Sprintf("Successfully completed synthesis and opinion generation for resource %s", pl.ResourceID)
		next := &nextJob{
			stage: StagePersistence,
			payload: PersistencePayload{
				envelope: pl.envelope,
				Opinion:  opinion,
			},
		}
		return doneLog, next, nil
	})
}

// runPersistence writes the summary, chunk embeddings, resource tags, and
// batch progress in one transaction. There is no next stage.
func (p *Pipeline) runPersistence(ctx context.Context, pl PersistencePayload) error {
	startLog := fmt.Sprintf("Starting persistence for resource %s", pl.ResourceID)
	return p.runTask(ctx, StagePersistence, pl.BatchID, pl.ResourceID, startLog, func(ctx context.Context) (string, *nextJob, error) {
		chunks := chunkText(synthesisText(pl.Opinion), pl.Config.ChunkSize)

		var tags []string
		tags = append(tags, pl.Opinion.SemanticTags...)
		tags = append(tags, pl.Opinion.PrimaryKeywords...)
		tags = append(tags, pl.Opinion.QuestionBasedTags...)

		summary, batch, err := p.store.PersistAnalysis(ctx, store.PersistParams{
			BatchID:        pl.BatchID,
			ResourceID:     pl.ResourceID,
			Namespace:      pl.UserID,
			Opinion:        pl.Opinion,
			Chunks:         chunks,
			EmbeddingModel: pl.Config.EmbeddingModel,
			Tags:           tags,
		}, p.provider.Embed)
		if err != nil {
			return "", nil, err
		}

		doneLog := fmt.Sprintf("Successfully persisted analysis for resource %s (%d chunks). Batch %s progress: %d/%d",
			pl.ResourceID, summary.TotalChunks, batch.ID, batch.Progress, batch.TotalItems)
		return doneLog, nil, nil
	})
}
