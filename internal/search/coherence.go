// Package search finds stored content semantically similar to new text.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/kmathur/briefly/internal/store"
	"github.com/kmathur/briefly/pkg/models"
)

var (
	ErrEmptyQuery = errors.New("search query is empty")
	// ErrEmptyEmbedding signals provider malfunction: the embedding call
	// succeeded but returned a zero-length vector.
	ErrEmptyEmbedding = errors.New("provider returned empty embedding")
	ErrSearchQuery    = errors.New("similarity search failed")
)

// Options controls one similarity search.
type Options struct {
	Namespace string
	TopK      int
	Threshold float64
}

// Searcher embeds query text and runs cosine-similarity lookups against the
// vector store.
type Searcher struct {
	provider models.Provider
	store    store.Store
}

func NewSearcher(provider models.Provider, st store.Store) *Searcher {
	return &Searcher{provider: provider, store: st}
}

// Search embeds text and returns the stored chunks above the similarity
// threshold, most similar first. Results are scoped to opts.Namespace.
func (s *Searcher) Search(ctx context.Context, text string, opts Options) ([]*models.SimilarChunk, error) {
	if text == "" {
		return nil, ErrEmptyQuery
	}

	embedding, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrSearchQuery, err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: provider %s", ErrEmptyEmbedding, s.provider.Name())
	}

	chunks, err := s.store.SimilarChunks(ctx, embedding, opts.Namespace, opts.TopK, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchQuery, err)
	}
	return chunks, nil
}
