// Package retrieval answers "which stored question is this?" by embedding
// the query and ranking stored questions by cosine similarity.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/model"
)

// Index is the vector search backend.
type Index interface {
	SearchQuestions(vec []float32, subject string, topK int) ([]model.ScoredQuestion, error)
}

// Retriever is the question store search entry point.
type Retriever struct {
	embedder llm.Embedder
	index    Index
}

// New creates a Retriever.
func New(embedder llm.Embedder, index Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Search returns up to topK questions most similar to query, best first,
// restricted to subject when it is non-empty. Embedding or index failures
// are logged and reported as no match.
func (r *Retriever) Search(ctx context.Context, query, subject string, topK int) []model.ScoredQuestion {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("embedding failed, treating as no match", "error", err)
		return nil
	}
	hits, err := r.index.SearchQuestions(vec, subject, topK)
	if err != nil {
		slog.Error("question search failed", "error", err)
		return nil
	}
	return hits
}
