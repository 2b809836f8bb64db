package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/model"
)

// ImportStore persists imported questions and remembers which file
// versions were already loaded.
type ImportStore interface {
	InsertQuestion(q model.Question) error
	GetImportedFileHash(path string) (string, error)
	SetImportedFileHash(path, hash string) error
}

// Importer loads question files into the store with their embeddings.
type Importer struct {
	embedder llm.Embedder
	store    ImportStore
}

// NewImporter creates an Importer.
func NewImporter(embedder llm.Embedder, s ImportStore) *Importer {
	return &Importer{embedder: embedder, store: s}
}

// ImportFile loads one JSON array of questions. A file whose content hash
// matches the last import is skipped and reports zero. Questions are keyed
// by id, so a changed file replaces its earlier rows.
func (im *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	stored, err := im.store.GetImportedFileHash(path)
	if err != nil {
		return 0, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if stored == hash {
		slog.Info("questions file unchanged, skipping", "path", path)
		return 0, nil
	}
	if stored != "" {
		slog.Info("questions file changed, re-importing", "path", path)
	}

	var questions []model.QuestionImport
	if err := json.Unmarshal(data, &questions); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, qi := range questions {
		q := model.Question{
			ID:                qi.ID,
			Text:              strings.TrimSpace(qi.Question),
			Options:           qi.Options,
			CorrectAnswer:     strings.ToUpper(strings.TrimSpace(qi.CorrectAnswer)),
			CorrectAnswerText: qi.CorrectAnswerText,
			Explanation:       qi.Explanation,
			Subject:           qi.Subject,
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("%s#%d", hash[:12], i+1)
		}
		if err := q.Validate(); err != nil {
			return i, fmt.Errorf("question %s in %s: %w", q.ID, path, err)
		}
		vec, err := im.embedder.Embed(ctx, Document(q))
		if err != nil {
			return i, fmt.Errorf("embed question %s: %w", q.ID, err)
		}
		q.Embedding = vec
		if err := im.store.InsertQuestion(q); err != nil {
			return i, fmt.Errorf("insert question from %s: %w", path, err)
		}
	}

	if err := im.store.SetImportedFileHash(path, hash); err != nil {
		return len(questions), fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported questions", "path", path, "count", len(questions))
	return len(questions), nil
}

// Document is the text embedded for a question: the question followed by
// its options in letter order.
func Document(q model.Question) string {
	letters := make([]string, 0, len(q.Options))
	for l := range q.Options {
		letters = append(letters, l)
	}
	sort.Strings(letters)

	var sb strings.Builder
	sb.WriteString(q.Text)
	for _, l := range letters {
		fmt.Fprintf(&sb, "\n%s. %s", l, q.Options[l])
	}
	return sb.String()
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
