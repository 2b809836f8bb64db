package store

import (
	"cmp"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/pavelanni/tutor/internal/model"
)

// InsertQuestion stores a question with its embedding, replacing any
// question with the same id.
func (s *Store) InsertQuestion(q model.Question) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("question %s: %w", q.ID, err)
	}
	if len(q.Embedding) == 0 {
		return fmt.Errorf("question %s: missing embedding", q.ID)
	}
	options, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO questions (id, text, options, correct_answer, correct_answer_text, explanation, subject, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Text, string(options), q.CorrectAnswer, q.CorrectAnswerText, q.Explanation, q.Subject,
		encodeEmbedding(q.Embedding),
	)
	return err
}

// QuestionCount returns the number of stored questions.
func (s *Store) QuestionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&n)
	return n, err
}

// GetQuestion returns a question by id, or nil.
func (s *Store) GetQuestion(id string) (*model.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(`SELECT id, text, options, correct_answer, correct_answer_text, explanation, subject, embedding
		FROM questions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// SearchQuestions ranks stored questions by cosine similarity to vec and
// returns the best topK, highest score first. An empty subject searches
// every subject.
func (s *Store) SearchQuestions(vec []float32, subject string, topK int) ([]model.ScoredQuestion, error) {
	if topK <= 0 || len(vec) == 0 {
		return nil, nil
	}
	query := `SELECT id, text, options, correct_answer, correct_answer_text, explanation, subject, embedding FROM questions`
	var args []any
	if subject != "" {
		query += ` WHERE subject = ?`
		args = append(args, subject)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []model.ScoredQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		score := cosine(vec, q.Embedding)
		q.Embedding = nil
		hits = append(hits, model.ScoredQuestion{Question: q, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(hits, func(a, b model.ScoredQuestion) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func scanQuestion(row rowScanner) (model.Question, error) {
	var q model.Question
	var options string
	var blob []byte
	if err := row.Scan(&q.ID, &q.Text, &options, &q.CorrectAnswer, &q.CorrectAnswerText,
		&q.Explanation, &q.Subject, &blob); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return q, fmt.Errorf("question %s options: %w", q.ID, err)
	}
	q.Embedding = decodeEmbedding(blob)
	return q, nil
}

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

// cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either has zero norm.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
