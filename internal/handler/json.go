package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavelanni/tutor/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type queryResponse struct {
	Response   string `json:"response"`
	FinalQuery string `json:"final_query"`
	SessionID  string `json:"session_id"`
	Route      string `json:"route"`
}

type sessionView struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	Archived     bool      `json:"archived"`
}

func newSessionView(s model.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		StudentID:    s.StudentID,
		Name:         s.Name,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		MessageCount: s.MessageCount,
		Archived:     s.Archived,
	}
}

type messageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// quizView never carries the answer key.
type quizView struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	DailyCount int       `json:"daily_count"`
	Subject    string    `json:"subject"`
	Topic      string    `json:"topic"`
	Difficulty string    `json:"difficulty"`
	Status     string    `json:"status"`
	Content    string    `json:"content,omitempty"`
}

func newQuizView(q model.Quiz, withContent bool) quizView {
	v := quizView{
		ID:         q.ID,
		CreatedAt:  q.CreatedAt,
		DailyCount: q.DailyCount,
		Subject:    q.Subject,
		Topic:      q.Topic,
		Difficulty: string(q.Difficulty),
		Status:     string(q.Status),
	}
	if withContent {
		v.Content = q.Content
	}
	return v
}

type statsView struct {
	Total        int            `json:"total"`
	Pending      int            `json:"pending"`
	Completed    int            `json:"completed"`
	Today        int            `json:"today"`
	BySubject    map[string]int `json:"by_subject"`
	ByDifficulty map[string]int `json:"by_difficulty"`
}

type detailView struct {
	Number        int    `json:"question_number"`
	StudentAnswer string `json:"student_answer"`
	CorrectAnswer string `json:"correct_answer"`
	Correct       bool   `json:"is_correct"`
}

type submissionView struct {
	ID              string       `json:"id"`
	QuizID          string       `json:"quiz_id"`
	Answers         string       `json:"student_answers"`
	Score           float64      `json:"score"`
	Total           float64      `json:"total"`
	DailyCount      int          `json:"daily_count"`
	SubmittedAt     time.Time    `json:"submitted_at"`
	DurationMinutes int          `json:"duration_minutes"`
	Correct         int          `json:"correct_count"`
	Incorrect       int          `json:"incorrect_count"`
	Details         []detailView `json:"details,omitempty"`
}
