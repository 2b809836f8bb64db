package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tutor/internal/agent"
	"github.com/pavelanni/tutor/internal/grader"
	"github.com/pavelanni/tutor/internal/i18n"
	"github.com/pavelanni/tutor/internal/model"
	"github.com/pavelanni/tutor/internal/session"
	"github.com/pavelanni/tutor/internal/store"
)

const (
	maxImageBytes  = 10 << 20
	defaultPage    = 20
	maxPage        = 100
	messagesWindow = 50
)

// Agent answers student messages.
type Agent interface {
	Handle(ctx context.Context, req agent.Request) agent.Response
}

// Evaluator rebuilds a student's daily evaluation.
type Evaluator interface {
	Recompute(studentID, day string) (*model.Evaluation, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	agent    Agent
	sessions *session.Manager
	evals    Evaluator
}

// New creates a new Handler.
func New(s *store.Store, a Agent, sessions *session.Manager, evals Evaluator) *Handler {
	return &Handler{store: s, agent: a, sessions: sessions, evals: evals}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/rag/query", h.handleQuery)

		r.Post("/sessions", h.handleCreateSession)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{id}/messages", h.handleSessionMessages)
		r.Patch("/sessions/{id}", h.handleUpdateSession)
		r.Delete("/sessions/{id}", h.handleDeleteSession)

		r.Get("/quizzes/current", h.handleCurrentQuiz)
		r.Get("/quizzes/stats", h.handleQuizStats)
		r.Get("/quizzes", h.handleListQuizzes)
		r.Get("/submissions/{id}", h.handleSubmission)
		r.Get("/stats/daily", h.handleDailyStats)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.QuestionCount()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "questions": n})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImageBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
	}
	studentID := strings.TrimSpace(r.FormValue("student_id"))
	if studentID == "" {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "StudentRequired"))
		return
	}
	text := r.FormValue("user_input")
	image, err := readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(text) == "" && image == nil {
		writeError(w, http.StatusBadRequest, "user_input or image is required")
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		first := text
		if first == "" {
			first = "Câu hỏi từ ảnh"
		}
		sess, err := h.sessions.Create(r.Context(), studentID, first)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sessionID = sess.ID
	} else if _, err := h.sessions.Owned(sessionID, studentID); err != nil {
		h.sessionError(w, r, err)
		return
	}

	history, err := h.sessions.History(sessionID)
	if err != nil {
		slog.Warn("load history, continuing without it", "session_id", sessionID, "error", err)
	}

	resp := h.agent.Handle(r.Context(), agent.Request{
		StudentID: studentID,
		Text:      text,
		Image:     image,
		History:   history,
	})
	if err := h.sessions.Record(sessionID, resp.FinalQuery, resp.Response, image != nil); err != nil {
		slog.Error("record exchange", "session_id", sessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Response:   resp.Response,
		FinalQuery: resp.FinalQuery,
		SessionID:  sessionID,
		Route:      string(resp.Route),
	})
}

// readImage returns the uploaded image, or nil when none was sent.
func readImage(r *http.Request) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, errors.New("image too large")
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID    string `json:"student_id"`
		FirstMessage string `json:"first_message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "StudentRequired"))
		return
	}
	sess, err := h.sessions.Create(r.Context(), req.StudentID, req.FirstMessage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(*sess))
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	archived, _ := strconv.ParseBool(r.URL.Query().Get("archived"))
	sessions, err := h.sessions.List(studentID, archived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = newSessionView(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (h *Handler) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.sessions.Owned(id, studentID); err != nil {
		h.sessionError(w, r, err)
		return
	}
	limit := intParam(r, "limit", messagesWindow, 0)
	msgs, err := h.sessions.Messages(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": views})
}

func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID string  `json:"student_id"`
		Name      *string `json:"name"`
		Archived  *bool   `json:"archived"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if req.Name != nil {
		if err := h.sessions.Rename(id, req.StudentID, *req.Name); err != nil {
			h.sessionError(w, r, err)
			return
		}
	}
	if req.Archived != nil {
		if err := h.sessions.Archive(id, req.StudentID, *req.Archived); err != nil {
			h.sessionError(w, r, err)
			return
		}
	}
	sess, err := h.sessions.Owned(id, req.StudentID)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(*sess))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(chi.URLParam(r, "id"), studentID); err != nil {
		h.sessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
	case errors.Is(err, session.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) handleCurrentQuiz(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	q, err := h.store.GetLatestPendingQuiz(studentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if q == nil {
		writeJSON(w, http.StatusOK, map[string]any{"quiz": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quiz": newQuizView(*q, true)})
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	limit := intParam(r, "limit", defaultPage, maxPage)
	offset := intParam(r, "offset", 0, 0)
	quizzes, err := h.store.ListStudentQuizzes(studentID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]quizView, len(quizzes))
	for i, q := range quizzes {
		views[i] = newQuizView(q, false)
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": views, "limit": limit, "offset": offset})
}

func (h *Handler) handleQuizStats(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	stats, err := h.store.QuizStats(studentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	today, err := h.store.ListQuizzesOnDay(studentID, store.Day(h.store.Now()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byDifficulty := make(map[string]int, len(stats.ByDifficulty))
	for d, n := range stats.ByDifficulty {
		byDifficulty[string(d)] = n
	}
	writeJSON(w, http.StatusOK, statsView{
		Total:        stats.Total,
		Pending:      stats.Pending,
		Completed:    stats.Completed,
		Today:        len(today),
		BySubject:    stats.BySubject,
		ByDifficulty: byDifficulty,
	})
}

func (h *Handler) handleSubmission(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	sub, err := h.store.GetSubmission(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && sub.StudentID != studentID) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view := submissionView{
		ID:              sub.ID,
		QuizID:          sub.QuizID,
		Answers:         sub.Answers.String(),
		Score:           sub.Score,
		Total:           grader.MaxScore,
		DailyCount:      sub.DailyCount,
		SubmittedAt:     sub.SubmittedAt,
		DurationMinutes: sub.DurationMinutes,
	}
	quiz, err := h.store.GetQuiz(sub.QuizID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if quiz != nil && len(quiz.AnswerKey) > 0 {
		d := grader.Compare(sub.Answers, quiz.AnswerKey)
		view.Correct, view.Incorrect = d.Correct, d.Incorrect
		for _, q := range d.Questions {
			view.Details = append(view.Details, detailView{
				Number: q.Number, StudentAnswer: q.StudentAnswer, CorrectAnswer: q.CorrectAnswer, Correct: q.Correct,
			})
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	studentID, ok := requireStudent(w, r)
	if !ok {
		return
	}
	day := r.URL.Query().Get("date")
	if day == "" {
		day = store.Day(h.store.Now())
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	e, err := h.evals.Recompute(studentID, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func requireStudent(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("student_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "StudentRequired"))
		return "", false
	}
	return id, true
}

// intParam reads a non-negative integer query parameter. max of zero means
// unbounded.
func intParam(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
