// Package agent routes each student message to submission, quiz viewing,
// quiz creation, graphing, question search or free chat, and turns every
// outcome into a reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/tutor/internal/grader"
	"github.com/pavelanni/tutor/internal/graph"
	"github.com/pavelanni/tutor/internal/guard"
	"github.com/pavelanni/tutor/internal/i18n"
	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/lock"
	"github.com/pavelanni/tutor/internal/metrics"
	"github.com/pavelanni/tutor/internal/model"
	"github.com/pavelanni/tutor/internal/quizgen"
	"github.com/pavelanni/tutor/internal/store"
)

const (
	// NumAnswers is how many answers a submission must carry.
	NumAnswers = grader.NumQuestions
	// DefaultSearchThreshold is the cosine score a retrieved question needs
	// before it is used as the answer.
	DefaultSearchThreshold = 0.8
	// DefaultHistoryLimit is how many earlier messages go to the LLM.
	DefaultHistoryLimit = 10

	searchTopK      = 3
	minTopicRunes   = 3
	chatTemperature = 0.7
	chatMaxTokens   = 2000
	exampleAnswers  = "1-A,2-B,3-C,4-D,5-A,6-B,7-C,8-D,9-A,10-B"
)

// Route names the branch that produced a reply.
type Route string

const (
	RouteSubmit        Route = "submit"
	RouteView          Route = "view"
	RouteCreateBlocked Route = "create_blocked"
	RouteGuardBlocked  Route = "guard_blocked"
	RouteCreate        Route = "create"
	RouteGraph         Route = "graph"
	RouteSearch        Route = "search"
	RouteChat          Route = "chat"
	RouteError         Route = "error"
)

// OCR reads text from an image.
type OCR interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// Searcher finds stored questions similar to a query.
type Searcher interface {
	Search(ctx context.Context, query, subject string, topK int) []model.ScoredQuestion
}

// Notifier is told about each graded submission. It must not block.
type Notifier interface {
	Notify(studentID, day string)
}

// Request is one incoming student message.
type Request struct {
	StudentID string
	Text      string
	// Image, when set, is read with OCR and its text replaces Text.
	Image   []byte
	History []llm.Message
}

// Response is the agent's reply. FinalQuery is the text that was actually
// routed: the OCR result for image messages, the normalized input otherwise.
type Response struct {
	Response   string
	FinalQuery string
	Route      Route
}

// Config wires the agent's collaborators. Store, Grader, Generator, Guard,
// LLM and Locker are required.
type Config struct {
	Store     *store.Store
	Grader    *grader.Grader
	Generator *quizgen.Generator
	Guard     *guard.Guard
	LLM       llm.Completer
	Locker    lock.Locker

	Searcher Searcher
	OCR      OCR
	Renderer graph.Renderer
	Notifier Notifier

	SearchThreshold float64
	HistoryLimit    int
}

// Agent is the message router.
type Agent struct {
	cfg Config
}

// New creates an Agent.
func New(cfg Config) *Agent {
	if cfg.SearchThreshold <= 0 {
		cfg.SearchThreshold = DefaultSearchThreshold
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocal()
	}
	return &Agent{cfg: cfg}
}

// Handle answers one message. It never returns an error: failures become
// an apology in the reply.
func (a *Agent) Handle(ctx context.Context, req Request) (resp Response) {
	query := norm.NFC.String(strings.TrimSpace(req.Text))
	resp.FinalQuery = query
	log := slog.With("student_id", req.StudentID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("agent panic", "panic", r, "stack", string(debug.Stack()))
			resp.Response = i18n.T(ctx, "InternalError")
			resp.Route = RouteError
		}
		metrics.Routes.WithLabelValues(string(resp.Route)).Inc()
		log.Info("message routed", "route", resp.Route)
	}()

	if len(req.Image) > 0 && a.cfg.OCR != nil {
		text, err := a.cfg.OCR.ExtractText(ctx, req.Image)
		text = norm.NFC.String(strings.TrimSpace(text))
		switch {
		case err != nil:
			log.Warn("image text extraction failed", "error", err)
		case text == "":
			log.Warn("image contained no text")
		default:
			query = text
			resp.FinalQuery = text
		}
	}
	if query == "" {
		resp.Route = RouteError
		resp.Response = i18n.T(ctx, "ImageUnreadable")
		return resp
	}

	resp.Route, resp.Response = a.route(ctx, req.StudentID, query, req.History)
	return resp
}

func (a *Agent) route(ctx context.Context, studentID, query string, history []llm.Message) (Route, string) {
	if Matches(IntentSubmit, query) {
		return RouteSubmit, a.submit(ctx, studentID, query)
	}

	pending, err := a.cfg.Store.GetLatestPendingQuiz(studentID)
	if err != nil {
		return RouteError, a.internal(ctx, "load pending quiz", err)
	}
	if pending != nil {
		if Matches(IntentView, query) {
			return RouteView, viewQuiz(ctx, pending)
		}
		if Matches(IntentCreate, query) {
			return RouteCreateBlocked, createBlocked(ctx, pending)
		}
		if v := a.cfg.Guard.Check(ctx, query, pending); v.Blocked {
			return RouteGuardBlocked, i18n.Td(ctx, "GuardBlocked", map[string]any{
				"Reason":  guardReason(ctx, v),
				"Topic":   pending.Topic,
				"Example": exampleAnswers,
			})
		}
	}

	if Matches(IntentCreate, query) {
		return RouteCreate, a.create(ctx, studentID, query)
	}
	if Matches(IntentGraph, query) {
		return RouteGraph, a.graph(ctx, query)
	}

	search, reason := ShouldSearch(query)
	slog.Debug("search decision", "search", search, "rule", reason)
	if search && a.cfg.Searcher != nil {
		if reply, ok := a.search(ctx, query, history); ok {
			return RouteSearch, reply
		}
	}
	return RouteChat, a.chat(ctx, query, history, pending)
}

// internal logs err and returns the generic apology.
func (a *Agent) internal(ctx context.Context, what string, err error) string {
	slog.Error(what, "error", err)
	return i18n.T(ctx, "InternalError")
}

func viewQuiz(ctx context.Context, q *model.Quiz) string {
	if strings.TrimSpace(q.Content) == "" {
		return i18n.Td(ctx, "ViewQuizEmpty", map[string]any{
			"QuizID": q.ID, "Subject": q.Subject, "Topic": q.Topic,
		})
	}
	return i18n.Td(ctx, "ViewQuiz", map[string]any{"Content": q.Content, "Example": exampleAnswers})
}

func createBlocked(ctx context.Context, q *model.Quiz) string {
	return i18n.Td(ctx, "CreateBlockedPending", map[string]any{
		"Subject": q.Subject, "Topic": q.Topic, "Example": exampleAnswers,
	})
}

func guardReason(ctx context.Context, v guard.Verdict) string {
	switch v.Method {
	case guard.MethodExplicit:
		return i18n.T(ctx, "GuardReasonExplicit")
	case guard.MethodSimilarity:
		return i18n.Td(ctx, "GuardReasonSimilarity", map[string]any{"Percent": int(v.Similarity * 100)})
	case guard.MethodLLM:
		return i18n.T(ctx, "GuardReasonLLM")
	default:
		return i18n.T(ctx, "GuardReasonError")
	}
}

// lockStudent serializes check-and-save sequences for one student.
func (a *Agent) lockStudent(ctx context.Context, studentID string) (func(), error) {
	unlock, err := a.cfg.Locker.Lock(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("lock student %s: %w", studentID, err)
	}
	return unlock, nil
}

func (a *Agent) submit(ctx context.Context, studentID, query string) string {
	unlock, err := a.lockStudent(ctx, studentID)
	if err != nil {
		return a.internal(ctx, "submit", err)
	}
	defer unlock()

	st := a.cfg.Store
	pending, err := st.GetLatestPendingQuiz(studentID)
	if err != nil {
		return a.internal(ctx, "load pending quiz", err)
	}
	if pending == nil {
		return i18n.T(ctx, "NoPendingQuizToSubmit")
	}
	data := map[string]any{"QuizID": pending.ID, "Example": exampleAnswers}

	answers, err := ExtractAnswers(query)
	if err != nil {
		return i18n.Td(ctx, "MalformedAnswers", data)
	}
	quiz, err := st.GetQuiz(pending.ID)
	if err != nil {
		return a.internal(ctx, "load quiz", err)
	}
	if quiz == nil {
		return i18n.Td(ctx, "QuizNotFound", data)
	}
	done, err := a.cfg.Grader.CheckAlreadySubmitted(quiz.ID, studentID)
	if err != nil {
		return a.internal(ctx, "check submission", err)
	}
	if done {
		return i18n.Td(ctx, "AlreadySubmitted", data)
	}
	if len(quiz.AnswerKey) == 0 {
		return i18n.T(ctx, "MissingAnswerKey")
	}

	key := quiz.AnswerKey.String()
	res, err := a.cfg.Grader.Submit(quiz.ID, studentID, answers.String(), key)
	switch {
	case errors.Is(err, store.ErrDuplicateSubmission):
		return i18n.Td(ctx, "AlreadySubmitted", data)
	case errors.Is(err, grader.ErrQuizNotFound):
		return i18n.Td(ctx, "QuizNotFound", data)
	case errors.Is(err, model.ErrMalformedAnswers):
		return i18n.Td(ctx, "MalformedAnswers", data)
	case err != nil:
		slog.Error("submit quiz", "quiz_id", quiz.ID, "error", err)
		return i18n.T(ctx, "SubmitFailed")
	}

	if err := st.UpdateQuizStatus(quiz.ID, model.QuizCompleted); err != nil {
		// The submission is recorded, so the student still gets a result.
		slog.Error("mark quiz completed", "quiz_id", quiz.ID, "error", err)
	}
	if a.cfg.Notifier != nil {
		a.cfg.Notifier.Notify(studentID, store.Day(res.SubmittedAt))
	}

	detail, err := a.cfg.Grader.DetailedResult(res.SubmissionID, key)
	if err != nil {
		slog.Warn("load detailed result, comparing in memory", "submission_id", res.SubmissionID, "error", err)
		d := grader.Compare(answers, quiz.AnswerKey)
		detail = &d
	}
	return formatResult(ctx, res, detail)
}

func formatResult(ctx context.Context, res *grader.Result, d *grader.Detail) string {
	lines := make([]string, 0, len(d.Questions))
	for _, q := range d.Questions {
		data := map[string]any{"Number": q.Number, "Answer": q.StudentAnswer, "Correct": q.CorrectAnswer}
		if q.Correct {
			lines = append(lines, i18n.Td(ctx, "DetailCorrect", data))
		} else {
			lines = append(lines, i18n.Td(ctx, "DetailIncorrect", data))
		}
	}
	return i18n.Td(ctx, "SubmitSuccess", map[string]any{
		"Score":      formatScore(res.Score),
		"Total":      formatScore(res.Total),
		"Percentage": fmt.Sprintf("%.1f", res.Percentage),
		"Correct":    d.Correct,
		"Incorrect":  d.Incorrect,
		"Duration":   res.DurationMinutes,
		"DailyCount": res.DailyCount,
		"Details":    strings.Join(lines, "\n"),
	})
}

func formatScore(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func (a *Agent) create(ctx context.Context, studentID, query string) string {
	unlock, err := a.lockStudent(ctx, studentID)
	if err != nil {
		return a.internal(ctx, "create quiz", err)
	}
	defer unlock()

	// Another request may have saved a quiz since the routing check.
	pending, err := a.cfg.Store.GetLatestPendingQuiz(studentID)
	if err != nil {
		return a.internal(ctx, "load pending quiz", err)
	}
	if pending != nil {
		return createBlocked(ctx, pending)
	}

	subjects := strings.Join(quizgen.AllowedSubjects, ", ")
	tr, err := quizgen.ExtractTopic(ctx, a.cfg.LLM, query)
	if err != nil {
		slog.Warn("topic extraction failed", "error", err)
		return i18n.Td(ctx, "QuizRequestUnclear", map[string]any{"Subjects": subjects})
	}
	if tr.Subject == "" {
		return i18n.Td(ctx, "QuizSubjectMissing", map[string]any{"Subjects": subjects})
	}
	subject, ok := quizgen.NormalizeSubject(tr.Subject)
	if !ok {
		return i18n.Td(ctx, "QuizSubjectUnsupported", map[string]any{"Subject": tr.Subject, "Subjects": subjects})
	}
	topic := strings.TrimSpace(tr.Topic)
	if len([]rune(topic)) < minTopicRunes {
		return i18n.Td(ctx, "QuizTopicMissing", map[string]any{"Subject": subject})
	}

	quiz, err := a.cfg.Generator.Generate(ctx, quizgen.Request{
		StudentID:            studentID,
		Subject:              subject,
		Topic:                topic,
		Difficulty:           tr.Difficulty,
		UseStudentDifficulty: tr.Difficulty == "",
	})
	if err != nil {
		slog.Error("generate quiz", "subject", subject, "topic", topic, "error", err)
		return i18n.T(ctx, "QuizCreateFailed")
	}
	if quiz.AnswerKey == nil {
		return i18n.T(ctx, "QuizMissingKey")
	}

	id, err := a.cfg.Store.SaveQuiz(studentID, quiz.Markdown, quiz.AnswerKey, subject, topic, quiz.Metadata.Difficulty)
	if err != nil {
		// An unsaved quiz could never be submitted, so it is not shown.
		slog.Error("save quiz", "student_id", studentID, "error", err)
		return i18n.T(ctx, "QuizCreateFailed")
	}
	slog.Info("quiz created", "quiz_id", id, "subject", subject, "topic", topic,
		"difficulty", quiz.Metadata.Difficulty, "validated", quiz.Validated)
	return i18n.Td(ctx, "QuizCreated", map[string]any{"Content": quiz.Markdown, "Example": exampleAnswers})
}
