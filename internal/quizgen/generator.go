// Package quizgen drives the LLM to write fixed-shape multiple-choice
// quizzes and extracts their answer keys.
package quizgen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/llm/prompts"
	"github.com/pavelanni/tutor/internal/model"
)

const (
	// NumQuestions is the fixed number of questions per quiz.
	NumQuestions = 10
	// OptionsPerQuestion is the fixed number of choices per question.
	OptionsPerQuestion = 4
	// TimeLimitMinutes is the quiz time budget shown to students.
	TimeLimitMinutes = 15

	generateTemperature = 0.7
	generateMaxTokens   = 3000

	keyReminder    = "Cuối đề BẮT BUỘC phải có dòng <!-- ANSWER_KEY: 1-X,2-X,...,10-X --> với X là đáp án đúng của từng câu."
	formatReminder = "Đề phải có ĐÚNG 10 câu dạng \"## **Câu N**: ...\", mỗi câu ĐÚNG 4 lựa chọn **A.** **B.** **C.** **D.**, " +
		"không ghi đáp án trong thân đề, và kết thúc bằng dòng <!-- ANSWER_KEY: ... -->."
)

var difficultyHints = map[model.Difficulty]string{
	model.DifficultyEasy:   "chủ yếu câu nhận biết và thông hiểu, tính toán một bước.",
	model.DifficultyMedium: "kết hợp thông hiểu và vận dụng, tính toán vài bước.",
	model.DifficultyHard:   "chủ yếu vận dụng và vận dụng cao, có câu cần suy luận nhiều bước.",
}

// ProfileSource provides a student's latest daily evaluation.
type ProfileSource interface {
	GetLatestEvaluation(studentID string) (*model.Evaluation, error)
}

// Request asks for one quiz.
type Request struct {
	StudentID  string
	Subject    string
	Topic      string
	Difficulty model.Difficulty
	// UseStudentDifficulty picks the level from the student's evaluation
	// even when Difficulty is set.
	UseStudentDifficulty bool
}

// Metadata describes a generated quiz.
type Metadata struct {
	Subject      string
	Topic        string
	Difficulty   model.Difficulty
	NumQuestions int
	TimeLimit    int
}

// Quiz is a generated quiz. AnswerKey is nil when no key could be
// extracted; such a quiz cannot be graded. Validated is false when the
// content still failed the shape checks after the retry.
type Quiz struct {
	Markdown  string
	AnswerKey model.AnswerKey
	Metadata  Metadata
	Validated bool
}

// profile is a memoized evaluation lookup. A nil eval after a resolved
// lookup means the student has no evaluation yet.
type profile struct {
	eval *model.Evaluation
}

// Generator writes quizzes.
type Generator struct {
	llm      llm.Completer
	profiles ProfileSource

	mu    sync.Mutex
	cache map[string]profile
}

// New creates a Generator. profiles may be nil, in which case every
// student gets medium difficulty unless the request names one.
func New(c llm.Completer, profiles ProfileSource) *Generator {
	return &Generator{
		llm:      c,
		profiles: profiles,
		cache:    make(map[string]profile),
	}
}

// Forget drops the memoized profile so the next quiz reads a fresh evaluation.
func (g *Generator) Forget(studentID string) {
	g.mu.Lock()
	delete(g.cache, studentID)
	g.mu.Unlock()
}

// Difficulty resolves the level for a request: the caller's choice when
// given and not overridden, otherwise the level implied by the student's
// latest rating, otherwise medium.
func (g *Generator) Difficulty(req Request) model.Difficulty {
	if req.Difficulty != "" && !req.UseStudentDifficulty {
		return req.Difficulty
	}
	eval := g.profile(req.StudentID)
	if eval == nil {
		return model.DifficultyMedium
	}
	return eval.Rating.Difficulty()
}

func (g *Generator) profile(studentID string) *model.Evaluation {
	if g.profiles == nil || studentID == "" {
		return nil
	}
	g.mu.Lock()
	p, ok := g.cache[studentID]
	g.mu.Unlock()
	if ok {
		return p.eval
	}

	eval, err := g.profiles.GetLatestEvaluation(studentID)
	if err != nil {
		slog.Warn("load student evaluation", "student_id", studentID, "error", err)
		return nil
	}
	g.mu.Lock()
	g.cache[studentID] = profile{eval: eval}
	g.mu.Unlock()
	return eval
}

// Generate asks the LLM for a quiz. A missing answer key triggers one
// retry, and failed shape validation triggers one more. If the content is
// still invalid after that it is returned with Validated false.
func (g *Generator) Generate(ctx context.Context, req Request) (*Quiz, error) {
	difficulty := g.Difficulty(req)
	data := prompts.QuizData{
		Subject:         req.Subject,
		Topic:           req.Topic,
		DifficultyLabel: difficulty.Label(),
		DifficultyHint:  difficultyHints[difficulty],
		NumQuestions:    NumQuestions,
		TimeLimit:       TimeLimitMinutes,
	}
	log := slog.With("student_id", req.StudentID, "subject", req.Subject, "topic", req.Topic, "difficulty", difficulty)

	content, err := g.complete(ctx, data)
	if err != nil {
		return nil, err
	}
	key := ExtractAnswerKey(content)

	if key == nil {
		log.Warn("answer key missing, retrying once")
		data.Reminder = keyReminder
		if content, err = g.complete(ctx, data); err != nil {
			return nil, err
		}
		key = ExtractAnswerKey(content)
	}

	if problems := Validate(content); len(problems) > 0 {
		log.Warn("quiz failed validation, retrying once", "problems", problems)
		data.Reminder = formatReminder
		retried, err := g.complete(ctx, data)
		if err != nil {
			return nil, err
		}
		// The earlier key belongs to the earlier questions, so only switch
		// content when the retry carries its own key.
		if retriedKey := ExtractAnswerKey(retried); retriedKey != nil || key == nil {
			content, key = retried, retriedKey
		}
	}

	problems := Validate(content)
	if len(problems) > 0 {
		log.Warn("returning quiz that failed validation", "problems", problems)
	}
	log.Info("quiz generated", "has_key", key != nil, "validated", len(problems) == 0)

	return &Quiz{
		Markdown:  StripAnswerKey(content),
		AnswerKey: key,
		Metadata: Metadata{
			Subject:      req.Subject,
			Topic:        req.Topic,
			Difficulty:   difficulty,
			NumQuestions: NumQuestions,
			TimeLimit:    TimeLimitMinutes,
		},
		Validated: len(problems) == 0,
	}, nil
}

func (g *Generator) complete(ctx context.Context, data prompts.QuizData) (string, error) {
	system, err := prompts.Render(prompts.QuizSystem, data)
	if err != nil {
		return "", err
	}
	user, err := prompts.Render(prompts.QuizUser, data)
	if err != nil {
		return "", err
	}
	out, err := g.llm.Complete(ctx, llm.Request{
		Purpose:     "quiz",
		System:      system,
		Messages:    []llm.Message{{Role: model.RoleUser, Content: user}},
		Temperature: generateTemperature,
		MaxTokens:   generateMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate quiz: %w", err)
	}
	return strings.TrimSpace(out), nil
}
