// Package grader scores quiz submissions against answer keys and records them.
package grader

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pavelanni/tutor/internal/model"
	"github.com/pavelanni/tutor/internal/store"
)

const (
	// NumQuestions is the fixed quiz length.
	NumQuestions = 10
	// MaxScore is the score of a fully correct submission.
	MaxScore = 10.0
	// Placeholder stands in for a missing answer in detailed results.
	Placeholder = "?"
)

// ErrQuizNotFound is returned when submitting to a quiz that does not exist.
var ErrQuizNotFound = errors.New("quiz not found")

// Result is the outcome of a successful submission.
type Result struct {
	SubmissionID    string
	Score           float64
	Total           float64
	Percentage      float64
	DailyCount      int
	SubmittedAt     time.Time
	DurationMinutes int
}

// QuestionResult compares one question's answer with the key.
type QuestionResult struct {
	Number        int
	StudentAnswer string
	CorrectAnswer string
	Correct       bool
}

// Detail is a per-question breakdown of a submission.
type Detail struct {
	Questions []QuestionResult
	Correct   int
	Incorrect int
}

// Grader records graded submissions.
type Grader struct {
	store *store.Store
}

// New creates a Grader backed by s.
func New(s *store.Store) *Grader {
	return &Grader{store: s}
}

// Grade scores student answers against a key, both in "1-A,2-B" form.
// Malformed input on either side scores 0.
func Grade(studentAnswers, answerKey string) float64 {
	answers, err := model.ParseAnswerKey(studentAnswers)
	if err != nil {
		return 0
	}
	key, err := model.ParseAnswerKey(answerKey)
	if err != nil {
		return 0
	}
	return Score(answers, key)
}

// Score is 10 × correct / len(key), rounded to two decimals.
func Score(answers, key model.AnswerKey) float64 {
	if len(key) == 0 {
		return 0
	}
	given := answers.Map()
	correct := 0
	for _, p := range key {
		if given[p.Number] == p.Letter {
			correct++
		}
	}
	return round(MaxScore*float64(correct)/float64(len(key)), 2)
}

// CheckAlreadySubmitted reports whether the student already submitted the quiz.
func (g *Grader) CheckAlreadySubmitted(quizID, studentID string) (bool, error) {
	return g.store.SubmissionExists(quizID, studentID)
}

// Submit grades and stores a submission. Nothing is written unless every
// step succeeds; a second submission for the same quiz and student fails
// with store.ErrDuplicateSubmission.
func (g *Grader) Submit(quizID, studentID, studentAnswers, answerKey string) (*Result, error) {
	answers, err := model.ParseAnswerKey(studentAnswers)
	if err != nil {
		return nil, err
	}
	key, err := model.ParseAnswerKey(answerKey)
	if err != nil {
		return nil, fmt.Errorf("answer key: %w", err)
	}
	quiz, err := g.store.GetQuiz(quizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if quiz == nil {
		return nil, fmt.Errorf("%w: %s", ErrQuizNotFound, quizID)
	}

	now := g.store.Now()
	sub := &model.Submission{
		QuizID:          quizID,
		StudentID:       studentID,
		Answers:         answers,
		Score:           Score(answers, key),
		SubmittedAt:     now,
		DurationMinutes: DurationMinutes(quiz.CreatedAt, now),
	}
	if err := g.store.InsertSubmission(sub); err != nil {
		return nil, err
	}

	slog.Info("submission graded",
		"submission_id", sub.ID,
		"quiz_id", quizID,
		"student_id", studentID,
		"score", sub.Score,
		"duration_min", sub.DurationMinutes,
	)
	return &Result{
		SubmissionID:    sub.ID,
		Score:           sub.Score,
		Total:           MaxScore,
		Percentage:      round(sub.Score/MaxScore*100, 1),
		DailyCount:      sub.DailyCount,
		SubmittedAt:     sub.SubmittedAt,
		DurationMinutes: sub.DurationMinutes,
	}, nil
}

// DetailedResult compares a stored submission with the answer key.
func (g *Grader) DetailedResult(submissionID, answerKey string) (*Detail, error) {
	sub, err := g.store.GetSubmission(submissionID)
	if err != nil {
		return nil, err
	}
	key, err := model.ParseAnswerKey(answerKey)
	if err != nil {
		return nil, fmt.Errorf("answer key: %w", err)
	}
	d := Compare(sub.Answers, key)
	return &d, nil
}

// Compare builds the breakdown for questions 1 through NumQuestions. A
// question missing from either side counts as incorrect and shows Placeholder.
func Compare(answers, key model.AnswerKey) Detail {
	given := answers.Map()
	want := key.Map()
	d := Detail{Questions: make([]QuestionResult, 0, NumQuestions)}
	for n := 1; n <= NumQuestions; n++ {
		qr := QuestionResult{Number: n, StudentAnswer: Placeholder, CorrectAnswer: Placeholder}
		if a, ok := given[n]; ok {
			qr.StudentAnswer = a
		}
		if c, ok := want[n]; ok {
			qr.CorrectAnswer = c
		}
		qr.Correct = qr.StudentAnswer != Placeholder && qr.StudentAnswer == qr.CorrectAnswer
		if qr.Correct {
			d.Correct++
		} else {
			d.Incorrect++
		}
		d.Questions = append(d.Questions, qr)
	}
	return d
}

// DurationMinutes is the whole number of minutes from start to end, rounded
// up and never negative.
func DurationMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
