package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/tutor/internal/model"
)

// ErrDuplicateSubmission is returned when the (quiz, student) pair already has a submission.
var ErrDuplicateSubmission = errors.New("quiz already submitted")

const submissionColumns = `id, quiz_id, student_id, student_answers, score, daily_count, submitted_at, duration`

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var sub model.Submission
	var answers string
	err := row.Scan(&sub.ID, &sub.QuizID, &sub.StudentID, &answers, &sub.Score,
		&sub.DailyCount, &sub.SubmittedAt, &sub.DurationMinutes)
	if err != nil {
		return nil, err
	}
	parsed, err := model.ParseAnswerKey(answers)
	if err != nil {
		return nil, fmt.Errorf("submission %s answers: %w", sub.ID, err)
	}
	sub.Answers = parsed
	return &sub, nil
}

// InsertSubmission stores a graded submission in a single transaction. It
// fills in ID and DailyCount; SubmittedAt defaults to the store clock.
func (s *Store) InsertSubmission(sub *model.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now()
	}
	day := Day(sub.SubmittedAt)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(`SELECT COUNT(*) FROM submissions WHERE student_id = ? AND day = ?`, sub.StudentID, day).Scan(&count)
	if err != nil {
		return fmt.Errorf("count today's submissions: %w", err)
	}

	id := newID("sub", sub.SubmittedAt)
	_, err = tx.Exec(
		`INSERT INTO submissions (id, quiz_id, student_id, student_answers, score, daily_count, submitted_at, day, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sub.QuizID, sub.StudentID, sub.Answers.String(), sub.Score, count+1, sub.SubmittedAt.UTC(), day, sub.DurationMinutes,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sub.ID = id
	sub.DailyCount = count + 1
	return nil
}

// SubmissionExists reports whether the student already submitted the quiz.
func (s *Store) SubmissionExists(quizID, studentID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions WHERE quiz_id = ? AND student_id = ?`, quizID, studentID).Scan(&n)
	return n > 0, err
}

// GetSubmission returns a submission by id, or ErrNotFound.
func (s *Store) GetSubmission(id string) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRow(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sub, err
}

// ListSubmissionsOnDay returns the student's submissions on a calendar day, oldest first.
func (s *Store) ListSubmissionsOnDay(studentID, day string) ([]model.Submission, error) {
	return s.querySubmissions(
		`SELECT `+submissionColumns+` FROM submissions WHERE student_id = ? AND day = ?
		 ORDER BY submitted_at, rowid`,
		studentID, day,
	)
}

// ListStudentSubmissions returns the student's most recent submissions, newest first.
func (s *Store) ListStudentSubmissions(studentID string, limit int) ([]model.Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.querySubmissions(
		`SELECT `+submissionColumns+` FROM submissions WHERE student_id = ?
		 ORDER BY submitted_at DESC, rowid DESC LIMIT ?`,
		studentID, limit,
	)
}

func (s *Store) querySubmissions(query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
