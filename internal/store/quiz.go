package store

import (
	"database/sql"
	"fmt"

	"github.com/pavelanni/tutor/internal/model"
)

const quizColumns = `id, student_id, created_at, daily_count, content, subject, topic, difficulty, answer_key, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuiz(row rowScanner) (*model.Quiz, error) {
	var q model.Quiz
	var key string
	err := row.Scan(&q.ID, &q.StudentID, &q.CreatedAt, &q.DailyCount, &q.Content,
		&q.Subject, &q.Topic, &q.Difficulty, &key, &q.Status)
	if err != nil {
		return nil, err
	}
	if key != "" {
		parsed, err := model.ParseAnswerKey(key)
		if err != nil {
			return nil, fmt.Errorf("quiz %s answer key: %w", q.ID, err)
		}
		q.AnswerKey = parsed
	}
	return &q, nil
}

// SaveQuiz records a new pending quiz and returns its id. The daily count is
// the number of quizzes the student already created today plus one.
//
// SaveQuiz does not check for an existing pending quiz. Callers hold the
// student's lock across GetLatestPendingQuiz and SaveQuiz.
func (s *Store) SaveQuiz(studentID, content string, key model.AnswerKey, subject, topic string, difficulty model.Difficulty) (string, error) {
	now := s.now()
	day := Day(now)
	id := newID("quiz", now)

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(`SELECT COUNT(*) FROM quizzes WHERE student_id = ? AND day = ?`, studentID, day).Scan(&count)
	if err != nil {
		return "", fmt.Errorf("count today's quizzes: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO quizzes (id, student_id, created_at, day, daily_count, content, subject, topic, difficulty, answer_key, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, studentID, now.UTC(), day, count+1, content, subject, topic, difficulty, key.String(), model.QuizPending,
	)
	if err != nil {
		return "", fmt.Errorf("insert quiz: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GetQuiz returns a quiz by id, or nil if it does not exist.
func (s *Store) GetQuiz(id string) (*model.Quiz, error) {
	q, err := scanQuiz(s.db.QueryRow(`SELECT `+quizColumns+` FROM quizzes WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return q, err
}

// GetLatestPendingQuiz returns the student's most recent pending quiz, or nil.
func (s *Store) GetLatestPendingQuiz(studentID string) (*model.Quiz, error) {
	q, err := scanQuiz(s.db.QueryRow(
		`SELECT `+quizColumns+` FROM quizzes
		 WHERE student_id = ? AND status = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		studentID, model.QuizPending,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return q, err
}

// UpdateQuizStatus sets a quiz's status. Setting the current status again is a no-op.
func (s *Store) UpdateQuizStatus(id string, status model.QuizStatus) error {
	res, err := s.db.Exec(`UPDATE quizzes SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("quiz %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListStudentQuizzes returns a page of the student's quizzes, newest first.
func (s *Store) ListStudentQuizzes(studentID string, limit, offset int) ([]model.Quiz, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryQuizzes(
		`SELECT `+quizColumns+` FROM quizzes WHERE student_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		studentID, limit, offset,
	)
}

// ListQuizzesOnDay returns the student's quizzes created on a calendar day
// (YYYY-MM-DD), oldest first.
func (s *Store) ListQuizzesOnDay(studentID, day string) ([]model.Quiz, error) {
	return s.queryQuizzes(
		`SELECT `+quizColumns+` FROM quizzes WHERE student_id = ? AND day = ?
		 ORDER BY created_at, rowid`,
		studentID, day,
	)
}

func (s *Store) queryQuizzes(query string, args ...any) ([]model.Quiz, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quizzes []model.Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, *q)
	}
	return quizzes, rows.Err()
}

// QuizStats summarizes a student's quizzes by status, subject and difficulty.
func (s *Store) QuizStats(studentID string) (model.QuizStats, error) {
	stats := model.QuizStats{
		BySubject:    make(map[string]int),
		ByDifficulty: make(map[model.Difficulty]int),
	}
	rows, err := s.db.Query(
		`SELECT subject, difficulty, status, COUNT(*) FROM quizzes
		 WHERE student_id = ? GROUP BY subject, difficulty, status`,
		studentID,
	)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var subject string
		var difficulty model.Difficulty
		var status model.QuizStatus
		var n int
		if err := rows.Scan(&subject, &difficulty, &status, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.BySubject[subject] += n
		stats.ByDifficulty[difficulty] += n
		switch status {
		case model.QuizPending:
			stats.Pending += n
		case model.QuizCompleted:
			stats.Completed += n
		}
	}
	return stats, rows.Err()
}
