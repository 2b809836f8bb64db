package store

import (
	"database/sql"

	"github.com/pavelanni/tutor/internal/model"
)

const evaluationColumns = `student_id, date, total_submissions, avg_score, on_time_rate,
	participation_score, competence_score, discipline_score, total_score, rating, comment, updated_at`

func scanEvaluation(row rowScanner) (*model.Evaluation, error) {
	var e model.Evaluation
	err := row.Scan(&e.StudentID, &e.Date, &e.TotalSubmissions, &e.AvgScore, &e.OnTimeRate,
		&e.ParticipationScore, &e.CompetenceScore, &e.DisciplineScore, &e.TotalScore,
		&e.Rating, &e.Comment, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertEvaluation stores the evaluation for (student, date), replacing any earlier one.
func (s *Store) UpsertEvaluation(e model.Evaluation) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now()
	}
	_, err := s.db.Exec(
		`INSERT INTO daily_evaluations (`+evaluationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, date) DO UPDATE SET
			total_submissions = excluded.total_submissions,
			avg_score = excluded.avg_score,
			on_time_rate = excluded.on_time_rate,
			participation_score = excluded.participation_score,
			competence_score = excluded.competence_score,
			discipline_score = excluded.discipline_score,
			total_score = excluded.total_score,
			rating = excluded.rating,
			comment = excluded.comment,
			updated_at = excluded.updated_at`,
		e.StudentID, e.Date, e.TotalSubmissions, e.AvgScore, e.OnTimeRate,
		e.ParticipationScore, e.CompetenceScore, e.DisciplineScore, e.TotalScore,
		e.Rating, e.Comment, e.UpdatedAt.UTC(),
	)
	return err
}

// GetEvaluation returns the evaluation for a student on a day, or nil.
func (s *Store) GetEvaluation(studentID, date string) (*model.Evaluation, error) {
	e, err := scanEvaluation(s.db.QueryRow(
		`SELECT `+evaluationColumns+` FROM daily_evaluations WHERE student_id = ? AND date = ?`,
		studentID, date,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetLatestEvaluation returns the student's most recent evaluation, or nil.
func (s *Store) GetLatestEvaluation(studentID string) (*model.Evaluation, error) {
	e, err := scanEvaluation(s.db.QueryRow(
		`SELECT `+evaluationColumns+` FROM daily_evaluations WHERE student_id = ?
		 ORDER BY date DESC LIMIT 1`,
		studentID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}
