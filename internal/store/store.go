package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups whose callers need to tell a missing
// row from an empty result.
var ErrNotFound = errors.New("not found")

// dayLayout is the calendar-day key used for daily counts.
const dayLayout = "2006-01-02"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests of daily counts and durations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Day returns the local calendar day of t in the layout stored in date columns.
func Day(t time.Time) string {
	return t.Local().Format(dayLayout)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_answer TEXT NOT NULL,
		correct_answer_text TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_questions_subject ON questions(subject);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		day TEXT NOT NULL,
		daily_count INTEGER NOT NULL,
		content TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT 'medium',
		num_questions INTEGER NOT NULL DEFAULT 10,
		time_limit INTEGER NOT NULL DEFAULT 15,
		answer_key TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_quizzes_student_status ON quizzes(student_id, status);
	CREATE INDEX IF NOT EXISTS idx_quizzes_student_day ON quizzes(student_id, day);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		student_answers TEXT NOT NULL,
		score REAL NOT NULL,
		daily_count INTEGER NOT NULL,
		submitted_at DATETIME NOT NULL,
		day TEXT NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_quiz_student ON submissions(quiz_id, student_id);
	CREATE INDEX IF NOT EXISTS idx_submissions_student_day ON submissions(student_id, day);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_student ON chat_sessions(student_id, last_activity);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS daily_evaluations (
		student_id TEXT NOT NULL,
		date TEXT NOT NULL,
		total_submissions INTEGER NOT NULL,
		avg_score REAL NOT NULL,
		on_time_rate REAL NOT NULL,
		participation_score REAL NOT NULL,
		competence_score REAL NOT NULL,
		discipline_score REAL NOT NULL,
		total_score REAL NOT NULL,
		rating TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		UNIQUE(student_id, date)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// newID builds identifiers like quiz_20251112153045_a7b3c9d2.
func newID(prefix string, t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + "_" + t.Format("20060102150405") + "_" + suffix
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
