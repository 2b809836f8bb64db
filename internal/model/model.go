package model

import (
	"time"
)

// Difficulty represents a quiz difficulty level.
type Difficulty string

const (
	// DifficultyEasy is the easiest level.
	DifficultyEasy Difficulty = "easy"
	// DifficultyMedium is the default level.
	DifficultyMedium Difficulty = "medium"
	// DifficultyHard is the hardest level.
	DifficultyHard Difficulty = "hard"
)

// Label returns the Vietnamese name used in prompts and quiz headers.
func (d Difficulty) Label() string {
	switch d {
	case DifficultyEasy:
		return "dễ"
	case DifficultyHard:
		return "khó"
	default:
		return "trung bình"
	}
}

// ParseDifficulty accepts English or Vietnamese names. The second return
// value is false when s names no known level.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch normalizeWord(s) {
	case "easy", "dễ", "de":
		return DifficultyEasy, true
	case "medium", "trung bình", "trung binh", "vừa":
		return DifficultyMedium, true
	case "hard", "khó", "kho":
		return DifficultyHard, true
	}
	return "", false
}

// Rating is the Vietnamese performance grade from a daily evaluation.
type Rating string

const (
	RatingExcellent Rating = "Xuất sắc"
	RatingGood      Rating = "Giỏi"
	RatingFair      Rating = "Khá"
	RatingAverage   Rating = "Trung bình"
	RatingWeak      Rating = "Yếu"
)

// Difficulty maps a rating to the quiz level a student should get next.
func (r Rating) Difficulty() Difficulty {
	switch r {
	case RatingExcellent, RatingGood:
		return DifficultyHard
	case RatingFair, RatingAverage:
		return DifficultyMedium
	case RatingWeak:
		return DifficultyEasy
	}
	return DifficultyMedium
}

// QuizStatus represents the state of a quiz.
type QuizStatus string

const (
	QuizPending   QuizStatus = "pending"
	QuizCompleted QuizStatus = "completed"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Question is a single multiple-choice exam item held by the question store.
type Question struct {
	ID                string            `json:"id"`
	Text              string            `json:"question"`
	Options           map[string]string `json:"options"`
	CorrectAnswer     string            `json:"correct_answer"`
	CorrectAnswerText string            `json:"correct_answer_text"`
	Explanation       string            `json:"explanation,omitempty"`
	Subject           string            `json:"subject"`
	Embedding         []float32         `json:"-"`
}

// Validate checks that the correct letter is one of the option keys.
func (q Question) Validate() error {
	if q.Text == "" {
		return errEmptyQuestion
	}
	if _, ok := q.Options[q.CorrectAnswer]; !ok {
		return errCorrectNotInOptions
	}
	return nil
}

// ScoredQuestion is a search hit with its cosine similarity.
type ScoredQuestion struct {
	Question
	Score float64 `json:"score"`
}

// Quiz is a generated exam instance for one student.
type Quiz struct {
	ID         string
	StudentID  string
	CreatedAt  time.Time
	DailyCount int
	Content    string
	AnswerKey  AnswerKey
	Subject    string
	Topic      string
	Difficulty Difficulty
	Status     QuizStatus
}

// Submission is a graded attempt at a quiz.
type Submission struct {
	ID              string
	QuizID          string
	StudentID       string
	Answers         AnswerKey
	Score           float64
	DailyCount      int
	SubmittedAt     time.Time
	DurationMinutes int
}

// Session groups chat messages for one student.
type Session struct {
	ID           string
	StudentID    string
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int
	Archived     bool
}

// ChatMessage is one turn of a chat session.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Evaluation is a student's daily performance summary.
type Evaluation struct {
	StudentID          string    `json:"student_id"`
	Date               string    `json:"date"` // YYYY-MM-DD
	TotalSubmissions   int       `json:"total_submissions"`
	AvgScore           float64   `json:"avg_score"`
	OnTimeRate         float64   `json:"on_time_rate"`
	ParticipationScore float64   `json:"participation_score"`
	CompetenceScore    float64   `json:"competence_score"`
	DisciplineScore    float64   `json:"discipline_score"`
	TotalScore         float64   `json:"total_score"`
	Rating             Rating    `json:"rating"`
	Comment            string    `json:"comment"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// QuizStats aggregates a student's quiz history.
type QuizStats struct {
	Total        int                `json:"total"`
	Pending      int                `json:"pending"`
	Completed    int                `json:"completed"`
	BySubject    map[string]int     `json:"by_subject"`
	ByDifficulty map[Difficulty]int `json:"by_difficulty"`
}

// QuestionImport is the on-disk JSON shape consumed by the import command.
type QuestionImport struct {
	ID                string            `json:"id"`
	Question          string            `json:"question"`
	Options           map[string]string `json:"options"`
	CorrectAnswer     string            `json:"correct_answer"`
	CorrectAnswerText string            `json:"correct_answer_text"`
	Explanation       string            `json:"explanation"`
	Subject           string            `json:"subject"`
}
