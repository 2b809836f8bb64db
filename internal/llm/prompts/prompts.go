package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var studentQueryRegex = regexp.MustCompile(`(?i)</?\s*student-query\b[^>]*>`)

// maxQueryRunes bounds student text placed inside a prompt.
const maxQueryRunes = 4000

// Name identifies a prompt template.
type Name string

const (
	QuizSystem  Name = "quiz_system"
	QuizUser    Name = "quiz_user"
	Guard       Name = "guard"
	Topic       Name = "topic"
	Equation    Name = "equation"
	SessionName Name = "session_name"
	Search      Name = "search_system"
	Chat        Name = "chat_system"
)

var allNames = []Name{QuizSystem, QuizUser, Guard, Topic, Equation, SessionName, Search, Chat}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Name]*template.Template
)

// QuizData holds template data for quiz generation prompts.
type QuizData struct {
	Subject         string
	Topic           string
	DifficultyLabel string
	DifficultyHint  string
	NumQuestions    int
	TimeLimit       int
	Reminder        string
}

// GuardData holds template data for the cheating classifier.
type GuardData struct {
	Questions []string
	Query     string
}

// QueryData is used by prompts that only wrap the student's text.
type QueryData struct {
	Query string
}

// SearchData holds the retrieved question for an explanation prompt.
type SearchData struct {
	Subject           string
	Question          string
	Options           []string
	CorrectAnswer     string
	CorrectAnswerText string
}

// ChatData holds template data for the general tutor prompt.
type ChatData struct {
	PendingQuiz    bool
	PendingSubject string
	PendingTopic   string
}

// Load parses the prompt templates. It uses sync.Once to ensure templates
// are loaded only once; Render calls it implicitly.
func Load() error {
	loadOnce.Do(func() {
		loadErr = load(templateFS)
	})
	return loadErr
}

func load(fsys fs.FS) error {
	parsed := make(map[Name]*template.Template, len(allNames))
	for _, n := range allNames {
		file := "templates/" + string(n) + ".tmpl"
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return errors.New("failed to read prompt file " + file + ": " + err.Error())
		}
		tmpl, err := template.New(string(n)).Parse(string(content))
		if err != nil {
			return errors.New("failed to parse prompt template " + file + ": " + err.Error())
		}
		parsed[n] = tmpl
	}
	templates = parsed
	return nil
}

// Render executes the named template. Student text inside QueryData and
// GuardData is sanitized first.
func Render(name Name, data any) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", errors.New("unknown prompt: " + string(name))
	}

	switch d := data.(type) {
	case QueryData:
		d.Query = SanitizeQuery(d.Query)
		data = d
	case GuardData:
		d.Query = SanitizeQuery(d.Query)
		data = d
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// SanitizeQuery removes delimiter tags a student could use to escape the
// query block and truncates very long input.
func SanitizeQuery(q string) string {
	q = studentQueryRegex.ReplaceAllString(q, "")
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) > maxQueryRunes {
		runes := []rune(q)
		q = string(runes[:maxQueryRunes]) + "\n[...]"
	}
	return q
}
