package quizgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/llm/prompts"
	"github.com/pavelanni/tutor/internal/model"
)

// AllowedSubjects are the subjects quizzes can be generated for.
var AllowedSubjects = []string{"Toán", "Vật lý", "Hóa học", "Sinh học"}

var subjectAliases = map[string]string{
	"toán":        "Toán",
	"toán học":    "Toán",
	"math":        "Toán",
	"maths":       "Toán",
	"mathematics": "Toán",
	"vật lý":      "Vật lý",
	"vật lí":      "Vật lý",
	"lý":          "Vật lý",
	"lí":          "Vật lý",
	"physics":     "Vật lý",
	"hóa học":     "Hóa học",
	"hoá học":     "Hóa học",
	"hóa":         "Hóa học",
	"hoá":         "Hóa học",
	"chemistry":   "Hóa học",
	"sinh học":    "Sinh học",
	"sinh":        "Sinh học",
	"biology":     "Sinh học",
}

// NormalizeSubject maps a free-form subject name to its canonical allowed
// form. The second return value is false for subjects outside the allowed set.
func NormalizeSubject(s string) (string, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(norm.NFC.String(s)), " "))
	canonical, ok := subjectAliases[key]
	return canonical, ok
}

// TopicRequest is what a student asked for when requesting a quiz.
// Difficulty is empty when the student did not name a level.
type TopicRequest struct {
	Subject    string
	Topic      string
	Difficulty model.Difficulty
}

type topicJSON struct {
	Subject        string `json:"subject"`
	Topic          string `json:"topic"`
	UserDifficulty string `json:"user_difficulty"`
}

// ExtractTopic asks the LLM which subject, topic and level the student wants.
func ExtractTopic(ctx context.Context, c llm.Completer, query string) (*TopicRequest, error) {
	prompt, err := prompts.Render(prompts.Topic, prompts.QueryData{Query: query})
	if err != nil {
		return nil, err
	}
	raw, err := c.Complete(ctx, llm.Request{
		Purpose:   "topic",
		Messages:  []llm.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens: 200,
		Fast:      true,
		JSON:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract topic: %w", err)
	}

	var parsed topicJSON
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse topic response: %w (raw: %s)", err, raw)
	}
	tr := &TopicRequest{
		Subject: strings.TrimSpace(parsed.Subject),
		Topic:   strings.TrimSpace(parsed.Topic),
	}
	if d, ok := model.ParseDifficulty(parsed.UserDifficulty); ok {
		tr.Difficulty = d
	}
	return tr, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
