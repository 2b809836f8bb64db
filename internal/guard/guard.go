// Package guard decides whether a message sent while a quiz is pending is
// an attempt to get help with that quiz. Checks run cheapest first:
// explicit references, word overlap with the quiz questions, then an LLM
// classifier. The guard fails closed.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/llm/prompts"
	"github.com/pavelanni/tutor/internal/metrics"
	"github.com/pavelanni/tutor/internal/model"
)

// Method names the layer that produced a verdict.
type Method string

const (
	MethodNone       Method = "none"
	MethodExplicit   Method = "explicit"
	MethodSimilarity Method = "similarity"
	MethodLLM        Method = "llm"
	MethodError      Method = "error"
)

const (
	// DefaultSimilarityThreshold is the Jaccard score above which a query
	// counts as a copy of a quiz question.
	DefaultSimilarityThreshold = 0.6

	classifierQuestions = 5
)

// explicitPatterns match direct references to the quiz. They run on the
// lower-cased query.
var explicitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`câu\s+\d+`),
	regexp.MustCompile(`câu\s+số\s+\d+`),
	regexp.MustCompile(`câu\s+hỏi\s+số`),
	regexp.MustCompile(`đáp\s*án`),
	regexp.MustCompile(`chọn\s+[a-d]\b`),
	regexp.MustCompile(`bài\s+(này|đó|kiểm\s*tra)`),
	regexp.MustCompile(`đề\s+(này|đó|thi)`),
	regexp.MustCompile(`\bquestion\s+\d+`),
	regexp.MustCompile(`\banswers?\b`),
	regexp.MustCompile(`\bchoose\s+[a-d]\b`),
	regexp.MustCompile(`\bthis\s+(exam|test|quiz)\b`),
}

var (
	questionHeaderRegex = regexp.MustCompile(`##\s+\*\*Câu\s+\d+\*\*:\s*`)
	optionMarkerRegex   = regexp.MustCompile(`\*\*[A-D]\.\*\*`)
	separatorRegex      = regexp.MustCompile(`(?m)^---`)
)

// Verdict is the guard's decision for one query.
type Verdict struct {
	Blocked    bool
	Method     Method
	Confidence float64
	// Similarity is the best Jaccard score, set by the similarity layer.
	Similarity float64
	// Reason is a short English description for logs.
	Reason string
}

// Guard checks queries against a pending quiz.
type Guard struct {
	llm       llm.Completer
	cache     *Cache
	threshold float64
}

// Option configures a Guard.
type Option func(*Guard)

// WithThreshold overrides DefaultSimilarityThreshold.
func WithThreshold(t float64) Option {
	return func(g *Guard) { g.threshold = t }
}

// WithCache replaces the default cache.
func WithCache(c *Cache) Option {
	return func(g *Guard) { g.cache = c }
}

// New creates a Guard.
func New(c llm.Completer, opts ...Option) *Guard {
	g := &Guard{
		llm:       c,
		cache:     NewCache(1024, time.Hour, nil),
		threshold: DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check classifies query against the pending quiz. A nil quiz allows everything.
func (g *Guard) Check(ctx context.Context, query string, quiz *model.Quiz) Verdict {
	if quiz == nil {
		return Verdict{Method: MethodNone, Reason: "no pending quiz"}
	}
	v := g.check(ctx, query, quiz)
	metrics.GuardVerdicts.WithLabelValues(string(v.Method), strconv.FormatBool(v.Blocked)).Inc()
	if v.Blocked {
		slog.Info("guard blocked query", "quiz_id", quiz.ID, "method", v.Method, "confidence", v.Confidence, "reason", v.Reason)
	}
	return v
}

func (g *Guard) check(ctx context.Context, query string, quiz *model.Quiz) Verdict {
	lower := strings.ToLower(norm.NFC.String(query))
	for _, p := range explicitPatterns {
		if p.MatchString(lower) {
			return Verdict{
				Blocked:    true,
				Method:     MethodExplicit,
				Confidence: 1.0,
				Reason:     "explicit reference: " + p.String(),
			}
		}
	}

	questions := ExtractQuestions(quiz.Content)
	best := 0.0
	for _, q := range questions {
		if s := Jaccard(query, q); s > best {
			best = s
		}
	}
	if best > g.threshold {
		return Verdict{
			Blocked:    true,
			Method:     MethodSimilarity,
			Confidence: 0.98,
			Similarity: best,
			Reason:     fmt.Sprintf("%d%% similar to a quiz question", int(best*100)),
		}
	}

	return g.classify(ctx, query, quiz)
}

func (g *Guard) classify(ctx context.Context, query string, quiz *model.Quiz) Verdict {
	key := quiz.ID + ":" + query
	if v, ok := g.cache.Get(key); ok {
		return v
	}

	prompt, err := prompts.Render(prompts.Guard, prompts.GuardData{
		Questions: QuestionBlocks(quiz.Content, classifierQuestions),
		Query:     query,
	})
	if err != nil {
		return failClosed(err)
	}
	answer, err := g.llm.Complete(ctx, llm.Request{
		Purpose:   "guard",
		Messages:  []llm.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens: 10,
		Fast:      true,
	})
	if err != nil {
		slog.Warn("guard classifier failed, blocking", "quiz_id", quiz.ID, "error", err)
		return failClosed(err)
	}

	blocked := strings.Contains(strings.ToUpper(answer), "YES")
	v := Verdict{
		Blocked:    blocked,
		Method:     MethodLLM,
		Confidence: 0.95,
		Reason:     "classifier answered " + strings.TrimSpace(answer),
	}
	g.cache.Put(key, v)
	return v
}

func failClosed(err error) Verdict {
	return Verdict{
		Blocked:    true,
		Method:     MethodError,
		Confidence: 0.5,
		Reason:     "classifier error: " + err.Error(),
	}
}

// ExtractQuestions returns the text of each "## **Câu N**:" question in
// quiz markdown, without its options, with whitespace collapsed.
func ExtractQuestions(content string) []string {
	headers := questionHeaderRegex.FindAllStringIndex(content, -1)
	questions := make([]string, 0, len(headers))
	for i, h := range headers {
		end := len(content)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := content[h[1]:end]
		if loc := optionMarkerRegex.FindStringIndex(body); loc != nil {
			body = body[:loc[0]]
		}
		if text := strings.Join(strings.Fields(body), " "); text != "" {
			questions = append(questions, text)
		}
	}
	return questions
}

// QuestionBlocks returns up to limit full question blocks (header, text and
// options) for the classifier prompt.
func QuestionBlocks(content string, limit int) []string {
	headers := questionHeaderRegex.FindAllStringIndex(content, -1)
	var blocks []string
	for i, h := range headers {
		if len(blocks) == limit {
			break
		}
		end := len(content)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		block := content[h[0]:end]
		if loc := separatorRegex.FindStringIndex(block); loc != nil {
			block = block[:loc[0]]
		}
		blocks = append(blocks, strings.TrimSpace(block))
	}
	return blocks
}

// Jaccard is the word-set similarity of a and b: shared words over all
// distinct words, case-insensitive. Two empty strings score 0.
func Jaccard(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	union := len(wa) + len(wb) - shared
	return float64(shared) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(norm.NFC.String(s)))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
