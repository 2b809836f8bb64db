package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pavelanni/tutor/internal/graph"
	"github.com/pavelanni/tutor/internal/i18n"
	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/llm/prompts"
	"github.com/pavelanni/tutor/internal/model"
)

func (a *Agent) graph(ctx context.Context, query string) string {
	eq, ok := graph.ParseEquation(query)
	if ok {
		if _, err := graph.Expression(eq); err != nil {
			slog.Debug("regex equation not plottable, asking the model", "equation", eq, "error", err)
			ok = false
		}
	}
	if !ok {
		eq, ok = a.equationFromLLM(ctx, query)
	}
	if !ok {
		return i18n.T(ctx, "GraphNoEquation")
	}

	xMin, xMax := graph.ParseRange(query)
	data := map[string]any{"Equation": eq, "Min": xMin, "Max": xMax}
	if a.cfg.Renderer == nil {
		data["Error"] = "graph rendering is disabled"
		return i18n.Td(ctx, "GraphFailed", data)
	}
	res, err := a.cfg.Renderer.Render(ctx, eq, xMin, xMax)
	if err != nil {
		slog.Warn("render graph", "equation", eq, "error", err)
		data["Error"] = err.Error()
		return i18n.Td(ctx, "GraphFailed", data)
	}
	data["Path"] = res.Path
	data["SizeKB"] = fmt.Sprintf("%.1f", float64(res.Size)/1024)
	return i18n.Td(ctx, "GraphRendered", data)
}

func (a *Agent) equationFromLLM(ctx context.Context, query string) (string, bool) {
	prompt, err := prompts.Render(prompts.Equation, prompts.QueryData{Query: query})
	if err != nil {
		slog.Error("render equation prompt", "error", err)
		return "", false
	}
	out, err := a.cfg.LLM.Complete(ctx, llm.Request{
		Purpose:   "equation",
		Messages:  []llm.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens: 100,
		Fast:      true,
	})
	if err != nil {
		slog.Warn("equation extraction failed", "error", err)
		return "", false
	}
	eq := graph.NormalizeEquation(out)
	if eq == "" || strings.EqualFold(eq, "NONE") {
		return "", false
	}
	return eq, true
}

// search answers from the question store. ok is false when nothing scored
// above the threshold and the caller should fall back to chat.
func (a *Agent) search(ctx context.Context, query string, history []llm.Message) (reply string, ok bool) {
	hits := a.cfg.Searcher.Search(ctx, query, "", searchTopK)
	if len(hits) == 0 || hits[0].Score < a.cfg.SearchThreshold {
		best := 0.0
		if len(hits) > 0 {
			best = hits[0].Score
		}
		slog.Debug("no confident match, falling back to chat", "best_score", best)
		return "", false
	}

	best := hits[0]
	slog.Debug("question match", "question_id", best.ID, "score", best.Score)
	if strings.TrimSpace(best.Explanation) != "" {
		return i18n.Td(ctx, "SearchAnswer", map[string]any{
			"Letter":      best.CorrectAnswer,
			"Text":        best.CorrectAnswerText,
			"Explanation": strings.TrimSpace(best.Explanation),
		}), true
	}

	system, err := prompts.Render(prompts.Search, prompts.SearchData{
		Subject:           best.Subject,
		Question:          best.Text,
		Options:           optionLines(best.Options),
		CorrectAnswer:     best.CorrectAnswer,
		CorrectAnswerText: best.CorrectAnswerText,
	})
	if err != nil {
		return a.internal(ctx, "render search prompt", err), true
	}
	out, err := a.cfg.LLM.Complete(ctx, llm.Request{
		Purpose:     "search",
		System:      system,
		Messages:    a.withHistory(history, query),
		Temperature: 0.5,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		return a.internal(ctx, "explain retrieved answer", err), true
	}
	return out, true
}

func optionLines(options map[string]string) []string {
	letters := make([]string, 0, len(options))
	for l := range options {
		letters = append(letters, l)
	}
	sort.Strings(letters)
	lines := make([]string, len(letters))
	for i, l := range letters {
		lines[i] = l + ". " + options[l]
	}
	return lines
}

func (a *Agent) chat(ctx context.Context, query string, history []llm.Message, pending *model.Quiz) string {
	data := prompts.ChatData{}
	if pending != nil {
		data = prompts.ChatData{PendingQuiz: true, PendingSubject: pending.Subject, PendingTopic: pending.Topic}
	}
	system, err := prompts.Render(prompts.Chat, data)
	if err != nil {
		return a.internal(ctx, "render chat prompt", err)
	}
	out, err := a.cfg.LLM.Complete(ctx, llm.Request{
		Purpose:     "chat",
		System:      system,
		Messages:    a.withHistory(history, query),
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		return a.internal(ctx, "chat completion", err)
	}
	return out
}

// withHistory keeps the latest HistoryLimit messages and appends query.
func (a *Agent) withHistory(history []llm.Message, query string) []llm.Message {
	if len(history) > a.cfg.HistoryLimit {
		history = history[len(history)-a.cfg.HistoryLimit:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	return append(msgs, llm.Message{Role: model.RoleUser, Content: query})
}
