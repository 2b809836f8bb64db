// Package session manages chat sessions: naming, ownership and history.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/llm/prompts"
	"github.com/pavelanni/tutor/internal/model"
)

// ErrForbidden is returned when a student touches another student's session.
var ErrForbidden = errors.New("session belongs to another student")

// ImagePrefix marks user messages that came from an image.
const ImagePrefix = "[📸 Từ ảnh] "

const (
	// DefaultHistoryLimit is how many messages are handed to the agent.
	DefaultHistoryLimit = 10
	fallbackNameRunes   = 30
	maxNameRunes        = 80
)

// Store is the persistence a Manager needs.
type Store interface {
	CreateSession(studentID, name string) (*model.Session, error)
	GetSession(id string) (*model.Session, error)
	ListSessions(studentID string, includeArchived bool) ([]model.Session, error)
	RenameSession(id, name string) error
	SetSessionArchived(id string, archived bool) error
	DeleteSession(id string) error
	AddMessage(sessionID string, role model.Role, content string) (*model.ChatMessage, error)
	RecentMessages(sessionID string, limit int) ([]model.ChatMessage, error)
}

// Manager wraps the session store with naming and ownership rules.
type Manager struct {
	store        Store
	llm          llm.Completer
	historyLimit int
}

// New creates a Manager. c may be nil, in which case sessions are named
// from the first message.
func New(s Store, c llm.Completer, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Manager{store: s, llm: c, historyLimit: historyLimit}
}

// Create starts a session named after firstMessage.
func (m *Manager) Create(ctx context.Context, studentID, firstMessage string) (*model.Session, error) {
	name := m.Name(ctx, firstMessage)
	sess, err := m.store.CreateSession(studentID, name)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "student_id", studentID, "session_id", sess.ID, "name", name)
	return sess, nil
}

// Name asks the LLM for a short title and falls back to the start of the
// message.
func (m *Manager) Name(ctx context.Context, firstMessage string) string {
	firstMessage = strings.TrimSpace(firstMessage)
	if firstMessage == "" {
		return "Cuộc trò chuyện mới"
	}
	if m.llm != nil {
		if name, err := m.generateName(ctx, firstMessage); err == nil && name != "" {
			return name
		} else if err != nil {
			slog.Warn("session naming failed, using fallback", "error", err)
		}
	}
	return Truncate(firstMessage, fallbackNameRunes)
}

func (m *Manager) generateName(ctx context.Context, firstMessage string) (string, error) {
	prompt, err := prompts.Render(prompts.SessionName, prompts.QueryData{Query: firstMessage})
	if err != nil {
		return "", err
	}
	out, err := m.llm.Complete(ctx, llm.Request{
		Purpose:     "session_name",
		Messages:    []llm.Message{{Role: model.RoleUser, Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   20,
		Fast:        true,
	})
	if err != nil {
		return "", err
	}
	name := strings.Trim(strings.TrimSpace(out), "\"'“”")
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = Truncate(name, maxNameRunes)
	}
	return name, nil
}

// Truncate shortens s to n runes, adding "..." when something was cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// Owned returns the session if it exists and belongs to studentID.
func (m *Manager) Owned(sessionID, studentID string) (*model.Session, error) {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.StudentID != studentID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// List returns the student's sessions, most recently active first.
func (m *Manager) List(studentID string, includeArchived bool) ([]model.Session, error) {
	return m.store.ListSessions(studentID, includeArchived)
}

// Rename changes a session's name after checking ownership.
func (m *Manager) Rename(sessionID, studentID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("session name is empty")
	}
	if _, err := m.Owned(sessionID, studentID); err != nil {
		return err
	}
	return m.store.RenameSession(sessionID, Truncate(name, maxNameRunes))
}

// Archive hides or restores a session after checking ownership.
func (m *Manager) Archive(sessionID, studentID string, archived bool) error {
	if _, err := m.Owned(sessionID, studentID); err != nil {
		return err
	}
	return m.store.SetSessionArchived(sessionID, archived)
}

// Delete removes a session and its messages after checking ownership.
func (m *Manager) Delete(sessionID, studentID string) error {
	if _, err := m.Owned(sessionID, studentID); err != nil {
		return err
	}
	return m.store.DeleteSession(sessionID)
}

// Messages returns up to limit recent messages, oldest first.
func (m *Manager) Messages(sessionID string, limit int) ([]model.ChatMessage, error) {
	return m.store.RecentMessages(sessionID, limit)
}

// History returns the agent context for a session: the latest messages,
// oldest first.
func (m *Manager) History(sessionID string) ([]llm.Message, error) {
	msgs, err := m.store.RecentMessages(sessionID, m.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]llm.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = llm.Message{Role: msg.Role, Content: msg.Content}
	}
	return out, nil
}

// Record appends one exchange. fromImage marks the user text as OCR output.
func (m *Manager) Record(sessionID, userText, assistantText string, fromImage bool) error {
	if fromImage {
		userText = ImagePrefix + userText
	}
	if _, err := m.store.AddMessage(sessionID, model.RoleUser, userText); err != nil {
		return fmt.Errorf("record user message: %w", err)
	}
	if _, err := m.store.AddMessage(sessionID, model.RoleAssistant, assistantText); err != nil {
		return fmt.Errorf("record assistant message: %w", err)
	}
	return nil
}
