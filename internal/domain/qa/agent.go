// Package qa is the plain question-answering assistant used by the control
// cohort. It answers directly and keeps only a short rolling history.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat history.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// HistoryStore keeps per-student chat history.
type HistoryStore interface {
	Append(ctx context.Context, studentID shared.StudentID, msgs ...Message) error
	// Recent returns the last n messages, oldest first.
	Recent(ctx context.Context, studentID shared.StudentID, n int) ([]Message, error)
	Clear(ctx context.Context, studentID shared.StudentID) error
}

// ContextSource supplies reference material for the system prompt.
type ContextSource interface {
	Context() string
}

// DefaultWindow is how many previous messages are sent with a question.
const DefaultWindow = 5

const systemPrompt = `You are a helpful trigonometry assistant.
Answer questions clearly and concisely.
When asked about trigonometry concepts, provide accurate information.
You can show worked examples and solutions.
Be friendly and patient.`

// Answer is the reply to a question.
type Answer struct {
	Question string
	Text     string
	At       time.Time
}

// Agent answers questions for the control cohort.
type Agent struct {
	gateway   completion.Gateway
	history   HistoryStore
	resources ContextSource
	window    int
	logger    *slog.Logger
	now       func() time.Time
}

// AgentConfig configures an Agent.
type AgentConfig struct {
	Gateway   completion.Gateway
	History   HistoryStore
	Resources ContextSource
	Window    int
	Logger    *slog.Logger
}

// NewAgent creates a Q&A agent.
func NewAgent(cfg AgentConfig) *Agent {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		gateway:   cfg.Gateway,
		history:   cfg.History,
		resources: cfg.Resources,
		window:    cfg.Window,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Ask answers a question with the student's recent history as context. The
// exchange is stored only when the gateway produced an answer.
func (a *Agent) Ask(ctx context.Context, studentID shared.StudentID, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, shared.ErrEmptyUtterance
	}

	recent, err := a.history.Recent(ctx, studentID, a.window)
	if err != nil {
		return Answer{}, fmt.Errorf("load history: %w", err)
	}

	system := systemPrompt
	if a.resources != nil {
		system += "\n\n" + a.resources.Context()
	}

	res := a.gateway.Complete(ctx, completion.Request{
		Purpose:     completion.PurposeAnswer,
		System:      system,
		Prompt:      buildPrompt(recent, question),
		Temperature: -1,
	}).Then(nil)
	if res.Failed() {
		a.logger.Warn("qa answer failed",
			"student_id", studentID,
			"outcome", res.Outcome.String(),
			"error", res.Error(),
		)
		return Answer{Question: question}, shared.WrapError("qa", "Ask", shared.ErrServiceUnavailable,
			"assistant is temporarily unavailable", res.Error())
	}

	now := a.now().UTC()
	text := strings.TrimSpace(res.Text)
	if err := a.history.Append(ctx, studentID,
		Message{Role: RoleUser, Text: question, At: now},
		Message{Role: RoleAssistant, Text: text, At: now},
	); err != nil {
		return Answer{}, fmt.Errorf("save history: %w", err)
	}
	return Answer{Question: question, Text: text, At: now}, nil
}

// History returns the full stored history.
func (a *Agent) History(ctx context.Context, studentID shared.StudentID) ([]Message, error) {
	return a.history.Recent(ctx, studentID, 0)
}

// Reset clears a student's history.
func (a *Agent) Reset(ctx context.Context, studentID shared.StudentID) error {
	return a.history.Clear(ctx, studentID)
}

func buildPrompt(recent []Message, question string) string {
	var b strings.Builder
	for _, m := range recent {
		if m.Role == RoleUser {
			fmt.Fprintf(&b, "Student: %s\n", m.Text)
		} else {
			fmt.Fprintf(&b, "Assistant: %s\n", m.Text)
		}
	}
	fmt.Fprintf(&b, "Student: %s\nAssistant:", question)
	return b.String()
}
