package qa

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

type sliceHistory struct {
	mu   sync.Mutex
	msgs map[shared.StudentID][]Message
}

func newSliceHistory() *sliceHistory {
	return &sliceHistory{msgs: map[shared.StudentID][]Message{}}
}

func (h *sliceHistory) Append(_ context.Context, id shared.StudentID, msgs ...Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs[id] = append(h.msgs[id], msgs...)
	return nil
}

func (h *sliceHistory) Recent(_ context.Context, id shared.StudentID, n int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.msgs[id]
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return append([]Message(nil), all...), nil
}

func (h *sliceHistory) Clear(_ context.Context, id shared.StudentID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.msgs, id)
	return nil
}

func TestAgent_AskKeepsRollingWindow(t *testing.T) {
	gw := completion.NewScriptedGateway().OnText(completion.PurposeAnswer, "a1", "a2", "a3", "a4")
	hist := newSliceHistory()
	agent := NewAgent(AgentConfig{Gateway: gw, History: hist})
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		_, err := agent.Ask(ctx, "STU101", q)
		require.NoError(t, err)
	}

	calls := gw.Calls()
	last := calls[len(calls)-1].Prompt
	assert.NotContains(t, last, "q1")
	assert.Contains(t, last, "Assistant: a1")
	assert.Contains(t, last, "Assistant: a2")
	assert.Contains(t, last, "Student: q3")
	assert.True(t, strings.HasSuffix(last, "Student: q4\nAssistant:"))

	all, err := agent.History(ctx, "STU101")
	require.NoError(t, err)
	assert.Len(t, all, 8)
}

func TestAgent_FailureLeavesHistoryUntouched(t *testing.T) {
	gw := completion.NewScriptedGateway()
	hist := newSliceHistory()
	agent := NewAgent(AgentConfig{Gateway: gw, History: hist})

	_, err := agent.Ask(context.Background(), "STU101", "what is sin 30?")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)

	all, _ := hist.Recent(context.Background(), "STU101", 0)
	assert.Empty(t, all)
}

func TestAgent_EmptyQuestion(t *testing.T) {
	agent := NewAgent(AgentConfig{Gateway: completion.NewScriptedGateway(), History: newSliceHistory()})
	_, err := agent.Ask(context.Background(), "STU101", " ")
	assert.ErrorIs(t, err, shared.ErrEmptyUtterance)
}

type staticContext string

func (s staticContext) Context() string { return string(s) }

func TestAgent_ResourcesInSystemPrompt(t *testing.T) {
	gw := completion.NewScriptedGateway().OnText(completion.PurposeAnswer, "ok")
	agent := NewAgent(AgentConfig{Gateway: gw, History: newSliceHistory(), Resources: staticContext("1. Khan Academy")})

	_, err := agent.Ask(context.Background(), "STU101", "where can I practice?")
	require.NoError(t, err)
	assert.Contains(t, gw.Calls()[0].System, "1. Khan Academy")

	require.NoError(t, agent.Reset(context.Background(), "STU101"))
	all, err := agent.History(context.Background(), "STU101")
	require.NoError(t, err)
	assert.Empty(t, all)
}
