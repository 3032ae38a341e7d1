package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/socratic-tutor/internal/domain/qa"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// History implements qa.HistoryStore.
type History struct {
	mu   sync.RWMutex
	msgs map[shared.StudentID][]qa.Message
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{msgs: make(map[shared.StudentID][]qa.Message)}
}

func (h *History) Append(_ context.Context, id shared.StudentID, msgs ...qa.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs[id] = append(h.msgs[id], msgs...)
	return nil
}

func (h *History) Recent(_ context.Context, id shared.StudentID, n int) ([]qa.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := h.msgs[id]
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return append([]qa.Message(nil), all...), nil
}

func (h *History) Clear(_ context.Context, id shared.StudentID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.msgs, id)
	return nil
}

var _ qa.HistoryStore = (*History)(nil)
