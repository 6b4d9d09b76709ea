package ai

import "sync"

const maxHistory = 20

// History keeps the most recent chat messages per user.
type History struct {
	mu     sync.Mutex
	limit  int
	byUser map[string][]ChatMessage
}

func NewHistory(limit int) *History {
	return &History{limit: limit, byUser: make(map[string][]ChatMessage)}
}

func (h *History) Get(userID string) []ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ChatMessage(nil), h.byUser[userID]...)
}

func (h *History) Append(userID string, msgs ...ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.byUser[userID], msgs...)
	if len(list) > h.limit {
		list = append([]ChatMessage(nil), list[len(list)-h.limit:]...)
	}
	h.byUser[userID] = list
}

func (h *History) Clear(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byUser, userID)
}
