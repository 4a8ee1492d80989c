package viewmodel

import "sync"

// TypingStatus tracks the local user's typing flag for one conversation.
// Nothing is broadcast, so the other side is never seen typing.
type TypingStatus struct {
	mu             sync.Mutex
	conversationID string
	typing         bool
}

func NewTypingStatus(conversationID string) *TypingStatus {
	return &TypingStatus{conversationID: conversationID}
}

func (t *TypingStatus) StartTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = true
}

func (t *TypingStatus) StopTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = false
}

func (t *TypingStatus) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// TODO: back this with a presence channel once one exists.
func (t *TypingStatus) OtherUserTyping() bool {
	return false
}
