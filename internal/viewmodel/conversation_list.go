package viewmodel

import (
	"context"
	"sync"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/domain/repository"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/errors"
	"swapmarket/pkg/logger"
)

type ConversationListState struct {
	Loading       bool
	Error         string
	Conversations []*entity.Conversation
	TotalUnread   int
}

// ConversationList is the inbox of the signed-in user: the active
// conversations, newest activity first, plus the total unread count.
type ConversationList struct {
	svc Messaging

	mu         sync.Mutex
	state      ConversationListState
	userID     string
	generation int
	unsubs     []repository.Unsubscribe
	onChange   func(ConversationListState)
}

func NewConversationList(svc Messaging) *ConversationList {
	return &ConversationList{svc: svc}
}

// OnChange registers the listener called after every state transition.
func (l *ConversationList) OnChange(fn func(ConversationListState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

func (l *ConversationList) State() ConversationListState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Subscribe follows userID's inbox, replacing any previous subscription. An
// empty userID (signed out) clears the state.
func (l *ConversationList) Subscribe(ctx context.Context, userID string) error {
	l.mu.Lock()
	previous := l.unsubs
	l.unsubs = nil
	l.generation++
	generation := l.generation
	l.userID = userID
	l.state = ConversationListState{Loading: userID != ""}
	l.mu.Unlock()

	unsubscribeAll(previous)
	l.notify()

	if userID == "" {
		return nil
	}

	unsubConversations, err := l.svc.WatchUserConversations(ctx, userID, nil, func(conversations []*entity.Conversation, err error) {
		l.update(generation, func(s *ConversationListState) {
			s.Loading = false
			if err != nil {
				s.Error = errors.Message(err)
				return
			}
			s.Error = ""
			s.Conversations = conversations
		})
	})
	if err != nil {
		l.fail(generation, err)
		return err
	}

	unsubUnread, err := l.svc.WatchTotalUnreadCount(ctx, userID, func(total int, err error) {
		l.update(generation, func(s *ConversationListState) {
			if err != nil {
				s.Error = errors.Message(err)
				return
			}
			s.TotalUnread = total
		})
	})
	if err != nil {
		unsubConversations()
		l.fail(generation, err)
		return err
	}

	l.mu.Lock()
	if l.generation != generation {
		l.mu.Unlock()
		unsubConversations()
		unsubUnread()
		return nil
	}
	l.unsubs = []repository.Unsubscribe{unsubConversations, unsubUnread}
	l.mu.Unlock()
	return nil
}

// Dispose releases the live subscriptions. The state is kept.
func (l *ConversationList) Dispose() {
	l.mu.Lock()
	unsubs := l.unsubs
	l.unsubs = nil
	l.generation++
	l.mu.Unlock()

	unsubscribeAll(unsubs)
}

func (l *ConversationList) CreateConversation(ctx context.Context, participantID, productID, initialMessage string) (string, error) {
	userID := l.currentUser()
	if userID == "" {
		return "", l.recordError(errors.Unauthenticated("User not authenticated"))
	}
	l.clearError()

	id, err := l.svc.CreateConversation(ctx, usecase.CreateConversationInput{
		InitiatorID:    userID,
		ParticipantID:  participantID,
		ProductID:      productID,
		InitialMessage: initialMessage,
	})
	if err != nil {
		return "", l.recordError(err)
	}
	return id, nil
}

func (l *ConversationList) SendMessage(ctx context.Context, conversationID, text string, messageType entity.MessageType) (string, error) {
	userID := l.currentUser()
	if userID == "" {
		return "", l.recordError(errors.Unauthenticated("User not authenticated"))
	}
	l.clearError()

	id, err := l.svc.SendMessage(ctx, usecase.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Text:           text,
		Type:           messageType,
	})
	if err != nil {
		return "", l.recordError(err)
	}
	return id, nil
}

// MarkAsRead records a failure in the state but does not return it.
func (l *ConversationList) MarkAsRead(ctx context.Context, conversationID string) {
	userID := l.currentUser()
	if userID == "" {
		return
	}
	l.clearError()

	if err := l.svc.MarkMessagesAsRead(ctx, conversationID, userID); err != nil {
		l.recordError(err)
	}
}

func (l *ConversationList) DeleteConversation(ctx context.Context, conversationID string) error {
	l.clearError()
	if err := l.svc.DeleteConversation(ctx, conversationID); err != nil {
		return l.recordError(err)
	}
	return nil
}

func (l *ConversationList) currentUser() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userID
}

func (l *ConversationList) clearError() {
	l.mu.Lock()
	changed := l.state.Error != ""
	l.state.Error = ""
	l.mu.Unlock()
	if changed {
		l.notify()
	}
}

func (l *ConversationList) recordError(err error) error {
	l.mu.Lock()
	l.state.Error = errors.Message(err)
	l.mu.Unlock()
	l.notify()
	return err
}

func (l *ConversationList) fail(generation int, err error) {
	logger.Error("ConversationList: subscription failed: %v", err)
	l.update(generation, func(s *ConversationListState) {
		s.Loading = false
		s.Error = errors.Message(err)
	})
}

// update applies fn unless the subscription that produced it was replaced.
func (l *ConversationList) update(generation int, fn func(*ConversationListState)) {
	l.mu.Lock()
	if l.generation != generation {
		l.mu.Unlock()
		return
	}
	fn(&l.state)
	l.mu.Unlock()
	l.notify()
}

func (l *ConversationList) notify() {
	l.mu.Lock()
	fn := l.onChange
	state := l.snapshot()
	l.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// snapshot must be called with l.mu held.
func (l *ConversationList) snapshot() ConversationListState {
	s := l.state
	s.Conversations = append([]*entity.Conversation(nil), l.state.Conversations...)
	return s
}
