// Package viewmodel holds the client-facing state containers that sit on top
// of the messaging service: the inbox, a single open conversation, search and
// typing state. They keep their own state behind a mutex and notify a single
// change listener after every transition.
package viewmodel

import (
	"context"

	"swapmarket/internal/domain/repository"
	"swapmarket/internal/usecase"
)

// Messaging is the part of the messaging service the view-models drive.
type Messaging interface {
	CreateConversation(ctx context.Context, input usecase.CreateConversationInput) (string, error)
	SendMessage(ctx context.Context, input usecase.SendMessageInput) (string, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, readerID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	WatchUserConversations(ctx context.Context, userID string, filters *usecase.ConversationFilters, listener usecase.ConversationsListener) (repository.Unsubscribe, error)
	WatchTotalUnreadCount(ctx context.Context, userID string, listener usecase.UnreadCountListener) (repository.Unsubscribe, error)
	WatchConversationMessages(ctx context.Context, conversationID string, pagination usecase.MessagePagination, listener usecase.MessagePageListener) (repository.Unsubscribe, error)
}

var _ Messaging = (*usecase.MessagingUseCase)(nil)

func unsubscribeAll(unsubs []repository.Unsubscribe) {
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
}
