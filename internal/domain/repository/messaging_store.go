package repository

import (
	"context"
	"time"

	"swapmarket/internal/domain/entity"
)

// Unsubscribe stops a live query. It is safe to call more than once.
type Unsubscribe func()

// ConversationQuery selects conversations by participant. Results are ordered
// by updatedAt descending.
type ConversationQuery struct {
	ParticipantID string
	ActiveOnly    bool
}

// MessageCursor positions a page relative to an already loaded message.
type MessageCursor struct {
	Timestamp time.Time
	ID        string
}

// MessageQuery selects messages of one conversation.
//
// With NewestFirst the results are ordered by timestamp descending (ties by
// insertion order, newest first) and StartAfter skips everything up to and
// including the cursor. Otherwise the order is ascending.
type MessageQuery struct {
	ConversationID string
	ReceiverID     string
	UnreadOnly     bool
	NewestFirst    bool
	Limit          int
	StartAfter     *MessageCursor
}

type ConversationListener func(conversations []*entity.Conversation, err error)

type MessageListener func(messages []*entity.Message, err error)

// ConversationUpdate describes a partial conversation write. UpdatedAt is
// always bumped to the commit time.
type ConversationUpdate struct {
	LastMessage      *entity.LastMessage
	UnreadIncrements map[string]int
	UnreadResets     []string
	IsActive         *bool
}

// MessageUpdate describes a partial message write. MarkRead sets isRead and
// stamps readAt with the commit time.
type MessageUpdate struct {
	MarkRead bool
}

// WriteBatch collects writes that commit atomically: either every write is
// visible after Commit returns nil, or none is. Zero timestamps on created
// records are filled with the commit time.
type WriteBatch interface {
	CreateConversation(conversation *entity.Conversation)
	UpdateConversation(id string, update ConversationUpdate)
	CreateMessage(message *entity.Message)
	UpdateMessage(id string, update MessageUpdate)
	Size() int
	Commit(ctx context.Context) error
}

// MessagingStore is the persistence and realtime collaborator of the
// messaging service.
type MessagingStore interface {
	NewConversationID() string
	NewMessageID() string

	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	QueryConversations(ctx context.Context, query ConversationQuery) ([]*entity.Conversation, error)
	WatchConversations(ctx context.Context, query ConversationQuery, listener ConversationListener) (Unsubscribe, error)

	GetMessage(ctx context.Context, id string) (*entity.Message, error)
	QueryMessages(ctx context.Context, query MessageQuery) ([]*entity.Message, error)
	WatchMessages(ctx context.Context, query MessageQuery, listener MessageListener) (Unsubscribe, error)

	Batch() WriteBatch
}
