package entity

import "time"

type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventConversationDeleted EventType = "conversation.deleted"
	EventMessageSent         EventType = "message.sent"
	EventMessagesRead        EventType = "messages.read"
)

// MessagingEvent is published after a messaging mutation commits.
type MessagingEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	RecipientID    string    `json:"recipient_id,omitempty"`
	Count          int       `json:"count,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
