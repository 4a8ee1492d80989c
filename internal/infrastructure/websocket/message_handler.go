package websocket

import (
	"context"
	"encoding/json"
	"time"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/domain/repository"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/errors"
	"swapmarket/pkg/logger"
	"swapmarket/pkg/utils"
)

// Client to server frame types.
const (
	MessageTypePing                   = "ping"
	MessageTypeSubscribeConversations = "subscribe_conversations"
	MessageTypeSubscribeMessages      = "subscribe_messages"
	MessageTypeSubscribeUnread        = "subscribe_unread"
	MessageTypeUnsubscribe            = "unsubscribe"
)

// Server to client frame types.
const (
	MessageTypePong          = "pong"
	MessageTypeConversations = "conversations"
	MessageTypeMessages      = "messages"
	MessageTypeUnread        = "unread"
	MessageTypeEvent         = "event"
	MessageTypeError         = "error"
)

// LiveQueries is what the socket needs from the messaging service.
type LiveQueries interface {
	GetConversation(ctx context.Context, conversationID, userID string) (*entity.Conversation, error)
	ResolveMessageCursor(ctx context.Context, conversationID, messageID string) (*entity.Message, error)
	WatchUserConversations(ctx context.Context, userID string, filters *usecase.ConversationFilters, listener usecase.ConversationsListener) (repository.Unsubscribe, error)
	WatchConversationMessages(ctx context.Context, conversationID string, pagination usecase.MessagePagination, listener usecase.MessagePageListener) (repository.Unsubscribe, error)
	WatchTotalUnreadCount(ctx context.Context, userID string, listener usecase.UnreadCountListener) (repository.Unsubscribe, error)
}

// ClientMessage is a frame sent by the client. ID names the subscription it
// opens or closes.
type ClientMessage struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	BeforeID       string `json:"before_id,omitempty"`
	HasUnread      bool   `json:"has_unread,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
}

// ServerMessage is a frame pushed to the client.
type ServerMessage struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorData  `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UnreadData struct {
	Total int `json:"total"`
}

// HandleClientMessage dispatches one frame from client.
func (m *Manager) HandleClientMessage(client *Client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("WebSocket: invalid frame from %s: %v", client.UserID, err)
		m.sendError(client, "", errors.BadRequest("Invalid message format", err))
		return
	}

	switch msg.Type {
	case MessageTypePing:
		m.send(client, ServerMessage{Type: MessageTypePong})

	case MessageTypeSubscribeConversations:
		m.subscribeConversations(client, msg)

	case MessageTypeSubscribeMessages:
		m.subscribeMessages(client, msg)

	case MessageTypeSubscribeUnread:
		m.subscribeUnread(client, msg)

	case MessageTypeUnsubscribe:
		if !client.untrack(msg.ID) {
			m.sendError(client, msg.ID, errors.NotFound("Subscription", nil))
		}

	default:
		m.sendError(client, msg.ID, errors.BadRequest("Unknown message type: "+msg.Type, nil))
	}
}

func (m *Manager) subscribeConversations(client *Client, msg ClientMessage) {
	if msg.ID == "" {
		m.sendError(client, "", errors.BadRequest("Subscription id is required", nil))
		return
	}

	var filters *usecase.ConversationFilters
	if msg.HasUnread || msg.ProductID != "" {
		filters = &usecase.ConversationFilters{HasUnread: msg.HasUnread, ProductID: msg.ProductID}
	}

	unsubscribe, err := m.queries.WatchUserConversations(client.ctx, client.UserID, filters, func(conversations []*entity.Conversation, err error) {
		if err != nil {
			m.sendError(client, msg.ID, err)
			return
		}
		m.send(client, ServerMessage{Type: MessageTypeConversations, ID: msg.ID, Data: conversations})
	})
	if err != nil {
		m.sendError(client, msg.ID, err)
		return
	}
	client.track(msg.ID, unsubscribe)
}

func (m *Manager) subscribeMessages(client *Client, msg ClientMessage) {
	if msg.ID == "" || msg.ConversationID == "" {
		m.sendError(client, msg.ID, errors.BadRequest("Subscription id and conversation_id are required", nil))
		return
	}

	if _, err := m.queries.GetConversation(client.ctx, msg.ConversationID, client.UserID); err != nil {
		m.sendError(client, msg.ID, err)
		return
	}

	pagination := usecase.MessagePagination{Limit: utils.ClampMessagePageSize(msg.Limit)}
	if msg.BeforeID != "" {
		cursor, err := m.queries.ResolveMessageCursor(client.ctx, msg.ConversationID, msg.BeforeID)
		if err != nil {
			m.sendError(client, msg.ID, err)
			return
		}
		pagination.Before = cursor
	}

	unsubscribe, err := m.queries.WatchConversationMessages(client.ctx, msg.ConversationID, pagination, func(page usecase.MessagePage, err error) {
		if err != nil {
			m.sendError(client, msg.ID, err)
			return
		}
		m.send(client, ServerMessage{Type: MessageTypeMessages, ID: msg.ID, Data: page})
	})
	if err != nil {
		m.sendError(client, msg.ID, err)
		return
	}
	client.track(msg.ID, unsubscribe)
}

func (m *Manager) subscribeUnread(client *Client, msg ClientMessage) {
	if msg.ID == "" {
		m.sendError(client, "", errors.BadRequest("Subscription id is required", nil))
		return
	}

	unsubscribe, err := m.queries.WatchTotalUnreadCount(client.ctx, client.UserID, func(total int, err error) {
		if err != nil {
			m.sendError(client, msg.ID, err)
			return
		}
		m.send(client, ServerMessage{Type: MessageTypeUnread, ID: msg.ID, Data: UnreadData{Total: total}})
	})
	if err != nil {
		m.sendError(client, msg.ID, err)
		return
	}
	client.track(msg.ID, unsubscribe)
}

// BroadcastEvent forwards a messaging event to the connections of the users
// it concerns.
func (m *Manager) BroadcastEvent(event entity.MessagingEvent) {
	frame, err := encode(ServerMessage{Type: MessageTypeEvent, Data: event})
	if err != nil {
		logger.Error("WebSocket: failed to encode %s event: %v", event.Type, err)
		return
	}
	for _, userID := range []string{event.ActorID, event.RecipientID} {
		if userID != "" {
			m.SendToUser(userID, frame)
		}
	}
}

func (m *Manager) send(client *Client, msg ServerMessage) {
	frame, err := encode(msg)
	if err != nil {
		logger.Error("WebSocket: failed to encode %s frame for %s: %v", msg.Type, client.UserID, err)
		return
	}
	client.enqueue(frame)
}

func (m *Manager) sendError(client *Client, id string, err error) {
	var appErr *errors.AppError
	code := errors.CodeInternal
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	m.send(client, ServerMessage{
		Type:  MessageTypeError,
		ID:    id,
		Error: &ErrorData{Code: code, Message: errors.Message(err)},
	})
}

func encode(msg ServerMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
