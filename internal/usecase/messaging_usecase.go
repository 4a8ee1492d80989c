package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/domain/repository"
	"swapmarket/pkg/errors"
	"swapmarket/pkg/logger"
	"swapmarket/pkg/metrics"
)

const DefaultMessagePageSize = 50

// MessagingUseCase is the only component allowed to mutate conversations and
// messages. Every multi-record write goes through a single store batch.
type MessagingUseCase struct {
	store    repository.MessagingStore
	users    repository.UserRepository
	products repository.ProductRepository
	identity IdentityProvider
	events   EventPublisher
	pageSize int
}

func NewMessagingUseCase(
	store repository.MessagingStore,
	users repository.UserRepository,
	products repository.ProductRepository,
	identity IdentityProvider,
	events EventPublisher,
) *MessagingUseCase {
	if events == nil {
		events = NopPublisher()
	}
	return &MessagingUseCase{
		store:    store,
		users:    users,
		products: products,
		identity: identity,
		events:   events,
		pageSize: DefaultMessagePageSize,
	}
}

// SetDefaultPageSize changes the page size used when a pagination request
// carries no limit.
func (uc *MessagingUseCase) SetDefaultPageSize(n int) {
	if n > 0 {
		uc.pageSize = n
	}
}

type CreateConversationInput struct {
	InitiatorID    string
	ParticipantID  string
	ProductID      string
	InitialMessage string
}

type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Text           string
	Type           entity.MessageType
	ProductInfo    *entity.MessageProductInfo
	SystemData     *entity.SystemData
}

type ContactSellerInput struct {
	BuyerID   string
	ProductID string
	Message   string
}

// ConversationFilters are applied client-side on top of the participant +
// active query.
type ConversationFilters struct {
	HasUnread bool
	ProductID string
}

// MessagePagination selects a page of messages. Before is the cursor message
// to page backward from; nil means the newest page.
type MessagePagination struct {
	Limit  int
	Before *entity.Message
}

// MessagePage holds messages in ascending timestamp order. HasMore is true
// whenever the page is full, which can be a false positive when exactly
// Limit messages remain.
type MessagePage struct {
	Messages []*entity.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

type ConversationsListener func(conversations []*entity.Conversation, err error)

type MessagePageListener func(page MessagePage, err error)

type UnreadCountListener func(total int, err error)

func (uc *MessagingUseCase) CreateConversation(ctx context.Context, input CreateConversationInput) (conversationID string, err error) {
	defer observe("create_conversation", time.Now(), &err)

	if err = uc.authorize(ctx, input.InitiatorID); err != nil {
		logger.Warn("CreateConversation Error: initiator %q not authenticated", input.InitiatorID)
		return "", err
	}
	if input.ParticipantID == "" {
		return "", errors.InvariantViolation("Participant is required")
	}
	if input.InitiatorID == input.ParticipantID {
		return "", errors.InvariantViolation("You cannot start a conversation with yourself")
	}
	if strings.TrimSpace(input.InitialMessage) == "" {
		return "", errors.InvariantViolation("Initial message is required")
	}

	existing, err := uc.findExistingConversation(ctx, input.InitiatorID, input.ParticipantID, input.ProductID)
	if err != nil {
		logger.Error("CreateConversation Error: failed to search for existing conversation: %v", err)
		return "", err
	}
	if existing != nil {
		logger.Debug("CreateConversation: reusing conversation %s for %s and %s", existing.ID, input.InitiatorID, input.ParticipantID)
		return existing.ID, nil
	}

	participants := []string{input.InitiatorID, input.ParticipantID}

	message := &entity.Message{
		ID:         uc.store.NewMessageID(),
		SenderID:   input.InitiatorID,
		ReceiverID: input.ParticipantID,
		Text:       input.InitialMessage,
		Type:       entity.MessageTypeText,
		IsRead:     false,
	}
	conversation := &entity.Conversation{
		ID:               uc.store.NewConversationID(),
		Participants:     participants,
		ParticipantsInfo: uc.participantSnapshots(ctx, participants),
		ProductID:        input.ProductID,
		ProductInfo:      uc.productSnapshot(ctx, input.ProductID),
		LastMessage:      message.Summary(),
		UnreadCount: map[string]int{
			input.InitiatorID:   0,
			input.ParticipantID: 1,
		},
		IsActive: true,
	}
	message.ConversationID = conversation.ID

	batch := uc.store.Batch()
	batch.CreateConversation(conversation)
	batch.CreateMessage(message)
	if err = batch.Commit(ctx); err != nil {
		logger.Error("CreateConversation Error: failed to commit conversation %s: %v", conversation.ID, err)
		return "", err
	}

	logger.Info("Conversation created: %s", conversation.ID)
	uc.publish(ctx, entity.MessagingEvent{
		Type:           entity.EventConversationCreated,
		ConversationID: conversation.ID,
		MessageID:      message.ID,
		ActorID:        input.InitiatorID,
		RecipientID:    input.ParticipantID,
	})
	return conversation.ID, nil
}

// ContactSeller opens (or reuses) the conversation between a buyer and the
// owner of a listing, greeting the owner with a default message when none is
// given.
func (uc *MessagingUseCase) ContactSeller(ctx context.Context, input ContactSellerInput) (string, error) {
	if err := uc.authorize(ctx, input.BuyerID); err != nil {
		return "", err
	}

	product, err := uc.products.GetByID(ctx, input.ProductID)
	if err != nil {
		logger.Warn("ContactSeller Error: product %s not found: %v", input.ProductID, err)
		return "", err
	}
	if product.UserID == input.BuyerID {
		return "", errors.InvariantViolation("You cannot contact yourself about your own product")
	}

	message := input.Message
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Hi, I'm interested in your product %q. Is it still available?", product.Title)
	}

	return uc.CreateConversation(ctx, CreateConversationInput{
		InitiatorID:    input.BuyerID,
		ParticipantID:  product.UserID,
		ProductID:      product.ID,
		InitialMessage: message,
	})
}

func (uc *MessagingUseCase) SendMessage(ctx context.Context, input SendMessageInput) (messageID string, err error) {
	defer observe("send_message", time.Now(), &err)

	if err = uc.authorize(ctx, input.SenderID); err != nil {
		return "", err
	}
	if input.Type == "" {
		input.Type = entity.MessageTypeText
	}
	if !input.Type.Valid() {
		return "", errors.InvariantViolation(fmt.Sprintf("Unknown message type %q", input.Type))
	}
	if input.Type == entity.MessageTypeText && strings.TrimSpace(input.Text) == "" {
		return "", errors.InvariantViolation("Message text is required")
	}

	conversation, err := uc.store.GetConversation(ctx, input.ConversationID)
	if err != nil {
		logger.Warn("SendMessage Error: conversation %s: %v", input.ConversationID, err)
		return "", err
	}
	if !conversation.HasParticipant(input.SenderID) {
		logger.Warn("SendMessage Error: user %s is not a participant in conversation %s", input.SenderID, input.ConversationID)
		return "", errors.InvariantViolation("Sender is not a participant in this conversation")
	}
	receiverID := conversation.OtherParticipant(input.SenderID)
	if receiverID == "" {
		return "", errors.InvariantViolation("Conversation has no receiver")
	}

	message := &entity.Message{
		ID:             uc.store.NewMessageID(),
		ConversationID: conversation.ID,
		SenderID:       input.SenderID,
		ReceiverID:     receiverID,
		Text:           input.Text,
		Type:           input.Type,
		IsRead:         false,
		ProductInfo:    input.ProductInfo,
		SystemData:     input.SystemData,
	}
	summary := message.Summary()

	batch := uc.store.Batch()
	batch.CreateMessage(message)
	batch.UpdateConversation(conversation.ID, repository.ConversationUpdate{
		LastMessage:      &summary,
		UnreadIncrements: map[string]int{receiverID: 1},
	})
	if err = batch.Commit(ctx); err != nil {
		logger.Error("SendMessage Error: failed to commit message for conversation %s: %v", conversation.ID, err)
		return "", err
	}

	uc.publish(ctx, entity.MessagingEvent{
		Type:           entity.EventMessageSent,
		ConversationID: conversation.ID,
		MessageID:      message.ID,
		ActorID:        input.SenderID,
		RecipientID:    receiverID,
	})
	return message.ID, nil
}

// MarkMessagesAsRead flips every unread message addressed to readerID and
// resets the reader's counter in one batch. No unread messages is a no-op.
func (uc *MessagingUseCase) MarkMessagesAsRead(ctx context.Context, conversationID, readerID string) (err error) {
	defer observe("mark_messages_read", time.Now(), &err)

	if err = uc.authorize(ctx, readerID); err != nil {
		return err
	}

	unread, err := uc.store.QueryMessages(ctx, repository.MessageQuery{
		ConversationID: conversationID,
		ReceiverID:     readerID,
		UnreadOnly:     true,
	})
	if err != nil {
		logger.Error("MarkMessagesAsRead Error: failed to query unread messages for %s: %v", conversationID, err)
		return err
	}
	if len(unread) == 0 {
		return nil
	}

	batch := uc.store.Batch()
	for _, m := range unread {
		batch.UpdateMessage(m.ID, repository.MessageUpdate{MarkRead: true})
	}
	batch.UpdateConversation(conversationID, repository.ConversationUpdate{
		UnreadResets: []string{readerID},
	})
	if err = batch.Commit(ctx); err != nil {
		logger.Error("MarkMessagesAsRead Error: failed to commit %d read flags for %s: %v", len(unread), conversationID, err)
		return err
	}

	uc.publish(ctx, entity.MessagingEvent{
		Type:           entity.EventMessagesRead,
		ConversationID: conversationID,
		ActorID:        readerID,
		Count:          len(unread),
	})
	return nil
}

// DeleteConversation soft deletes: the conversation is deactivated and its
// messages are left alone. Deleting twice is harmless.
func (uc *MessagingUseCase) DeleteConversation(ctx context.Context, conversationID string) (err error) {
	defer observe("delete_conversation", time.Now(), &err)

	userID, ok := uc.identity.CurrentUserID(ctx)
	if !ok || userID == "" {
		return errors.Unauthenticated("User not authenticated")
	}

	conversation, err := uc.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(userID) {
		return errors.InvariantViolation("User is not a participant in this conversation")
	}

	inactive := false
	batch := uc.store.Batch()
	batch.UpdateConversation(conversationID, repository.ConversationUpdate{IsActive: &inactive})
	if err = batch.Commit(ctx); err != nil {
		logger.Error("DeleteConversation Error: failed to deactivate %s: %v", conversationID, err)
		return err
	}

	logger.Info("Conversation deactivated: %s", conversationID)
	uc.publish(ctx, entity.MessagingEvent{
		Type:           entity.EventConversationDeleted,
		ConversationID: conversationID,
		ActorID:        userID,
	})
	return nil
}

// GetConversation returns the conversation when userID takes part in it.
// Conversations of other users are reported as not found.
func (uc *MessagingUseCase) GetConversation(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	conversation, err := uc.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conversation, nil
}

// ResolveMessageCursor loads the message a client wants to page backward
// from. It must belong to conversationID.
func (uc *MessagingUseCase) ResolveMessageCursor(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	message, err := uc.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.ConversationID != conversationID {
		return nil, errors.NotFound("Message", nil)
	}
	return message, nil
}

func (uc *MessagingUseCase) ListUserConversations(ctx context.Context, userID string, filters *ConversationFilters) ([]*entity.Conversation, error) {
	conversations, err := uc.store.QueryConversations(ctx, activeConversationsOf(userID))
	if err != nil {
		return nil, err
	}
	return applyConversationFilters(conversations, userID, filters), nil
}

// WatchUserConversations delivers the user's active conversations, newest
// activity first, now and after every change until unsubscribed.
func (uc *MessagingUseCase) WatchUserConversations(ctx context.Context, userID string, filters *ConversationFilters, listener ConversationsListener) (repository.Unsubscribe, error) {
	unsubscribe, err := uc.store.WatchConversations(ctx, activeConversationsOf(userID), func(conversations []*entity.Conversation, err error) {
		if err != nil {
			listener(nil, err)
			return
		}
		listener(applyConversationFilters(conversations, userID, filters), nil)
	})
	if err != nil {
		return nil, err
	}
	return trackSubscription("conversations", unsubscribe), nil
}

func (uc *MessagingUseCase) ListConversationMessages(ctx context.Context, conversationID string, pagination MessagePagination) (MessagePage, error) {
	query, limit := uc.pageQuery(conversationID, pagination)
	messages, err := uc.store.QueryMessages(ctx, query)
	if err != nil {
		return MessagePage{}, err
	}
	return toMessagePage(messages, limit), nil
}

// WatchConversationMessages keeps one page of messages live. The page is the
// newest Limit messages older than pagination.Before, delivered ascending.
func (uc *MessagingUseCase) WatchConversationMessages(ctx context.Context, conversationID string, pagination MessagePagination, listener MessagePageListener) (repository.Unsubscribe, error) {
	query, limit := uc.pageQuery(conversationID, pagination)
	unsubscribe, err := uc.store.WatchMessages(ctx, query, func(messages []*entity.Message, err error) {
		if err != nil {
			listener(MessagePage{}, err)
			return
		}
		listener(toMessagePage(messages, limit), nil)
	})
	if err != nil {
		return nil, err
	}
	return trackSubscription("messages", unsubscribe), nil
}

func (uc *MessagingUseCase) GetTotalUnreadCount(ctx context.Context, userID string) (int, error) {
	conversations, err := uc.store.QueryConversations(ctx, activeConversationsOf(userID))
	if err != nil {
		return 0, err
	}
	return totalUnread(conversations, userID), nil
}

func (uc *MessagingUseCase) WatchTotalUnreadCount(ctx context.Context, userID string, listener UnreadCountListener) (repository.Unsubscribe, error) {
	unsubscribe, err := uc.store.WatchConversations(ctx, activeConversationsOf(userID), func(conversations []*entity.Conversation, err error) {
		if err != nil {
			listener(0, err)
			return
		}
		listener(totalUnread(conversations, userID), nil)
	})
	if err != nil {
		return nil, err
	}
	return trackSubscription("unread", unsubscribe), nil
}

// authorize requires a resolved identity equal to actingUserID.
func (uc *MessagingUseCase) authorize(ctx context.Context, actingUserID string) error {
	current, ok := uc.identity.CurrentUserID(ctx)
	if !ok || current == "" {
		return errors.Unauthenticated("User not authenticated")
	}
	if actingUserID == "" || current != actingUserID {
		return errors.Unauthenticated("Authenticated user does not match the acting user")
	}
	return nil
}

// findExistingConversation returns the first active conversation shared by
// both users. With a productID only a conversation anchored to that product
// matches; without one any shared conversation does.
func (uc *MessagingUseCase) findExistingConversation(ctx context.Context, userID1, userID2, productID string) (*entity.Conversation, error) {
	conversations, err := uc.store.QueryConversations(ctx, activeConversationsOf(userID1))
	if err != nil {
		return nil, err
	}
	for _, c := range conversations {
		if !c.HasParticipant(userID2) {
			continue
		}
		if productID == "" || c.ProductID == productID {
			return c, nil
		}
	}
	return nil, nil
}

// participantSnapshots never fails: unresolvable users get a placeholder.
func (uc *MessagingUseCase) participantSnapshots(ctx context.Context, userIDs []string) map[string]entity.ParticipantInfo {
	info := make(map[string]entity.ParticipantInfo, len(userIDs))
	for _, id := range userIDs {
		user, err := uc.users.GetByID(ctx, id)
		if err != nil {
			logger.Warn("CreateConversation Warning: user %s could not be resolved: %v", id, err)
			info[id] = entity.PlaceholderParticipant()
			continue
		}
		info[id] = user.Snapshot()
	}
	return info
}

// productSnapshot returns nil when there is no product or it cannot be read.
func (uc *MessagingUseCase) productSnapshot(ctx context.Context, productID string) *entity.ProductInfo {
	if productID == "" {
		return nil
	}
	product, err := uc.products.GetByID(ctx, productID)
	if err != nil {
		logger.Warn("CreateConversation Warning: product %s could not be resolved: %v", productID, err)
		return nil
	}
	return product.Snapshot()
}

func (uc *MessagingUseCase) pageQuery(conversationID string, pagination MessagePagination) (repository.MessageQuery, int) {
	limit := pagination.Limit
	if limit <= 0 {
		limit = uc.pageSize
	}
	query := repository.MessageQuery{
		ConversationID: conversationID,
		NewestFirst:    true,
		Limit:          limit,
	}
	if pagination.Before != nil {
		query.StartAfter = &repository.MessageCursor{
			Timestamp: pagination.Before.Timestamp,
			ID:        pagination.Before.ID,
		}
	}
	return query, limit
}

func (uc *MessagingUseCase) publish(ctx context.Context, event entity.MessagingEvent) {
	event.OccurredAt = time.Now().UTC()
	if err := uc.events.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish %s for conversation %s: %v", event.Type, event.ConversationID, err)
	}
}

func activeConversationsOf(userID string) repository.ConversationQuery {
	return repository.ConversationQuery{ParticipantID: userID, ActiveOnly: true}
}

func applyConversationFilters(conversations []*entity.Conversation, userID string, filters *ConversationFilters) []*entity.Conversation {
	if filters == nil || (!filters.HasUnread && filters.ProductID == "") {
		return conversations
	}
	out := make([]*entity.Conversation, 0, len(conversations))
	for _, c := range conversations {
		if filters.HasUnread && c.UnreadFor(userID) == 0 {
			continue
		}
		if filters.ProductID != "" && c.ProductID != filters.ProductID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// toMessagePage reverses a newest-first result into display order.
func toMessagePage(newestFirst []*entity.Message, limit int) MessagePage {
	messages := make([]*entity.Message, len(newestFirst))
	for i, m := range newestFirst {
		messages[len(newestFirst)-1-i] = m
	}
	return MessagePage{
		Messages: messages,
		HasMore:  len(messages) == limit,
	}
}

func totalUnread(conversations []*entity.Conversation, userID string) int {
	total := 0
	for _, c := range conversations {
		total += c.UnreadFor(userID)
	}
	return total
}

func trackSubscription(kind string, unsubscribe repository.Unsubscribe) repository.Unsubscribe {
	gauge := metrics.ActiveSubscriptions.WithLabelValues(kind)
	gauge.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			gauge.Dec()
		})
	}
}

func observe(operation string, start time.Time, err *error) {
	metrics.ObserveOperation(operation, start, *err)
}
