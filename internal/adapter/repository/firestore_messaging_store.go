package repository

import (
	"context"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/domain/repository"
	"swapmarket/pkg/errors"
	"swapmarket/pkg/logger"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

type firestoreMessagingStore struct {
	client *firestore.Client
}

// NewFirestoreMessagingStore stores conversations and messages as two
// top-level collections. Batches commit inside a Firestore transaction, so a
// single commit is bounded by Firestore's 500 writes limit.
func NewFirestoreMessagingStore(client *firestore.Client) repository.MessagingStore {
	return &firestoreMessagingStore{
		client: client,
	}
}

func (r *firestoreMessagingStore) conversations() *firestore.CollectionRef {
	return r.client.Collection(conversationsCollection)
}

func (r *firestoreMessagingStore) messages() *firestore.CollectionRef {
	return r.client.Collection(messagesCollection)
}

func (r *firestoreMessagingStore) NewConversationID() string {
	return uuid.New().String()
}

func (r *firestoreMessagingStore) NewMessageID() string {
	return uuid.New().String()
}

func (r *firestoreMessagingStore) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversations().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.StoreError("Failed to get conversation", err)
	}
	return decodeConversation(doc)
}

func (r *firestoreMessagingStore) conversationQuery(q repository.ConversationQuery) firestore.Query {
	query := r.conversations().Query
	if q.ParticipantID != "" {
		query = query.Where("participants", "array-contains", q.ParticipantID)
	}
	if q.ActiveOnly {
		query = query.Where("isActive", "==", true)
	}
	return query.OrderBy("updatedAt", firestore.Desc)
}

func (r *firestoreMessagingStore) QueryConversations(ctx context.Context, q repository.ConversationQuery) ([]*entity.Conversation, error) {
	docs, err := r.conversationQuery(q).Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while querying conversations for %s: %v", q.ParticipantID, err)
		return nil, errors.StoreError("Failed to query conversations", err)
	}
	return decodeConversations(docs)
}

func (r *firestoreMessagingStore) WatchConversations(ctx context.Context, q repository.ConversationQuery, listener repository.ConversationListener) (repository.Unsubscribe, error) {
	return watchQuery(ctx, r.conversationQuery(q), func(docs []*firestore.DocumentSnapshot, err error) {
		if err != nil {
			listener(nil, err)
			return
		}
		conversations, err := decodeConversations(docs)
		listener(conversations, err)
	}), nil
}

func (r *firestoreMessagingStore) GetMessage(ctx context.Context, id string) (*entity.Message, error) {
	doc, err := r.messages().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.StoreError("Failed to get message", err)
	}
	return decodeMessage(doc)
}

func (r *firestoreMessagingStore) messageQuery(q repository.MessageQuery) firestore.Query {
	query := r.messages().Where("conversationId", "==", q.ConversationID)
	if q.ReceiverID != "" {
		query = query.Where("receiverId", "==", q.ReceiverID)
	}
	if q.UnreadOnly {
		query = query.Where("isRead", "==", false)
	}

	direction := firestore.Asc
	if q.NewestFirst {
		direction = firestore.Desc
	}
	query = query.OrderBy("timestamp", direction).OrderBy(firestore.DocumentID, direction)

	if q.StartAfter != nil {
		query = query.StartAfter(q.StartAfter.Timestamp, r.messages().Doc(q.StartAfter.ID))
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

func (r *firestoreMessagingStore) QueryMessages(ctx context.Context, q repository.MessageQuery) ([]*entity.Message, error) {
	docs, err := r.messageQuery(q).Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while querying messages for conversation %s: %v", q.ConversationID, err)
		return nil, errors.StoreError("Failed to query messages", err)
	}
	return decodeMessages(docs)
}

func (r *firestoreMessagingStore) WatchMessages(ctx context.Context, q repository.MessageQuery, listener repository.MessageListener) (repository.Unsubscribe, error) {
	return watchQuery(ctx, r.messageQuery(q), func(docs []*firestore.DocumentSnapshot, err error) {
		if err != nil {
			listener(nil, err)
			return
		}
		messages, err := decodeMessages(docs)
		listener(messages, err)
	}), nil
}

// watchQuery follows the query's snapshot stream on its own goroutine until
// the returned Unsubscribe is called, ctx is done, or the stream fails.
func watchQuery(ctx context.Context, query firestore.Query, deliver func([]*firestore.DocumentSnapshot, error)) repository.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	it := query.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || err == iterator.Done || status.Code(err) == codes.Canceled {
					return
				}
				logger.Error("Firestore snapshot listener failed: %v", err)
				deliver(nil, errors.StoreError("Live query failed", err))
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				deliver(nil, errors.StoreError("Failed to read snapshot", err))
				continue
			}
			deliver(docs, nil)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

func (r *firestoreMessagingStore) Batch() repository.WriteBatch {
	return &firestoreWriteBatch{store: r}
}

type firestoreWriteBatch struct {
	store *firestoreMessagingStore
	ops   []func(tx *firestore.Transaction) error
}

func (b *firestoreWriteBatch) CreateConversation(conversation *entity.Conversation) {
	c := conversation.Clone()
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	ref := b.store.conversations().Doc(c.ID)
	b.ops = append(b.ops, func(tx *firestore.Transaction) error {
		return tx.Create(ref, c)
	})
}

func (b *firestoreWriteBatch) UpdateConversation(id string, update repository.ConversationUpdate) {
	ref := b.store.conversations().Doc(id)
	updates := conversationUpdates(update)
	b.ops = append(b.ops, func(tx *firestore.Transaction) error {
		return tx.Update(ref, updates)
	})
}

func (b *firestoreWriteBatch) CreateMessage(message *entity.Message) {
	m := message.Clone()
	ref := b.store.messages().Doc(m.ID)
	b.ops = append(b.ops, func(tx *firestore.Transaction) error {
		return tx.Create(ref, m)
	})
}

func (b *firestoreWriteBatch) UpdateMessage(id string, update repository.MessageUpdate) {
	ref := b.store.messages().Doc(id)
	var updates []firestore.Update
	if update.MarkRead {
		updates = append(updates,
			firestore.Update{Path: "isRead", Value: true},
			firestore.Update{Path: "readAt", Value: firestore.ServerTimestamp},
		)
	}
	if len(updates) == 0 {
		return
	}
	b.ops = append(b.ops, func(tx *firestore.Transaction) error {
		return tx.Update(ref, updates)
	})
}

func (b *firestoreWriteBatch) Size() int {
	return len(b.ops)
}

func (b *firestoreWriteBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	err := b.store.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, op := range b.ops {
			if err := op(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Document", err)
		}
		return errors.StoreError("Failed to commit batch", err)
	}
	return nil
}

func conversationUpdates(u repository.ConversationUpdate) []firestore.Update {
	updates := []firestore.Update{
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if u.LastMessage != nil {
		last := map[string]interface{}{
			"text":      u.LastMessage.Text,
			"senderId":  u.LastMessage.SenderID,
			"type":      string(u.LastMessage.Type),
			"timestamp": firestore.ServerTimestamp,
		}
		if !u.LastMessage.Timestamp.IsZero() {
			last["timestamp"] = u.LastMessage.Timestamp
		}
		updates = append(updates, firestore.Update{Path: "lastMessage", Value: last})
	}
	for userID, delta := range u.UnreadIncrements {
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{"unreadCount", userID},
			Value:     firestore.Increment(delta),
		})
	}
	for _, userID := range u.UnreadResets {
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{"unreadCount", userID},
			Value:     0,
		})
	}
	if u.IsActive != nil {
		updates = append(updates, firestore.Update{Path: "isActive", Value: *u.IsActive})
	}
	return updates
}

func decodeConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var c entity.Conversation
	if err := doc.DataTo(&c); err != nil {
		return nil, errors.StoreError("Failed to parse conversation data", err)
	}
	c.ID = doc.Ref.ID
	return &c, nil
}

func decodeConversations(docs []*firestore.DocumentSnapshot) ([]*entity.Conversation, error) {
	conversations := make([]*entity.Conversation, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeConversation(doc)
		if err != nil {
			logger.Warn("Skipping malformed conversation %s: %v", doc.Ref.ID, err)
			continue
		}
		conversations = append(conversations, c)
	}
	return conversations, nil
}

func decodeMessage(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var m entity.Message
	if err := doc.DataTo(&m); err != nil {
		return nil, errors.StoreError("Failed to parse message data", err)
	}
	m.ID = doc.Ref.ID
	return &m, nil
}

func decodeMessages(docs []*firestore.DocumentSnapshot) ([]*entity.Message, error) {
	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMessage(doc)
		if err != nil {
			logger.Warn("Skipping malformed message %s: %v", doc.Ref.ID, err)
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}
