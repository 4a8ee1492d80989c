package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/domain/repository"
	"swapmarket/pkg/errors"
)

// memoryMessagingStore keeps conversations and messages in process. It backs
// local development (STORE_DRIVER=memory) and the test suites.
//
// Listener deliveries are queued in commit order and run outside the data
// lock by whichever goroutine finds the queue idle. A listener may commit or
// watch again; its own deliveries run after it returns, on the same goroutine.
type memoryMessagingStore struct {
	mu sync.Mutex

	pending  []func()
	draining bool

	conversations map[string]*storedConversation
	messages      map[string]*storedMessage
	seq           int64
	lastCommit    time.Time
	now           func() time.Time

	convWatchers map[int64]*conversationWatcher
	msgWatchers  map[int64]*messageWatcher
	nextWatcher  int64

	commits    int
	failCommit error
}

type storedConversation struct {
	seq  int64
	data *entity.Conversation
}

type storedMessage struct {
	seq  int64
	data *entity.Message
}

type conversationWatcher struct {
	query    repository.ConversationQuery
	listener repository.ConversationListener
	closed   atomic.Bool
}

type messageWatcher struct {
	query    repository.MessageQuery
	listener repository.MessageListener
	closed   atomic.Bool
}

// MemoryStore exposes the test hooks of the in-memory store.
type MemoryStore interface {
	repository.MessagingStore
	CommitCount() int
	FailNextCommit(err error)
}

func NewMemoryMessagingStore() MemoryStore {
	return NewMemoryMessagingStoreWithClock(time.Now)
}

// NewMemoryMessagingStoreWithClock uses now as the server clock. Commit times
// are forced to be strictly increasing.
func NewMemoryMessagingStoreWithClock(now func() time.Time) MemoryStore {
	return &memoryMessagingStore{
		conversations: make(map[string]*storedConversation),
		messages:      make(map[string]*storedMessage),
		now:           now,
		convWatchers:  make(map[int64]*conversationWatcher),
		msgWatchers:   make(map[int64]*messageWatcher),
	}
}

func (s *memoryMessagingStore) NewConversationID() string {
	return uuid.New().String()
}

func (s *memoryMessagingStore) NewMessageID() string {
	return uuid.New().String()
}

func (s *memoryMessagingStore) CommitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// FailNextCommit makes the next Commit return a StoreError wrapping err
// without applying anything.
func (s *memoryMessagingStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

func (s *memoryMessagingStore) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("Failed to get conversation", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return c.data.Clone(), nil
}

func (s *memoryMessagingStore) QueryConversations(ctx context.Context, query repository.ConversationQuery) ([]*entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("Failed to query conversations", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectConversations(query), nil
}

func (s *memoryMessagingStore) WatchConversations(ctx context.Context, query repository.ConversationQuery, listener repository.ConversationListener) (repository.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("Failed to watch conversations", err)
	}
	w := &conversationWatcher{query: query, listener: listener}

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.convWatchers[id] = w
	initial := s.selectConversations(query)
	s.pending = append(s.pending, func() {
		if !w.closed.Load() {
			listener(initial, nil)
		}
	})
	s.mu.Unlock()

	s.dispatch()

	return s.unsubscriber(ctx, func() {
		w.closed.Store(true)
		delete(s.convWatchers, id)
	}), nil
}

func (s *memoryMessagingStore) GetMessage(ctx context.Context, id string) (*entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("Failed to get message", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return m.data.Clone(), nil
}

func (s *memoryMessagingStore) QueryMessages(ctx context.Context, query repository.MessageQuery) ([]*entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("Failed to query messages", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectMessages(query), nil
}

func (s *memoryMessagingStore) WatchMessages(ctx context.Context, query repository.MessageQuery, listener repository.MessageListener) (repository.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StoreError("Failed to watch messages", err)
	}
	w := &messageWatcher{query: query, listener: listener}

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.msgWatchers[id] = w
	initial := s.selectMessages(query)
	s.pending = append(s.pending, func() {
		if !w.closed.Load() {
			listener(initial, nil)
		}
	})
	s.mu.Unlock()

	s.dispatch()

	return s.unsubscriber(ctx, func() {
		w.closed.Store(true)
		delete(s.msgWatchers, id)
	}), nil
}

// unsubscriber runs remove under the data lock exactly once, either when the
// caller unsubscribes or when ctx is done.
func (s *memoryMessagingStore) unsubscriber(ctx context.Context, remove func()) repository.Unsubscribe {
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			remove()
			s.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}
}

// dispatch drains queued deliveries unless another call is already draining,
// in which case that call runs them. Nested calls from a listener return at
// once and the outer loop picks their deliveries up in order.
func (s *memoryMessagingStore) dispatch() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		deliver := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()
		deliver()
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *memoryMessagingStore) Batch() repository.WriteBatch {
	return &memoryWriteBatch{store: s}
}

// selectConversations must be called with s.mu held.
func (s *memoryMessagingStore) selectConversations(query repository.ConversationQuery) []*entity.Conversation {
	var matched []*storedConversation
	for _, c := range s.conversations {
		if query.ParticipantID != "" && !c.data.HasParticipant(query.ParticipantID) {
			continue
		}
		if query.ActiveOnly && !c.data.IsActive {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.data.UpdatedAt.Equal(b.data.UpdatedAt) {
			return a.data.UpdatedAt.After(b.data.UpdatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]*entity.Conversation, 0, len(matched))
	for _, c := range matched {
		out = append(out, c.data.Clone())
	}
	return out
}

// selectMessages must be called with s.mu held.
func (s *memoryMessagingStore) selectMessages(query repository.MessageQuery) []*entity.Message {
	var matched []*storedMessage
	for _, m := range s.messages {
		if m.data.ConversationID != query.ConversationID {
			continue
		}
		if query.ReceiverID != "" && m.data.ReceiverID != query.ReceiverID {
			continue
		}
		if query.UnreadOnly && m.data.IsRead {
			continue
		}
		matched = append(matched, m)
	}

	sort.Slice(matched, func(i, j int) bool {
		if query.NewestFirst {
			return messageBefore(matched[j], matched[i])
		}
		return messageBefore(matched[i], matched[j])
	})

	if query.StartAfter != nil {
		cursor := s.cursorPosition(query.StartAfter)
		start := len(matched)
		for i, m := range matched {
			if query.NewestFirst && messageBefore(m, cursor) || !query.NewestFirst && messageBefore(cursor, m) {
				start = i
				break
			}
		}
		matched = matched[start:]
	}

	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	out := make([]*entity.Message, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.data.Clone())
	}
	return out
}

// cursorPosition resolves the cursor to a sortable position. A cursor naming
// an unknown message sorts by timestamp alone.
func (s *memoryMessagingStore) cursorPosition(c *repository.MessageCursor) *storedMessage {
	if m, ok := s.messages[c.ID]; ok && m.data.Timestamp.Equal(c.Timestamp) {
		return m
	}
	return &storedMessage{seq: -1, data: &entity.Message{Timestamp: c.Timestamp}}
}

func messageBefore(a, b *storedMessage) bool {
	if !a.data.Timestamp.Equal(b.data.Timestamp) {
		return a.data.Timestamp.Before(b.data.Timestamp)
	}
	return a.seq < b.seq
}

// commitTime must be called with s.mu held.
func (s *memoryMessagingStore) commitTime() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastCommit) {
		t = s.lastCommit.Add(time.Microsecond)
	}
	s.lastCommit = t
	return t
}

type batchOp struct {
	createConversation *entity.Conversation
	createMessage      *entity.Message
	conversationID     string
	conversationUpdate *repository.ConversationUpdate
	messageID          string
	messageUpdate      *repository.MessageUpdate
}

type memoryWriteBatch struct {
	store *memoryMessagingStore
	ops   []batchOp
}

func (b *memoryWriteBatch) CreateConversation(conversation *entity.Conversation) {
	b.ops = append(b.ops, batchOp{createConversation: conversation.Clone()})
}

func (b *memoryWriteBatch) UpdateConversation(id string, update repository.ConversationUpdate) {
	b.ops = append(b.ops, batchOp{conversationID: id, conversationUpdate: &update})
}

func (b *memoryWriteBatch) CreateMessage(message *entity.Message) {
	b.ops = append(b.ops, batchOp{createMessage: message.Clone()})
}

func (b *memoryWriteBatch) UpdateMessage(id string, update repository.MessageUpdate) {
	b.ops = append(b.ops, batchOp{messageID: id, messageUpdate: &update})
}

func (b *memoryWriteBatch) Size() int {
	return len(b.ops)
}

func (b *memoryWriteBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.StoreError("Failed to commit batch", err)
	}

	s := b.store
	s.mu.Lock()
	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		s.mu.Unlock()
		return errors.StoreError("Failed to commit batch", err)
	}

	deliveries, err := b.apply()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pending = append(s.pending, deliveries...)
	s.mu.Unlock()

	s.dispatch()
	return nil
}

// apply stages every op against copies and only publishes them to the store
// when all ops succeeded. It returns the listener notifications to queue.
// Must be called with s.mu held.
func (b *memoryWriteBatch) apply() ([]func(), error) {
	s := b.store
	now := s.commitTime()

	stagedConvs := make(map[string]*storedConversation)
	stagedMsgs := make(map[string]*storedMessage)
	seq := s.seq

	conversation := func(id string) (*storedConversation, bool) {
		if c, ok := stagedConvs[id]; ok {
			return c, true
		}
		if c, ok := s.conversations[id]; ok {
			staged := &storedConversation{seq: c.seq, data: c.data.Clone()}
			stagedConvs[id] = staged
			return staged, true
		}
		return nil, false
	}
	message := func(id string) (*storedMessage, bool) {
		if m, ok := stagedMsgs[id]; ok {
			return m, true
		}
		if m, ok := s.messages[id]; ok {
			staged := &storedMessage{seq: m.seq, data: m.data.Clone()}
			stagedMsgs[id] = staged
			return staged, true
		}
		return nil, false
	}

	for _, op := range b.ops {
		switch {
		case op.createConversation != nil:
			c := op.createConversation
			if _, exists := conversation(c.ID); exists {
				return nil, errors.StoreError("Failed to commit batch", errAlreadyExists("conversation", c.ID))
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			if c.UpdatedAt.IsZero() {
				c.UpdatedAt = now
			}
			if c.LastMessage.Timestamp.IsZero() && c.LastMessage.Text != "" {
				c.LastMessage.Timestamp = now
			}
			if c.UnreadCount == nil {
				c.UnreadCount = make(map[string]int)
			}
			seq++
			stagedConvs[c.ID] = &storedConversation{seq: seq, data: c}

		case op.createMessage != nil:
			m := op.createMessage
			if _, exists := message(m.ID); exists {
				return nil, errors.StoreError("Failed to commit batch", errAlreadyExists("message", m.ID))
			}
			if m.Timestamp.IsZero() {
				m.Timestamp = now
			}
			seq++
			stagedMsgs[m.ID] = &storedMessage{seq: seq, data: m}

		case op.conversationUpdate != nil:
			c, ok := conversation(op.conversationID)
			if !ok {
				return nil, errors.NotFound("Conversation", nil)
			}
			applyConversationUpdate(c.data, op.conversationUpdate, now)

		case op.messageUpdate != nil:
			m, ok := message(op.messageID)
			if !ok {
				return nil, errors.NotFound("Message", nil)
			}
			if op.messageUpdate.MarkRead {
				readAt := now
				m.data.IsRead = true
				m.data.ReadAt = &readAt
			}
		}
	}

	touchedUsers := make(map[string]bool)
	touchedThreads := make(map[string]bool)
	for id, c := range stagedConvs {
		s.conversations[id] = c
		for _, p := range c.data.Participants {
			touchedUsers[p] = true
		}
	}
	for id, m := range stagedMsgs {
		s.messages[id] = m
		touchedThreads[m.data.ConversationID] = true
	}
	s.seq = seq
	s.commits++

	var deliveries []func()
	for _, w := range s.convWatchers {
		if w.query.ParticipantID != "" && !touchedUsers[w.query.ParticipantID] {
			continue
		}
		w, snapshot := w, s.selectConversations(w.query)
		deliveries = append(deliveries, func() {
			if !w.closed.Load() {
				w.listener(snapshot, nil)
			}
		})
	}
	for _, w := range s.msgWatchers {
		if !touchedThreads[w.query.ConversationID] {
			continue
		}
		w, snapshot := w, s.selectMessages(w.query)
		deliveries = append(deliveries, func() {
			if !w.closed.Load() {
				w.listener(snapshot, nil)
			}
		})
	}
	return deliveries, nil
}

func errAlreadyExists(kind, id string) error {
	return fmt.Errorf("%s %s already exists", kind, id)
}

func applyConversationUpdate(c *entity.Conversation, u *repository.ConversationUpdate, now time.Time) {
	if u.LastMessage != nil {
		last := *u.LastMessage
		if last.Timestamp.IsZero() {
			last.Timestamp = now
		}
		c.LastMessage = last
	}
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	for userID, delta := range u.UnreadIncrements {
		c.UnreadCount[userID] += delta
	}
	for _, userID := range u.UnreadResets {
		c.UnreadCount[userID] = 0
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
	c.UpdatedAt = now
}
