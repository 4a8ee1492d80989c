package viewmodel

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memrepo "swapmarket/internal/adapter/repository"
	"swapmarket/internal/domain/entity"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/errors"
)

type harness struct {
	svc   *usecase.MessagingUseCase
	store memrepo.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memrepo.NewMemoryMessagingStoreWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	users := memrepo.NewMemoryUserRepository(
		&entity.User{ID: "alice", DisplayName: "Alice"},
		&entity.User{ID: "bob", DisplayName: "Bob"},
	)
	products := memrepo.NewMemoryProductRepository(
		&entity.Product{ID: "bike", Title: "Blue bike", UserID: "bob"},
	)
	svc := usecase.NewMessagingUseCase(store, users, products, usecase.ContextIdentity(), nil)
	return &harness{svc: svc, store: store}
}

func as(userID string) context.Context {
	return usecase.WithUserID(context.Background(), userID)
}

func (h *harness) conversation(t *testing.T, from, to string, messages ...string) string {
	t.Helper()
	id, err := h.svc.CreateConversation(as(from), usecase.CreateConversationInput{
		InitiatorID: from, ParticipantID: to, InitialMessage: "m1",
	})
	require.NoError(t, err)
	for _, text := range messages {
		_, err := h.svc.SendMessage(as(from), usecase.SendMessageInput{ConversationID: id, SenderID: from, Text: text})
		require.NoError(t, err)
	}
	return id
}

func messageTexts(messages []*entity.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text)
	}
	return out
}

func TestConversationListFollowsInbox(t *testing.T) {
	h := newHarness(t)
	list := NewConversationList(h.svc)

	var states []ConversationListState
	list.OnChange(func(s ConversationListState) { states = append(states, s) })

	require.NoError(t, list.Subscribe(as("bob"), "bob"))
	assert.True(t, states[0].Loading)
	assert.False(t, list.State().Loading)
	assert.Empty(t, list.State().Conversations)

	id := h.conversation(t, "alice", "bob", "m2")

	state := list.State()
	require.Len(t, state.Conversations, 1)
	assert.Equal(t, id, state.Conversations[0].ID)
	assert.Equal(t, 2, state.TotalUnread)

	list.MarkAsRead(as("bob"), id)
	assert.Equal(t, 0, list.State().TotalUnread)
	assert.Empty(t, list.State().Error)

	list.Dispose()
	h.conversation(t, "bob", "alice")
	assert.Equal(t, 0, list.State().TotalUnread)
}

func TestConversationListIdentityChangeDropsPreviousUser(t *testing.T) {
	h := newHarness(t)
	list := NewConversationList(h.svc)

	require.NoError(t, list.Subscribe(as("alice"), "alice"))
	h.conversation(t, "alice", "bob")
	require.Len(t, list.State().Conversations, 1)

	require.NoError(t, list.Subscribe(as("carol"), "carol"))
	assert.Empty(t, list.State().Conversations)

	h.conversation(t, "bob", "alice", "again")
	assert.Empty(t, list.State().Conversations)
	assert.Zero(t, list.State().TotalUnread)

	require.NoError(t, list.Subscribe(context.Background(), ""))
	assert.False(t, list.State().Loading)
}

func TestConversationListMutationsRecordErrors(t *testing.T) {
	h := newHarness(t)
	list := NewConversationList(h.svc)

	_, err := list.CreateConversation(as("alice"), "bob", "", "hi")
	assert.True(t, errors.Is(err, errors.CodeUnauthenticated))
	assert.NotEmpty(t, list.State().Error)

	require.NoError(t, list.Subscribe(as("alice"), "alice"))

	_, err = list.CreateConversation(as("alice"), "alice", "", "hi")
	assert.True(t, errors.Is(err, errors.CodeInvariantViolation))
	assert.Equal(t, "You cannot start a conversation with yourself", list.State().Error)

	id, err := list.CreateConversation(as("alice"), "bob", "bike", "hi")
	require.NoError(t, err)
	assert.Empty(t, list.State().Error)

	_, err = list.SendMessage(as("alice"), id, "", entity.MessageTypeText)
	assert.Error(t, err)
	assert.NotEmpty(t, list.State().Error)

	_, err = list.SendMessage(as("alice"), id, "hello again", "")
	require.NoError(t, err)

	list.MarkAsRead(as("alice"), id)
	assert.Empty(t, list.State().Error)

	err = list.DeleteConversation(as("alice"), "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
	assert.NotEmpty(t, list.State().Error)

	require.NoError(t, list.DeleteConversation(as("alice"), id))
	assert.Empty(t, list.State().Conversations)
}

func TestConversationListMarkAsReadKeepsErrorInState(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "alice", "bob")

	list := NewConversationList(h.svc)
	require.NoError(t, list.Subscribe(as("bob"), "bob"))

	h.store.FailNextCommit(stderrors.New("offline"))
	list.MarkAsRead(as("bob"), id)
	assert.NotEmpty(t, list.State().Error)
	assert.Equal(t, 1, list.State().TotalUnread)
}

func TestConversationFeedPagesBackward(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "alice", "bob", "m2", "m3", "m4", "m5")

	feed := NewConversationFeed(h.svc, 2)
	require.NoError(t, feed.Open(as("bob"), id, "bob"))

	state := feed.State()
	assert.Equal(t, []string{"m4", "m5"}, messageTexts(state.Messages))
	assert.True(t, state.HasMore)
	assert.False(t, state.Loading)

	require.NoError(t, feed.LoadMoreMessages())
	assert.Equal(t, []string{"m2", "m3", "m4", "m5"}, messageTexts(feed.State().Messages))

	require.NoError(t, feed.LoadMoreMessages())
	state = feed.State()
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, messageTexts(state.Messages))
	assert.False(t, state.HasMore)

	require.NoError(t, feed.LoadMoreMessages())
	assert.Len(t, feed.State().Messages, 5)

	_, err := h.svc.SendMessage(as("bob"), usecase.SendMessageInput{ConversationID: id, SenderID: "bob", Text: "reply"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "reply"}, messageTexts(feed.State().Messages))

	feed.Dispose()
	_, err = h.svc.SendMessage(as("bob"), usecase.SendMessageInput{ConversationID: id, SenderID: "bob", Text: "unseen"})
	require.NoError(t, err)
	assert.Equal(t, "reply", feed.State().Messages[len(feed.State().Messages)-1].Text)
}

func TestConversationFeedMarkConversationAsRead(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "alice", "bob", "m2")

	feed := NewConversationFeed(h.svc, 0)
	feed.MarkConversationAsRead(as("bob"))

	require.NoError(t, feed.Open(as("bob"), id, "bob"))
	assert.False(t, feed.State().HasMore)

	feed.MarkConversationAsRead(as("bob"))
	for _, m := range feed.State().Messages {
		assert.True(t, m.IsRead, m.Text)
	}

	h.store.FailNextCommit(stderrors.New("offline"))
	feed.MarkConversationAsRead(as("bob"))
	assert.Empty(t, feed.State().Error)
}

// returnsWithin fails the test if fn has not returned after two seconds.
func returnsWithin(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not return", what)
	}
}

func TestConversationFeedOnChangeMarksIncomingAsRead(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "alice", "bob", "m2")

	feed := NewConversationFeed(h.svc, 10)
	feed.OnChange(func(s ConversationFeedState) {
		for _, m := range s.Messages {
			if m.ReceiverID == "bob" && !m.IsRead {
				feed.MarkConversationAsRead(as("bob"))
				return
			}
		}
	})

	var openErr, sendErr error
	returnsWithin(t, "Open", func() { openErr = feed.Open(as("bob"), id, "bob") })
	require.NoError(t, openErr)

	returnsWithin(t, "SendMessage", func() {
		_, sendErr = h.svc.SendMessage(as("alice"), usecase.SendMessageInput{ConversationID: id, SenderID: "alice", Text: "m3"})
	})
	require.NoError(t, sendErr)

	state := feed.State()
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageTexts(state.Messages))
	for _, m := range state.Messages {
		assert.True(t, m.IsRead, m.Text)
	}
	total, err := h.svc.GetTotalUnreadCount(as("bob"), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestConversationFeedOnChangeLoadsMoreUntilExhausted(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "alice", "bob", "m2", "m3", "m4", "m5")

	feed := NewConversationFeed(h.svc, 2)
	feed.OnChange(func(s ConversationFeedState) {
		if !s.Loading && s.HasMore {
			_ = feed.LoadMoreMessages()
		}
	})

	var openErr error
	returnsWithin(t, "Open", func() { openErr = feed.Open(as("bob"), id, "bob") })
	require.NoError(t, openErr)

	state := feed.State()
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, messageTexts(state.Messages))
	assert.False(t, state.HasMore)
	assert.False(t, state.Loading)
}

func TestConversationFeedOpenEmptyClears(t *testing.T) {
	h := newHarness(t)
	id := h.conversation(t, "alice", "bob")

	feed := NewConversationFeed(h.svc, 10)
	require.NoError(t, feed.Open(as("bob"), id, "bob"))
	require.Len(t, feed.State().Messages, 1)

	require.NoError(t, feed.Open(as("bob"), "", "bob"))
	assert.Empty(t, feed.State().Messages)
	assert.False(t, feed.State().HasMore)
	require.NoError(t, feed.LoadMoreMessages())
}

func TestMergeMessagesUpsertsByID(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := func(id string, offset int) *entity.Message {
		return &entity.Message{ID: id, Text: id, Timestamp: base.Add(time.Duration(offset) * time.Minute)}
	}

	loaded := make(map[string]*entity.Message)
	mergeMessages(loaded, []*entity.Message{msg("c", 3), msg("d", 4)})
	mergeMessages(loaded, []*entity.Message{msg("a", 1), msg("b", 2)})

	read := msg("c", 3)
	read.IsRead = true
	merged := mergeMessages(loaded, []*entity.Message{read, msg("e", 5)})

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, messageTexts(merged))
	assert.True(t, merged[2].IsRead)
}

func TestTypingStatus(t *testing.T) {
	typing := NewTypingStatus("c1")
	assert.False(t, typing.IsTyping())

	typing.StartTyping()
	assert.True(t, typing.IsTyping())
	assert.False(t, typing.OtherUserTyping())

	typing.StopTyping()
	assert.False(t, typing.IsTyping())
}
