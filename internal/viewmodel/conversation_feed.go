package viewmodel

import (
	"context"
	"sort"
	"sync"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/domain/repository"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/errors"
	"swapmarket/pkg/logger"
)

type ConversationFeedState struct {
	Loading  bool
	Error    string
	Messages []*entity.Message
	HasMore  bool
}

// ConversationFeed is one open conversation. The newest page is live from
// Open; every LoadMoreMessages adds a live page of older messages anchored at
// the oldest message loaded so far.
type ConversationFeed struct {
	svc      Messaging
	pageSize int

	mu             sync.Mutex
	ctx            context.Context
	conversationID string
	readerID       string
	generation     int
	pages          int
	loaded         map[string]*entity.Message
	unsubs         []repository.Unsubscribe
	state          ConversationFeedState
	onChange       func(ConversationFeedState)
}

func NewConversationFeed(svc Messaging, pageSize int) *ConversationFeed {
	if pageSize <= 0 {
		pageSize = usecase.DefaultMessagePageSize
	}
	return &ConversationFeed{svc: svc, pageSize: pageSize}
}

func (f *ConversationFeed) OnChange(fn func(ConversationFeedState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

func (f *ConversationFeed) State() ConversationFeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

// Open shows conversationID for readerID, replacing whatever was open. An
// empty conversationID clears the feed.
func (f *ConversationFeed) Open(ctx context.Context, conversationID, readerID string) error {
	f.mu.Lock()
	previous := f.unsubs
	f.unsubs = nil
	f.generation++
	generation := f.generation
	f.ctx = ctx
	f.conversationID = conversationID
	f.readerID = readerID
	f.pages = 0
	f.loaded = make(map[string]*entity.Message)
	f.state = ConversationFeedState{HasMore: conversationID != ""}
	if conversationID != "" {
		f.pages = 1
		f.state.Loading = true
	}
	f.mu.Unlock()

	unsubscribeAll(previous)
	f.notify()

	if conversationID == "" {
		return nil
	}
	return f.watchPage(ctx, generation, conversationID, 0, nil)
}

// LoadMoreMessages pages backward from the oldest loaded message. It does
// nothing while a page is loading, when no older messages are expected or
// when nothing is loaded yet.
func (f *ConversationFeed) LoadMoreMessages() error {
	f.mu.Lock()
	if f.conversationID == "" || f.state.Loading || !f.state.HasMore || len(f.state.Messages) == 0 {
		f.mu.Unlock()
		return nil
	}
	oldest := f.state.Messages[0]
	index := f.pages
	f.pages++
	f.state.Loading = true
	generation := f.generation
	ctx := f.ctx
	conversationID := f.conversationID
	f.mu.Unlock()

	f.notify()
	return f.watchPage(ctx, generation, conversationID, index, oldest)
}

// MarkConversationAsRead marks the open conversation read for the reader.
// Failures are only logged.
func (f *ConversationFeed) MarkConversationAsRead(ctx context.Context) {
	f.mu.Lock()
	conversationID, readerID := f.conversationID, f.readerID
	f.mu.Unlock()
	if conversationID == "" || readerID == "" {
		return
	}

	if err := f.svc.MarkMessagesAsRead(ctx, conversationID, readerID); err != nil {
		logger.Warn("ConversationFeed: failed to mark %s as read: %v", conversationID, err)
	}
}

func (f *ConversationFeed) Dispose() {
	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.generation++
	f.mu.Unlock()

	unsubscribeAll(unsubs)
}

func (f *ConversationFeed) watchPage(ctx context.Context, generation int, conversationID string, index int, before *entity.Message) error {
	pagination := usecase.MessagePagination{Limit: f.pageSize, Before: before}
	unsubscribe, err := f.svc.WatchConversationMessages(ctx, conversationID, pagination, func(page usecase.MessagePage, err error) {
		f.update(generation, func() {
			f.state.Loading = false
			if err != nil {
				f.state.Error = errors.Message(err)
				return
			}
			f.state.Error = ""
			if index == f.pages-1 {
				f.state.HasMore = page.HasMore
			}
			f.state.Messages = mergeMessages(f.loaded, page.Messages)
		})
	})
	if err != nil {
		logger.Error("ConversationFeed: failed to watch %s: %v", conversationID, err)
		f.update(generation, func() {
			f.state.Loading = false
			f.state.Error = errors.Message(err)
			f.pages = index
		})
		return err
	}

	f.mu.Lock()
	if f.generation != generation {
		f.mu.Unlock()
		unsubscribe()
		return nil
	}
	f.unsubs = append(f.unsubs, unsubscribe)
	f.mu.Unlock()
	return nil
}

// mergeMessages upserts a delivered page into loaded and returns everything
// loaded, oldest first. Messages that slide out of the newest page as new ones
// arrive stay loaded.
func mergeMessages(loaded map[string]*entity.Message, page []*entity.Message) []*entity.Message {
	for _, m := range page {
		loaded[m.ID] = m
	}
	merged := make([]*entity.Message, 0, len(loaded))
	for _, m := range loaded {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

func (f *ConversationFeed) update(generation int, fn func()) {
	f.mu.Lock()
	if f.generation != generation {
		f.mu.Unlock()
		return
	}
	fn()
	f.mu.Unlock()
	f.notify()
}

func (f *ConversationFeed) notify() {
	f.mu.Lock()
	fn := f.onChange
	state := f.snapshot()
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// snapshot must be called with f.mu held.
func (f *ConversationFeed) snapshot() ConversationFeedState {
	s := f.state
	s.Messages = append([]*entity.Message(nil), f.state.Messages...)
	return s
}
