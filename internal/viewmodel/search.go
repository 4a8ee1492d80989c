package viewmodel

import (
	"strings"
	"time"

	"swapmarket/internal/domain/entity"
)

// DateRange bounds a conversation's last activity, both ends inclusive. A
// zero end is open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

type SearchFilters struct {
	HasUnread       bool
	ProductID       string
	ParticipantName string
	DateRange       *DateRange
}

// FilterConversations narrows an already loaded inbox. The term matches,
// case-insensitively, any participant name, the last message text or the
// product title. HasUnread needs currentUserID; without it nothing matches.
func FilterConversations(conversations []*entity.Conversation, term string, filters SearchFilters, currentUserID string) []*entity.Conversation {
	term = strings.ToLower(strings.TrimSpace(term))
	participantName := strings.ToLower(strings.TrimSpace(filters.ParticipantName))

	out := make([]*entity.Conversation, 0, len(conversations))
	for _, c := range conversations {
		if term != "" && !matchesTerm(c, term) {
			continue
		}
		if filters.HasUnread && (currentUserID == "" || c.UnreadFor(currentUserID) == 0) {
			continue
		}
		if filters.ProductID != "" && c.ProductID != filters.ProductID {
			continue
		}
		if participantName != "" && !matchesOtherParticipant(c, participantName, currentUserID) {
			continue
		}
		if filters.DateRange != nil && !filters.DateRange.contains(c.UpdatedAt) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func matchesTerm(c *entity.Conversation, term string) bool {
	for _, info := range c.ParticipantsInfo {
		if strings.Contains(strings.ToLower(info.Name), term) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(c.LastMessage.Text), term) {
		return true
	}
	return c.ProductInfo != nil && strings.Contains(strings.ToLower(c.ProductInfo.Title), term)
}

func matchesOtherParticipant(c *entity.Conversation, name, currentUserID string) bool {
	for id, info := range c.ParticipantsInfo {
		if id == currentUserID {
			continue
		}
		if strings.Contains(strings.ToLower(info.Name), name) {
			return true
		}
	}
	return false
}
