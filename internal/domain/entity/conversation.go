package entity

import "time"

// ParticipantInfo is a snapshot of a user's profile captured when the
// conversation is created. It is not kept in sync with the directory.
type ParticipantInfo struct {
	Name   string `json:"name" firestore:"name"`
	Email  string `json:"email" firestore:"email"`
	Avatar string `json:"avatar,omitempty" firestore:"avatar,omitempty"`
}

// ProductInfo is the listing snapshot anchoring a conversation.
type ProductInfo struct {
	ID     string   `json:"id" firestore:"id"`
	Title  string   `json:"title" firestore:"title"`
	Images []string `json:"images" firestore:"images"`
	Price  *float64 `json:"price,omitempty" firestore:"price,omitempty"`
}

// LastMessage mirrors the most recently committed message of a conversation.
// A zero Timestamp is filled with the commit time by the store.
type LastMessage struct {
	Text      string      `json:"text" firestore:"text"`
	SenderID  string      `json:"sender_id" firestore:"senderId"`
	Timestamp time.Time   `json:"timestamp" firestore:"timestamp,serverTimestamp"`
	Type      MessageType `json:"type" firestore:"type"`
}

type Conversation struct {
	ID               string                     `json:"id" firestore:"id"`
	Participants     []string                   `json:"participants" firestore:"participants"`
	ParticipantsInfo map[string]ParticipantInfo `json:"participants_info" firestore:"participantsInfo"`
	ProductID        string                     `json:"product_id,omitempty" firestore:"productId,omitempty"`
	ProductInfo      *ProductInfo               `json:"product_info,omitempty" firestore:"productInfo,omitempty"`
	LastMessage      LastMessage                `json:"last_message" firestore:"lastMessage"`
	UnreadCount      map[string]int             `json:"unread_count" firestore:"unreadCount"`
	IsActive         bool                       `json:"is_active" firestore:"isActive"`
	CreatedAt        time.Time                  `json:"created_at" firestore:"createdAt,serverTimestamp"`
	UpdatedAt        time.Time                  `json:"updated_at" firestore:"updatedAt,serverTimestamp"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID, or "" when
// userID is not part of the conversation.
func (c *Conversation) OtherParticipant(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

// Clone returns a deep copy so snapshots handed to subscribers never share
// maps or slices with the store.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.ParticipantsInfo != nil {
		out.ParticipantsInfo = make(map[string]ParticipantInfo, len(c.ParticipantsInfo))
		for k, v := range c.ParticipantsInfo {
			out.ParticipantsInfo[k] = v
		}
	}
	if c.UnreadCount != nil {
		out.UnreadCount = make(map[string]int, len(c.UnreadCount))
		for k, v := range c.UnreadCount {
			out.UnreadCount[k] = v
		}
	}
	if c.ProductInfo != nil {
		p := *c.ProductInfo
		p.Images = append([]string(nil), c.ProductInfo.Images...)
		if c.ProductInfo.Price != nil {
			price := *c.ProductInfo.Price
			p.Price = &price
		}
		out.ProductInfo = &p
	}
	return &out
}
