package entity

import "time"

type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeProduct MessageType = "product"
	MessageTypeSystem  MessageType = "system"
	MessageTypeImage   MessageType = "image"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeProduct, MessageTypeSystem, MessageTypeImage:
		return true
	}
	return false
}

type SystemAction string

const (
	SystemActionProductReserved SystemAction = "product_reserved"
	SystemActionProductDonated  SystemAction = "product_donated"
	SystemActionUserJoined      SystemAction = "user_joined"
	SystemActionUserLeft        SystemAction = "user_left"
)

// MessageProductInfo references a listing from inside a PRODUCT message.
type MessageProductInfo struct {
	ID    string `json:"id" firestore:"id"`
	Title string `json:"title" firestore:"title"`
	Image string `json:"image" firestore:"image"`
}

type SystemData struct {
	Action   SystemAction           `json:"action" firestore:"action"`
	Metadata map[string]interface{} `json:"metadata,omitempty" firestore:"metadata,omitempty"`
}

type Message struct {
	ID             string              `json:"id" firestore:"id"`
	ConversationID string              `json:"conversation_id" firestore:"conversationId"`
	SenderID       string              `json:"sender_id" firestore:"senderId"`
	ReceiverID     string              `json:"receiver_id" firestore:"receiverId"`
	Text           string              `json:"text" firestore:"text"`
	Type           MessageType         `json:"type" firestore:"type"`
	Timestamp      time.Time           `json:"timestamp" firestore:"timestamp,serverTimestamp"`
	IsRead         bool                `json:"is_read" firestore:"isRead"`
	ReadAt         *time.Time          `json:"read_at,omitempty" firestore:"readAt,omitempty"`
	ProductInfo    *MessageProductInfo `json:"product_info,omitempty" firestore:"productInfo,omitempty"`
	SystemData     *SystemData         `json:"system_data,omitempty" firestore:"systemData,omitempty"`
}

// Summary is the lastMessage projection of m.
func (m *Message) Summary() LastMessage {
	return LastMessage{
		Text:      m.Text,
		SenderID:  m.SenderID,
		Timestamp: m.Timestamp,
		Type:      m.Type,
	}
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	if m.ProductInfo != nil {
		p := *m.ProductInfo
		out.ProductInfo = &p
	}
	if m.SystemData != nil {
		s := *m.SystemData
		if m.SystemData.Metadata != nil {
			s.Metadata = make(map[string]interface{}, len(m.SystemData.Metadata))
			for k, v := range m.SystemData.Metadata {
				s.Metadata[k] = v
			}
		}
		out.SystemData = &s
	}
	return &out
}
