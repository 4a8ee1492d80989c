package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"swapmarket/internal/domain/entity"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/response"
	"swapmarket/pkg/utils"
)

type MessagingHandler struct {
	messagingUseCase *usecase.MessagingUseCase
}

func NewMessagingHandler(messagingUseCase *usecase.MessagingUseCase) *MessagingHandler {
	return &MessagingHandler{
		messagingUseCase: messagingUseCase,
	}
}

type createConversationRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	ProductID     string `json:"product_id"`
	Message       string `json:"message" validate:"required,max=2000"`
}

type sendMessageRequest struct {
	Text        string                     `json:"text" validate:"max=2000"`
	Type        string                     `json:"type" validate:"omitempty,oneof=text product system image"`
	ProductInfo *entity.MessageProductInfo `json:"product_info,omitempty"`
	SystemData  *entity.SystemData         `json:"system_data,omitempty"`
}

type contactSellerRequest struct {
	Message string `json:"message" validate:"max=2000"`
}

type conversationCreatedResponse struct {
	ConversationID string `json:"conversation_id"`
}

type messageSentResponse struct {
	MessageID string `json:"message_id"`
}

type unreadCountResponse struct {
	Total int `json:"total"`
}

// CreateConversation opens a conversation with another user, or returns the
// existing one for the same pair and product.
func (h *MessagingHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversationID, err := h.messagingUseCase.CreateConversation(c.Request().Context(), usecase.CreateConversationInput{
		InitiatorID:    userID,
		ParticipantID:  req.ParticipantID,
		ProductID:      req.ProductID,
		InitialMessage: req.Message,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversationCreatedResponse{ConversationID: conversationID})
}

// ContactSeller starts a conversation about a listing with its owner.
func (h *MessagingHandler) ContactSeller(c echo.Context) error {
	var req contactSellerRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversationID, err := h.messagingUseCase.ContactSeller(c.Request().Context(), usecase.ContactSellerInput{
		BuyerID:   userID,
		ProductID: c.Param("id"),
		Message:   req.Message,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversationCreatedResponse{ConversationID: conversationID})
}

func (h *MessagingHandler) GetUserConversations(c echo.Context) error {
	userID := c.Get("uid").(string)

	var filters *usecase.ConversationFilters
	hasUnread, _ := strconv.ParseBool(c.QueryParam("has_unread"))
	if productID := c.QueryParam("product_id"); hasUnread || productID != "" {
		filters = &usecase.ConversationFilters{HasUnread: hasUnread, ProductID: productID}
	}

	conversations, err := h.messagingUseCase.ListUserConversations(c.Request().Context(), userID, filters)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversations)
}

func (h *MessagingHandler) GetConversation(c echo.Context) error {
	userID := c.Get("uid").(string)

	conversation, err := h.messagingUseCase.GetConversation(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

func (h *MessagingHandler) DeleteConversation(c echo.Context) error {
	if err := h.messagingUseCase.DeleteConversation(c.Request().Context(), c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Conversation deleted"})
}

// GetMessages returns one page of messages, oldest first. Pass the id of the
// oldest loaded message as before to page backward.
func (h *MessagingHandler) GetMessages(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Get("uid").(string)
	conversationID := c.Param("id")

	if _, err := h.messagingUseCase.GetConversation(ctx, conversationID, userID); err != nil {
		return response.Error(c, err)
	}

	params := utils.GetMessagePageParams(c)
	pagination := usecase.MessagePagination{Limit: params.Limit}
	if params.BeforeID != "" {
		cursor, err := h.messagingUseCase.ResolveMessageCursor(ctx, conversationID, params.BeforeID)
		if err != nil {
			return response.Error(c, err)
		}
		pagination.Before = cursor
	}

	page, err := h.messagingUseCase.ListConversationMessages(ctx, conversationID, pagination)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, page)
}

func (h *MessagingHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	messageID, err := h.messagingUseCase.SendMessage(c.Request().Context(), usecase.SendMessageInput{
		ConversationID: c.Param("id"),
		SenderID:       userID,
		Text:           req.Text,
		Type:           entity.MessageType(req.Type),
		ProductInfo:    req.ProductInfo,
		SystemData:     req.SystemData,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, messageSentResponse{MessageID: messageID})
}

func (h *MessagingHandler) MarkAsRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.messagingUseCase.MarkMessagesAsRead(c.Request().Context(), c.Param("id"), userID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Messages marked as read"})
}

func (h *MessagingHandler) GetUnreadCount(c echo.Context) error {
	userID := c.Get("uid").(string)

	total, err := h.messagingUseCase.GetTotalUnreadCount(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, unreadCountResponse{Total: total})
}
