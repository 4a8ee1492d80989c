package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"swapmarket/internal/adapter/api"
	"swapmarket/internal/adapter/api/middleware"
	memrepo "swapmarket/internal/adapter/repository"
	"swapmarket/internal/domain/entity"
	"swapmarket/internal/mocks"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/errors"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiFixture struct {
	e *echo.Echo
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := memrepo.NewMemoryMessagingStore()
	users := memrepo.NewMemoryUserRepository(
		&entity.User{ID: "alice", DisplayName: "Alice"},
		&entity.User{ID: "bob", DisplayName: "Bob"},
		&entity.User{ID: "mallory", DisplayName: "Mallory"},
	)
	products := memrepo.NewMemoryProductRepository(
		&entity.Product{ID: "bike", Title: "Blue bike", UserID: "bob", IsActive: true},
	)
	uc := usecase.NewMessagingUseCase(store, users, products, usecase.ContextIdentity(), nil)

	verifier := new(mocks.TokenVerifierMock)
	for _, uid := range []string{"alice", "bob", "mallory"} {
		verifier.On("VerifyToken", mock.Anything, "token-"+uid).Return(uid, nil).Maybe()
	}
	verifier.On("VerifyToken", mock.Anything, mock.Anything).Return("", errors.Unauthenticated("bad token")).Maybe()

	auth := middleware.NewAuthMiddleware(verifier)
	h := NewMessagingHandler(uc)

	e := echo.New()
	e.Validator = api.NewValidator()
	g := e.Group("/v1/conversations", auth.Authenticate)
	g.POST("", h.CreateConversation)
	g.GET("", h.GetUserConversations)
	g.GET("/unread-count", h.GetUnreadCount)
	g.GET("/:id", h.GetConversation)
	g.DELETE("/:id", h.DeleteConversation)
	g.PUT("/:id/read", h.MarkAsRead)
	g.GET("/:id/messages", h.GetMessages)
	g.POST("/:id/messages", h.SendMessage)
	e.POST("/v1/products/:id/contact", h.ContactSeller, auth.Authenticate)

	return &apiFixture{e: e}
}

func (f *apiFixture) do(t *testing.T, method, path, uid, body string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if uid != "" {
		req.Header.Set("Authorization", "Bearer token-"+uid)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (f *apiFixture) createConversation(t *testing.T, from, to string) string {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/v1/conversations", from, `{"participant_id":"`+to+`","product_id":"bike","message":"hello"}`)
	require.Equal(t, http.StatusCreated, code)
	var created conversationCreatedResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return created.ConversationID
}

func TestRequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodGet, "/v1/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, errors.CodeUnauthenticated, env.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateConversationIsIdempotent(t *testing.T) {
	f := newAPIFixture(t)

	first := f.createConversation(t, "alice", "bob")
	second := f.createConversation(t, "bob", "alice")

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestCreateConversationValidation(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodPost, "/v1/conversations", "alice", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "participant_id is required", env.Error.Message)

	code, env = f.do(t, http.MethodPost, "/v1/conversations", "alice", `{"participant_id":"alice","message":"hi"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, errors.CodeInvariantViolation, env.Error.Code)
}

func TestSendAndPageMessages(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createConversation(t, "alice", "bob")

	for _, text := range []string{"m1", "m2", "m3"} {
		code, _ := f.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "bob", `{"text":"`+text+`"}`)
		require.Equal(t, http.StatusCreated, code)
	}

	code, env := f.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages?limit=2", "alice", "")
	require.Equal(t, http.StatusOK, code)
	var page usecase.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m2", page.Messages[0].Text)
	assert.Equal(t, "m3", page.Messages[1].Text)
	assert.True(t, page.HasMore)

	code, env = f.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages?limit=2&before="+page.Messages[0].ID, "alice", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "hello", page.Messages[0].Text)
	assert.Equal(t, "m1", page.Messages[1].Text)

	code, env = f.do(t, http.MethodGet, "/v1/conversations/"+id+"/messages", "mallory", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errors.CodeNotFound, env.Error.Code)
}

func TestSendMessageRejectsUnknownType(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createConversation(t, "alice", "bob")

	code, env := f.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "alice", `{"text":"x","type":"offer"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = f.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "mallory", `{"text":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, errors.CodeInvariantViolation, env.Error.Code)
}

func TestUnreadCountAndMarkAsRead(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createConversation(t, "alice", "bob")
	f.do(t, http.MethodPost, "/v1/conversations/"+id+"/messages", "alice", `{"text":"second"}`)

	unread := func() int {
		code, env := f.do(t, http.MethodGet, "/v1/conversations/unread-count", "bob", "")
		require.Equal(t, http.StatusOK, code)
		var got unreadCountResponse
		require.NoError(t, json.Unmarshal(env.Data, &got))
		return got.Total
	}

	assert.Equal(t, 2, unread())

	code, _ := f.do(t, http.MethodPut, "/v1/conversations/"+id+"/read", "bob", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, unread())

	code, _ = f.do(t, http.MethodGet, "/v1/conversations?has_unread=true", "bob", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestListFiltersAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createConversation(t, "alice", "bob")

	list := func(uid, query string) []*entity.Conversation {
		code, env := f.do(t, http.MethodGet, "/v1/conversations"+query, uid, "")
		require.Equal(t, http.StatusOK, code)
		var conversations []*entity.Conversation
		require.NoError(t, json.Unmarshal(env.Data, &conversations))
		return conversations
	}

	assert.Len(t, list("bob", ""), 1)
	assert.Len(t, list("bob", "?has_unread=true"), 1)
	assert.Len(t, list("alice", "?has_unread=true"), 0)
	assert.Len(t, list("alice", "?product_id=lamp"), 0)

	code, env := f.do(t, http.MethodGet, "/v1/conversations/"+id, "mallory", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errors.CodeNotFound, env.Error.Code)

	code, _ = f.do(t, http.MethodDelete, "/v1/conversations/"+id, "mallory", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = f.do(t, http.MethodDelete, "/v1/conversations/"+id, "alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, list("alice", ""))
	assert.Empty(t, list("bob", ""))
}

func TestContactSeller(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodPost, "/v1/products/bike/contact", "alice", `{}`)
	require.Equal(t, http.StatusCreated, code)
	var created conversationCreatedResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))

	code, env = f.do(t, http.MethodGet, "/v1/conversations/"+created.ConversationID, "bob", "")
	require.Equal(t, http.StatusOK, code)
	var conversation entity.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conversation))
	assert.Equal(t, "bike", conversation.ProductID)
	assert.Contains(t, conversation.LastMessage.Text, "Blue bike")

	code, env = f.do(t, http.MethodPost, "/v1/products/bike/contact", "bob", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, errors.CodeInvariantViolation, env.Error.Code)

	code, env = f.do(t, http.MethodPost, "/v1/products/ghost/contact", "alice", `{}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errors.CodeNotFound, env.Error.Code)
}
