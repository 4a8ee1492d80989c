package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/time/rate"

	"swapmarket/internal/infrastructure/ratelimit"
	"swapmarket/internal/mocks"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/errors"
)

func TestAuthenticateStoresIdentity(t *testing.T) {
	verifier := new(mocks.TokenVerifierMock)
	verifier.On("VerifyToken", mock.Anything, "good").Return("alice", nil)
	verifier.On("VerifyToken", mock.Anything, "bad").Return("", errors.Unauthenticated("expired"))
	auth := NewAuthMiddleware(verifier)

	var seenUID, ctxUID string
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		seenUID = c.Get("uid").(string)
		ctxUID, _ = usecase.ContextIdentity().CurrentUserID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}, auth.Authenticate)
	e.GET("/ws", func(c echo.Context) error {
		seenUID = c.Get("uid").(string)
		return c.NoContent(http.StatusNoContent)
	}, auth.AuthenticateWebSocket)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "missing header", path: "/me", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/me", header: "Basic good", want: http.StatusUnauthorized},
		{name: "rejected token", path: "/me", header: "Bearer bad", want: http.StatusUnauthorized},
		{name: "valid token", path: "/me", header: "Bearer good", want: http.StatusNoContent},
		{name: "websocket query token", path: "/ws?token=good", want: http.StatusNoContent},
		{name: "websocket header token", path: "/ws", header: "Bearer good", want: http.StatusNoContent},
		{name: "websocket without token", path: "/ws", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenUID, ctxUID = "", ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "alice", seenUID)
			}
			if tt.want == http.StatusNoContent && strings.HasPrefix(tt.path, "/me") {
				assert.Equal(t, "alice", ctxUID)
			}
		})
	}
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{
		ratelimit.ActionSendMessage: {Rate: rate.Every(time.Minute), Burst: 2},
	}, ratelimit.Policy{Rate: rate.Inf})

	e := echo.New()
	e.POST("/send", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("uid", c.Request().Header.Get("X-User"))
			return next(c)
		}
	}, RateLimit(limiter, ratelimit.ActionSendMessage))

	send := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/send", nil)
		req.Header.Set("X-User", uid)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("alice").Code)
	assert.Equal(t, http.StatusNoContent, send("alice").Code)

	blocked := send("alice")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), errors.CodeTooManyRequests)

	assert.Equal(t, http.StatusNoContent, send("bob").Code)
}
