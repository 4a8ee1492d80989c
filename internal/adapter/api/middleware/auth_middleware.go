package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"swapmarket/internal/usecase"
	"swapmarket/pkg/errors"
	"swapmarket/pkg/response"
)

type AuthMiddleware struct {
	verifier usecase.TokenVerifier
}

func NewAuthMiddleware(verifier usecase.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate verifies the bearer token and stores the uid both on the echo
// context and on the request context.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthenticated("Authorization header is required"))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthenticated("Invalid authorization format"))
		}

		return m.authenticateToken(c, next, parts[1])
	}
}

// AuthenticateWebSocket also accepts the token as a query parameter, since
// browsers cannot set headers on a WebSocket handshake.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := c.QueryParam("token"); token != "" {
			return m.authenticateToken(c, next, token)
		}
		return m.Authenticate(next)(c)
	}
}

func (m *AuthMiddleware) authenticateToken(c echo.Context, next echo.HandlerFunc, token string) error {
	req := c.Request()
	uid, err := m.verifier.VerifyToken(req.Context(), token)
	if err != nil {
		return response.Error(c, errors.Unauthenticated("Invalid or expired token"))
	}

	c.Set("uid", uid)
	c.SetRequest(req.WithContext(usecase.WithUserID(req.Context(), uid)))

	return next(c)
}
