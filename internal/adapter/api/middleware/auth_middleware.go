package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"matchchat/internal/usecase"
	"matchchat/pkg/errors"
	"matchchat/pkg/response"
)

// ContextUserKey is where the verified user id is stored on the echo context.
const ContextUserKey = "uid"

type AuthMiddleware struct {
	verifier usecase.FirebaseAuthClient
}

func NewAuthMiddleware(verifier usecase.FirebaseAuthClient) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires a Bearer ID token. Websocket clients may pass ?token= instead,
// since browsers cannot set headers on the upgrade request.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		idToken, err := bearerToken(c)
		if err != nil {
			return response.Error(c, err)
		}

		uid, err := m.verifier.VerifyToken(c.Request().Context(), idToken)
		if err != nil {
			return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
		}

		c.Set(ContextUserKey, uid)
		return next(c)
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			return token, nil
		}
		return "", errors.Unauthorized("Authorization header is required", nil)
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.Unauthorized("Invalid authorization format", nil)
	}
	return parts[1], nil
}

// UserID returns the authenticated user id, or "" outside Authenticate.
func UserID(c echo.Context) string {
	uid, _ := c.Get(ContextUserKey).(string)
	return uid
}
