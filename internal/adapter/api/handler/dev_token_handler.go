package handler

import (
	"strings"

	"github.com/labstack/echo/v4"

	"matchchat/pkg/errors"
	"matchchat/pkg/response"
)

// DevTokenIssuer mints tokens accepted by the development verifier.
type DevTokenIssuer interface {
	GenerateToken(uid string) string
}

type DevTokenHandler struct {
	issuer DevTokenIssuer
}

func NewDevTokenHandler(issuer DevTokenIssuer) *DevTokenHandler {
	return &DevTokenHandler{
		issuer: issuer,
	}
}

// GenerateUserToken returns a token for any uid, for local testing only.
func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	uid := strings.TrimSpace(c.Param("uid"))
	if uid == "" {
		return response.Error(c, errors.Validation("uid is required"))
	}
	return response.Success(c, map[string]string{
		"uid":   uid,
		"token": h.issuer.GenerateToken(uid),
	})
}
