package firebase

import (
	"context"
	"fmt"
	"strings"
)

const devTokenPrefix = "dev."

// DevTokenVerifier accepts unsigned "dev.<uid>" tokens. It is only wired
// when ENVIRONMENT=development and no service account is configured.
type DevTokenVerifier struct{}

func NewDevTokenVerifier() *DevTokenVerifier {
	return &DevTokenVerifier{}
}

func (DevTokenVerifier) GenerateToken(uid string) string {
	return devTokenPrefix + uid
}

func (DevTokenVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	uid := strings.TrimPrefix(token, devTokenPrefix)
	if uid == token || strings.TrimSpace(uid) == "" {
		return "", fmt.Errorf("not a development token")
	}
	return uid, nil
}

func (DevTokenVerifier) TestConnection(context.Context) error {
	return nil
}
