package usecase

import (
	"context"

	"matchchat/internal/domain/entity"
)

type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)

// AppLifecycle reports foreground/background transitions of the client app.
type AppLifecycle interface {
	Subscribe(fn func(state AppState)) (unsubscribe func())
}

// PresenceMirror receives a copy of every presence write. It is best-effort.
type PresenceMirror interface {
	Publish(ctx context.Context, p entity.Presence) error
}

// FirebaseAuthClient resolves a client ID token to a user id.
type FirebaseAuthClient interface {
	VerifyToken(ctx context.Context, token string) (string, error)
	TestConnection(ctx context.Context) error
}
