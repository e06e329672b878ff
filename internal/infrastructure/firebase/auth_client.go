package firebase

import (
	"context"
	"fmt"
	"os"

	fbapp "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"matchchat/pkg/logger"
)

// Credentials selects the service account. JSON wins over Path.
type Credentials struct {
	ProjectID string
	JSON      string
	Path      string
}

// ClientOption returns the option used for both Firebase Admin and Firestore.
func (c Credentials) ClientOption() (option.ClientOption, error) {
	if c.JSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(c.JSON)), nil
	}
	if c.Path == "" {
		return nil, fmt.Errorf("no Firebase service account configured")
	}
	if _, err := os.Stat(c.Path); err != nil {
		return nil, fmt.Errorf("service account file %s: %w", c.Path, err)
	}
	logger.Info("Using Firebase service account from file: %s", c.Path)
	return option.WithCredentialsFile(c.Path), nil
}

// NewApp initializes the Firebase Admin app for the configured project.
func NewApp(ctx context.Context, creds Credentials) (*fbapp.App, option.ClientOption, error) {
	opt, err := creds.ClientOption()
	if err != nil {
		return nil, nil, err
	}
	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: creds.ProjectID}, opt)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize Firebase: %w", err)
	}
	return app, opt, nil
}

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", err
	}

	return result.UID, nil
}

// TestConnection performs a cheap authenticated lookup. A missing user still proves connectivity.
func (f *FirebaseAuthClient) TestConnection(ctx context.Context) error {
	_, err := f.client.GetUser(ctx, "matchchat-health-probe")
	if err == nil || auth.IsUserNotFound(err) {
		return nil
	}
	return err
}
