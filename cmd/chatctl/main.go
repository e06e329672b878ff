package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	adapter "matchchat/internal/adapter/repository"
	"matchchat/internal/infrastructure/firebase"
	"matchchat/internal/usecase"
	"matchchat/pkg/config"
	"matchchat/pkg/logger"
)

var (
	storeDriver string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:          "chatctl",
	Short:        "Operate match chats from the command line",
	Long:         "chatctl drives the chat sync engine directly against the configured document store.\nUse it to inspect rooms, post system notices and tail conversations.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "document store: firestore or memory (default from STORE_DRIVER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")
}

// session is one engine plus whatever must be closed with it.
type session struct {
	engine *usecase.ChatUseCase
	close  func()
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Configure(cfg.Environment)

	driver := storeDriver
	if driver == "" {
		driver = cfg.StoreDriver
	}
	opts := usecase.Options{
		PageSize:       cfg.MessagePageSize,
		TypingDebounce: cfg.TypingDebounce,
		TypingExpiry:   cfg.TypingExpiry,
	}

	switch driver {
	case "memory":
		store := adapter.NewMemoryStore(clock.New())
		uc := usecase.NewChatUseCase(store, adapter.NewStoreUserRepository(store), nil, opts)
		return &session{engine: uc, close: uc.Dispose}, uc.Init(ctx)

	case "firestore":
		opt, err := firebase.Credentials{
			ProjectID: cfg.FirebaseProject,
			JSON:      cfg.FirebaseCredentialsJSON,
			Path:      cfg.FirebaseCredentialsPath,
		}.ClientOption()
		if err != nil {
			return nil, err
		}
		client, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
		if err != nil {
			return nil, fmt.Errorf("create Firestore client: %w", err)
		}
		store := adapter.NewFirestoreStore(client, adapter.BreakerSettings{
			Name:        "chatctl",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		})
		uc := usecase.NewChatUseCase(store, adapter.NewFirestoreUserRepository(client), nil, opts)
		return &session{
			engine: uc,
			close: func() {
				uc.Dispose()
				client.Close()
			},
		}, uc.Init(ctx)
	}
	return nil, fmt.Errorf("unknown store %q (valid: firestore, memory)", driver)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
