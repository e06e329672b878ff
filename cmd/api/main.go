package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"matchchat/internal/adapter/api"
	"matchchat/internal/adapter/api/handler"
	apimiddleware "matchchat/internal/adapter/api/middleware"
	"matchchat/internal/adapter/api/router"
	adapter "matchchat/internal/adapter/repository"
	"matchchat/internal/domain/repository"
	"matchchat/internal/infrastructure/firebase"
	"matchchat/internal/infrastructure/presence"
	"matchchat/internal/infrastructure/ratelimit"
	"matchchat/internal/infrastructure/websocket"
	"matchchat/internal/observability"
	"matchchat/internal/usecase"
	"matchchat/pkg/config"
	"matchchat/pkg/logger"
)

type presenceMirror interface {
	usecase.PresenceMirror
	handler.OnlineReader
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.HealthChecker{}
	var (
		store    repository.DocumentStore
		users    repository.UserRepository
		verifier usecase.FirebaseAuthClient
		devToken *handler.DevTokenHandler
	)

	creds := firebase.Credentials{
		ProjectID: cfg.FirebaseProject,
		JSON:      cfg.FirebaseCredentialsJSON,
		Path:      cfg.FirebaseCredentialsPath,
	}
	app, opt, err := firebase.NewApp(ctx, creds)
	switch {
	case err == nil:
		authClient, err := app.Auth(ctx)
		if err != nil {
			logger.Error("Failed to initialize Firebase Auth: %v", err)
			os.Exit(1)
		}
		fbAuth := firebase.NewFirebaseAuthClient(authClient)
		verifier = fbAuth
		checks["firebase"] = fbAuth
	case cfg.IsDevelopment():
		logger.Warn("Firebase unavailable (%v); accepting development tokens", err)
		dev := firebase.NewDevTokenVerifier()
		verifier = dev
		devToken = handler.NewDevTokenHandler(dev)
	default:
		logger.Error("Failed to initialize Firebase: %v", err)
		os.Exit(1)
	}

	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory document store; data is lost on restart")
		mem := adapter.NewMemoryStore(clock.New())
		store = mem
		users = adapter.NewStoreUserRepository(mem)
	default:
		if opt == nil {
			logger.Error("STORE_DRIVER=%s needs Firebase credentials", cfg.StoreDriver)
			os.Exit(1)
		}
		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
		if err != nil {
			logger.Error("Failed to create Firestore client: %v", err)
			os.Exit(1)
		}
		defer firestoreClient.Close()

		store = adapter.NewFirestoreStore(firestoreClient, adapter.BreakerSettings{
			Name:        "firestore",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		})
		users = adapter.NewFirestoreUserRepository(firestoreClient)
	}

	presenceTTL := 3 * cfg.PresenceHeartbeat
	var mirror presenceMirror
	if cfg.RedisURL != "" {
		redisMirror, err := presence.NewRedisMirror(ctx, cfg.RedisURL, presenceTTL)
		if err != nil {
			logger.Error("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
		defer redisMirror.Close()
		mirror = redisMirror
		checks["redis"] = redisMirror
	} else {
		logger.Info("REDIS_URL not set, presence mirror is local to this instance")
		mirror = presence.NewMemoryMirror(clock.New(), presenceTTL)
	}

	engineOptions := usecase.Options{
		PageSize:          cfg.MessagePageSize,
		HeartbeatInterval: cfg.PresenceHeartbeat,
		TypingDebounce:    cfg.TypingDebounce,
		TypingExpiry:      cfg.TypingExpiry,
		Mirror:            mirror,
	}
	newEngine := func(_ string, lc usecase.AppLifecycle) *usecase.ChatUseCase {
		return usecase.NewChatUseCase(store, users, lc, engineOptions)
	}
	requestEngine := func() *usecase.ChatUseCase {
		return usecase.NewChatUseCase(store, users, nil, engineOptions)
	}

	limiter := ratelimit.NewRateLimiter()
	limiter.SetDefault(cfg.RateLimitPerMinute)
	limiter.StartCleanupRoutine(ctx)

	wsManager := websocket.NewManager(newEngine, limiter)
	wsManager.Start(ctx)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(observability.HTTPMetricsMiddleware())

	e.Validator = api.NewValidator()

	router.Setup(e, router.Handlers{
		Chat:      handler.NewChatHandler(requestEngine, mirror, cfg.MessagePageSize),
		WebSocket: handler.NewWebSocketHandler(wsManager),
		Health:    handler.NewHealthHandler(checks),
		DevToken:  devToken,
	}, apimiddleware.NewAuthMiddleware(verifier), limiter)

	go func() {
		logger.Info("Starting server on port %s (store=%s)...", cfg.ServerPort, cfg.StoreDriver)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}
