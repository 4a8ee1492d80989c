package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"swapmarket/internal/adapter/api"
	"swapmarket/internal/adapter/api/handler"
	apimiddleware "swapmarket/internal/adapter/api/middleware"
	"swapmarket/internal/adapter/api/router"
	"swapmarket/internal/adapter/repository"
	domainrepo "swapmarket/internal/domain/repository"
	"swapmarket/internal/infrastructure/events"
	"swapmarket/internal/infrastructure/firebase"
	"swapmarket/internal/infrastructure/ratelimit"
	"swapmarket/internal/infrastructure/websocket"
	"swapmarket/internal/usecase"
	"swapmarket/pkg/config"
	"swapmarket/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opt, err := credentials(cfg)
	if err != nil {
		logger.Error("Failed to load service account: %v", err)
		os.Exit(1)
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		logger.Error("Failed to initialize Firebase: %v", err)
		os.Exit(1)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		logger.Error("Failed to initialize Firebase Auth: %v", err)
		os.Exit(1)
	}
	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)

	var (
		store    domainrepo.MessagingStore
		users    domainrepo.UserRepository
		products domainrepo.ProductRepository
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory messaging store; data is lost on restart")
		store = repository.NewMemoryMessagingStore()
		users = firebaseAuthClient
		catalog := repository.NewMemoryProductRepository()
		if cfg.MemoryProductsFile == "" {
			logger.Warn("MEMORY_PRODUCTS_FILE not set; contacting a seller answers NOT_FOUND for every product")
		} else {
			n, err := catalog.LoadProducts(cfg.MemoryProductsFile)
			if err != nil {
				logger.Error("Failed to load product catalog: %v", err)
				os.Exit(1)
			}
			logger.Info("Loaded %d products from %s", n, cfg.MemoryProductsFile)
		}
		products = catalog
	default:
		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
		if err != nil {
			logger.Error("Failed to create Firestore client: %v", err)
			os.Exit(1)
		}
		defer firestoreClient.Close()

		store = repository.NewFirestoreMessagingStore(firestoreClient)
		users = repository.NewFallbackUserRepository(repository.NewFirestoreUserRepository(firestoreClient), firebaseAuthClient)
		products = repository.NewFirestoreProductRepository(firestoreClient)
	}

	bus, closeBus := eventBus(cfg)
	defer closeBus()

	messagingUseCase := usecase.NewMessagingUseCase(store, users, products, usecase.ContextIdentity(), bus)
	messagingUseCase.SetDefaultPageSize(cfg.MessagePageSize)

	wsManager := websocket.NewManager(messagingUseCase)
	wsManager.Start(ctx)

	unsubscribeEvents, err := bus.Subscribe(wsManager.BroadcastEvent)
	if err != nil {
		logger.Error("Failed to subscribe to messaging events: %v", err)
		os.Exit(1)
	}
	defer unsubscribeEvents()

	limiter := ratelimit.NewRateLimiter(ratelimit.DefaultPolicies(), ratelimit.Policy{
		Rate:  rate.Limit(cfg.RateLimitRPS),
		Burst: cfg.RateLimitBurst,
	})
	limiter.StartCleanupRoutine(10*time.Minute, time.Hour, ctx.Done())

	handler.Setup(messagingUseCase)
	handler.SetupHealthHandler(firebaseAuthClient)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(apimiddleware.RequestMetrics())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(firebaseAuthClient)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.WSAllowedOrigins)

	router.Setup(e, authMiddleware, limiter, wsHandler)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}

// credentials prefers the inline service account JSON over the file path.
func credentials(cfg *config.Config) (option.ClientOption, error) {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)), nil
	}

	path := cfg.ServiceAccountPath
	if path == "" {
		path = "./firebase-service-account.json"
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	logger.Info("Using Firebase service account from file: %s", path)
	return option.WithCredentialsFile(path), nil
}

// eventBus connects to NATS when configured so every instance sees every
// event; otherwise events stay in process.
func eventBus(cfg *config.Config) (events.Bus, func()) {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not set, delivering messaging events in process")
		return events.NewLocalBus(), func() {}
	}

	nc, err := events.Connect(cfg.NATSURL)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.Info("Publishing messaging events to %s under %s", nc.ConnectedUrl(), cfg.NATSSubjectPrefix)

	return events.NewNATSPublisher(nc, cfg.NATSSubjectPrefix), func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("Failed to drain NATS connection: %v", err)
		}
	}
}
