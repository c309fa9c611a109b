// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiquet-ai/casteller-assistant/internal/cache"
	"github.com/xiquet-ai/casteller-assistant/internal/config"
	"github.com/xiquet-ai/casteller-assistant/internal/events"
	"github.com/xiquet-ai/casteller-assistant/internal/handler"
	"github.com/xiquet-ai/casteller-assistant/internal/history"
	"github.com/xiquet-ai/casteller-assistant/internal/job"
	"github.com/xiquet-ai/casteller-assistant/internal/llm"
	"github.com/xiquet-ai/casteller-assistant/internal/middleware"
	natsclient "github.com/xiquet-ai/casteller-assistant/internal/nats"
	"github.com/xiquet-ai/casteller-assistant/internal/orchestrator"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
	"github.com/xiquet-ai/casteller-assistant/pkg/tracing"
)

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "casteller-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Conversation cache. Redis keeps unsaved conversations across restarts;
	// without it they only live as long as the process.
	var convCache cache.ConversationCache
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisCache.Ping(pingCtx)
	cancel()
	if err != nil {
		log.Warn("Redis unavailable, conversation cache is in-memory only", zap.Error(err))
		redisCache.Close()
		redisCache = nil
		convCache = cache.NewMemoryCache()
	} else {
		defer redisCache.Close()
		convCache = redisCache
	}

	// Turn events always fan out in-process for SSE; JetStream publication is
	// added when NATS is enabled.
	bus := events.NewBus()
	var publisher events.Publisher = bus
	var nc *natsclient.Client
	if cfg.NATSEnabled {
		nc, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer nc.Close()

		eventPub := natsclient.NewEventPublisher(nc)
		if err := eventPub.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure events stream", zap.Error(err))
			os.Exit(1)
		}
		publisher = events.Multi{bus, eventPub}
	}

	// Answer job transport.
	var transport job.Transport
	switch cfg.Transport {
	case "http":
		transport = job.NewHTTPTransport(cfg.BackendURL, cfg.BackendToken)
		log.Info("using remote answer backend", zap.String("url", cfg.BackendURL))
	default:
		provider := llm.Provider(cfg.DefaultLLM)
		apiKey := cfg.AnthropicAPIKey
		if provider == llm.ProviderOpenAI {
			apiKey = cfg.OpenAIAPIKey
		}
		llmClient, err := llm.NewClient(provider, apiKey)
		if err != nil {
			log.Error("failed to create LLM client", zap.Error(err))
			os.Exit(1)
		}
		transport = job.NewInProcessBackend(llmClient, "", log)
		log.Info("using in-process answer backend", zap.String("provider", llmClient.Name()))
	}

	// Saved-session store.
	var store history.Store
	if cfg.HistoryURL != "" {
		store = history.NewHTTPStore(cfg.HistoryURL, cfg.BackendToken)
		log.Info("using remote session store", zap.String("url", cfg.HistoryURL))
	} else {
		store = history.NewMemoryStore()
		log.Warn("HISTORY_URL not set, saved sessions are in-memory only")
	}

	manager := orchestrator.NewManager(orchestrator.Config{
		Transport:    transport,
		Cache:        convCache,
		Store:        store,
		Events:       publisher,
		Logger:       log,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	})

	healthHandler := handler.NewHealthHandler(redisCache, nc)
	chatHandler := handler.NewChatHandler(manager, log)
	sessionHandler := handler.NewSessionHandler(manager, log)
	eventsHandler := handler.NewEventsHandler(bus, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", chatHandler.Submit)
			r.Get("/messages", chatHandler.Messages)
			r.Get("/events", eventsHandler.Stream)
			r.Post("/new", chatHandler.New)
			r.Post("/open/{sessionID}", chatHandler.Open)
		})

		r.Post("/sessions/save", sessionHandler.Save)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
