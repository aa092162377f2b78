// Package main is the entry point for the chat edge service.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/augment"
	"github.com/capitalize-ai/streamchat/internal/cache"
	"github.com/capitalize-ai/streamchat/internal/config"
	"github.com/capitalize-ai/streamchat/internal/handler"
	"github.com/capitalize-ai/streamchat/internal/intent"
	"github.com/capitalize-ai/streamchat/internal/llm"
	"github.com/capitalize-ai/streamchat/internal/middleware"
	natsclient "github.com/capitalize-ai/streamchat/internal/nats"
	"github.com/capitalize-ai/streamchat/internal/service"
	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/pkg/logger"
	"github.com/capitalize-ai/streamchat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting chat edge service", zap.String("store", cfg.StoreDriver))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "streamchat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Persistence
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	// Cache for augmentation results and quota counters
	c, err := openCache(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer c.Close()

	// Initialize LLM client
	llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), providerKey(cfg), cfg.OpenAIBaseURL)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.String("provider", cfg.DefaultLLM), zap.Error(err))
	}

	classifier, err := intent.Load(cfg.IntentRulesFile)
	if err != nil {
		log.Fatal("failed to load intent rules", zap.String("path", cfg.IntentRulesFile), zap.Error(err))
	}

	augmenter := augment.New(augment.Config{
		TavilyKey:   cfg.TavilyAPIKey,
		DefaultCity: cfg.DefaultCity,
		Timeout:     cfg.AugmentTimeout,
		RetryMax:    cfg.AugmentRetries,
	}, c, log)

	opts := []service.ChatOption{service.WithAugmenter(augmenter)}
	if cfg.OpenAIAPIKey != "" {
		openai, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			log.Fatal("failed to create OpenAI client", zap.Error(err))
		}
		opts = append(opts, service.WithVision(openai))
		if cfg.ImagesEnabled {
			opts = append(opts, service.WithImages(openai))
		}
	} else {
		log.Warn("OPENAI_API_KEY not set, vision and image generation use the default provider")
	}

	// Initialize services
	chatSvc := service.NewChatService(classifier, llmClient, service.ChatConfig{
		SystemPrompt: cfg.SystemPrompt,
		Model:        cfg.ChatModel,
		VisionModel:  cfg.VisionModel,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		HistoryLimit: cfg.HistoryLimit,
	}, log, opts...)
	conversationSvc := service.NewConversationService(st, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"store": st,
		"cache": c,
	})
	chatHandler := handler.NewChatHandler(chatSvc, cfg.Heartbeat, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	turnHandler := handler.NewTurnHandler(conversationSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Chat
		r.With(
			middleware.UserRateLimit(cfg.ChatRateLimit, time.Minute),
			middleware.Quota(c, cfg.DailyQuota, log),
		).Post("/chat", chatHandler.Chat)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				// Turns
				r.Get("/turns", turnHandler.List)
				r.Post("/turns", turnHandler.Save)
				r.Delete("/turns/{turnID}", turnHandler.Delete)
				r.Put("/turns/{turnID}/pin", turnHandler.Pin)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Environment == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return store.NewMemory(), func() {}, nil

	case config.StoreSQLite:
		dsn, err := store.DSNForFile(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case config.StoreNATS:
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		s, err := natsclient.NewStore(ctx, nc, log)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return s, nc.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(), nil
	}
	return cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
}

func providerKey(cfg *config.Config) string {
	if llm.Provider(cfg.DefaultLLM) == llm.ProviderAnthropic {
		return cfg.AnthropicAPIKey
	}
	return cfg.OpenAIAPIKey
}
