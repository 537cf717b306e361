package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Jamolkhon5/chatbot/internal/cache"
	"github.com/Jamolkhon5/chatbot/internal/config"
	"github.com/Jamolkhon5/chatbot/internal/handler"
	"github.com/Jamolkhon5/chatbot/internal/llm"
	"github.com/Jamolkhon5/chatbot/internal/logging"
	"github.com/Jamolkhon5/chatbot/internal/ratelimit"
	"github.com/Jamolkhon5/chatbot/internal/repository"
	"github.com/Jamolkhon5/chatbot/internal/service"
)

const schema = `
    CREATE TABLE IF NOT EXISTS conversations (
        id SERIAL PRIMARY KEY,
        conversation_id VARCHAR(64) NOT NULL UNIQUE,
        session_id VARCHAR(64) NOT NULL,
        user_id VARCHAR(255) NOT NULL DEFAULT '',
        messages JSONB NOT NULL,
        metadata JSONB NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS idx_conversations_session_id ON conversations (session_id);
    CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations (updated_at);

    CREATE TABLE IF NOT EXISTS enquiries (
        id SERIAL PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        email VARCHAR(255) NOT NULL,
        mobile VARCHAR(50) NOT NULL,
        requirement TEXT NOT NULL,
        message TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`

func main() {
	cfg, err := config.NewConfig(".env")
	if err != nil {
		log.Fatal(err)
	}

	if _, err := logging.Init(cfg.LogLevel, "json"); err != nil {
		log.Fatal(err)
	}

	// Postgres is the system of record; failing to reach it is fatal.
	dbURL := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.PgHost, cfg.PgPort, cfg.PgUser, cfg.PgPassword, cfg.PgName)

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.PgMaxOpenConn)

	if _, err := db.Exec(schema); err != nil {
		log.Fatal(err)
	}

	// Redis backs the response cache and rate limiter. A connection
	// failure only disables both; the chat path stays up.
	store := cache.NewRedisStore(cache.RedisOptions{
		Enabled:  cfg.RedisEnabled,
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = store.Connect(ctx)
	cancel()
	defer store.Close()

	repo := repository.NewRepository(db)

	client := llm.NewClient(llm.Options{
		APIURL:        cfg.OpenRouterApiURL,
		APIKey:        cfg.OpenRouterApiKey,
		Model:         cfg.OpenRouterModel,
		FallbackModel: cfg.OpenRouterFallbackModel,
		SiteURL:       cfg.SiteURL,
		SiteName:      cfg.SiteName,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		Timeout:       cfg.RequestTimeout(),
	})

	responseCache := cache.NewResponseCache(store, cfg.CacheEnabled, cfg.CacheTTL(), cfg.KnowledgebaseVersion)
	limiter := ratelimit.NewFixedWindowLimiter(store, cfg.RateLimitEnabled,
		cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)

	svc := service.NewChatService(client, repo, responseCache, service.Options{
		MaxConversationHistory: cfg.MaxConversationHistory,
		KnowledgebasePath:      cfg.KnowledgebasePath,
	})

	h := handler.NewHandler(svc, limiter, repo, store, client.Configured())

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/chatbot", func(r chi.Router) {
			r.Post("/chat", h.Chat)
			r.Post("/stream", h.Stream)
			r.Get("/history/{sessionID}", h.History)
			r.Delete("/history/{sessionID}", h.ClearHistory)
			r.Get("/health", h.Health)
		})
		r.Post("/contact", h.Contact)
	})

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logging.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infof("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	logging.Infof("server exiting")
}
