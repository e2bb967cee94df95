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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/medgaze/medgaze/analysis"
	"github.com/medgaze/medgaze/api"
	"github.com/medgaze/medgaze/config"
	"github.com/medgaze/medgaze/groq"
	"github.com/medgaze/medgaze/imageproc"
	"github.com/medgaze/medgaze/policy"
	"github.com/medgaze/medgaze/session"
	"github.com/medgaze/medgaze/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting medgaze...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Model: %s", cfg.Model)
	log.Printf("Trace DB: %s", cfg.TraceDB)

	if cfg.GroqAPIKey == "" {
		log.Printf("WARN: GROQ_API_KEY is not set; model calls will be rejected upstream")
	}

	// Initialize trace store
	trace, err := store.NewSQLiteStore(cfg.TraceDB)
	if err != nil {
		log.Fatalf("Failed to initialize trace store: %v", err)
	}
	defer trace.Close()

	// Initialize session store and start the eviction loop
	sessions := session.NewStore(cfg.SessionTTL)
	sessions.Start()
	defer sessions.Close()

	// Initialize model client
	model := groq.NewClient(cfg.GroqAPIURL, cfg.GroqAPIKey, cfg.ModelRetries, cfg.TurnTimeout)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize orchestrator
	orch := analysis.New(imageproc.New(cfg.MaxImageWidth, cfg.JPEGQuality), model, trace, analysis.Options{
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		SystemPrompt: cfg.SystemPrompt,
		TurnTimeout:  cfg.TurnTimeout,
	})

	// Initialize handlers
	h := api.NewHandler(sessions, orch, policyEngine, trace, cfg)

	// Create Echo server
	server := echo.New()
	server.HideBanner = true

	// Middleware
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())
	server.Use(middleware.BodyLimit(fmt.Sprintf("%dK", cfg.MaxUploadBytes/1024+64)))

	// Register routes
	h.RegisterRoutes(server)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down medgaze...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Medgaze stopped")
}
