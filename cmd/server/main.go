package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hookline/hookline/internal/auth"
	"github.com/hookline/hookline/internal/bus"
	"github.com/hookline/hookline/internal/capture"
	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/handler"
	"github.com/hookline/hookline/internal/notify"
	"github.com/hookline/hookline/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables from OS")
	}

	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	s, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	var transport notify.Transport
	if cfg.NotifyGatewayURL != "" {
		transport = notify.NewHTTPTransport(cfg.NotifyGatewayURL)
	} else {
		logger.Println("NOTIFY_GATEWAY_URL not set, notifications will be logged only")
		transport = &notify.LogTransport{Logger: logger}
	}

	fanout := bus.New(s, logger)
	router := notify.NewRouter(s, transport, cfg.PublicBaseURL, logger)
	pipeline := capture.NewPipeline(s, fanout, router, logger)
	settings := notify.NewSettings(s)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	h := handler.NewHandler(s, pipeline, fanout, settings, verifier, cfg.PublicBaseURL, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Cannot run server on port %s: %v", cfg.Server.Port, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Println("Shutting down the server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server shutdown failed: %v", err)
	}
	logger.Println("Server successfully shut down")
}
