package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server        ServerConfig
	DatabasePath  string
	JWTSecret     string
	PublicBaseURL string
	// NotifyGatewayURL is where notification payloads are posted. Empty
	// means notifications are logged instead of delivered.
	NotifyGatewayURL string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func LoadConfig() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "hookline.db"
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	baseURL := os.Getenv("PUBLIC_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	return &Config{
		Server: ServerConfig{
			Port: port,
			// Capture and event-stream connections stay open
			// indefinitely; only reads are bounded.
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		DatabasePath:     dbPath,
		JWTSecret:        secret,
		PublicBaseURL:    baseURL,
		NotifyGatewayURL: os.Getenv("NOTIFY_GATEWAY_URL"),
	}, nil
}
