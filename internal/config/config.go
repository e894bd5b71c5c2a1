package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the sync core.
type Config struct {
	// WebSocketURL is the push channel endpoint.
	WebSocketURL string `validate:"required,url"`
	// APIBaseURL is the REST fallback base URL.
	APIBaseURL string `validate:"required,url"`
	// Token is the bearer credential. Real applications provide a
	// TokenProvider instead; the static token serves the CLI.
	Token string `validate:"required"`
	// Username is the local user's account name, used to filter own
	// typing echoes.
	Username string `validate:"required"`
	// DisplayName labels optimistic entries; defaults to Username.
	DisplayName string

	// ConnectTimeout bounds a single connect attempt.
	ConnectTimeout time.Duration
}

// New loads configuration from environment variables, consulting a .env
// file when present.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		WebSocketURL: os.Getenv("SQUADBETS_WS_URL"),
		APIBaseURL:   os.Getenv("SQUADBETS_API_URL"),
		Token:        os.Getenv("SQUADBETS_TOKEN"),
		Username:     os.Getenv("SQUADBETS_USERNAME"),
		DisplayName:  os.Getenv("SQUADBETS_DISPLAY_NAME"),
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.Username
	}

	if v := os.Getenv("SQUADBETS_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse SQUADBETS_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = d
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
