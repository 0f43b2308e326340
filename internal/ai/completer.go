package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/mailtasks/internal/model"
)

// Completer is a language-model backend: one text completion endpoint and
// a cheap liveness check.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Ping(ctx context.Context) error
}

// ErrNoAPIKey is returned when a hosted backend is configured without a key.
var ErrNoAPIKey = errors.New("no API key configured")

// NewCompleter builds the backend selected by cfg.Provider.
func NewCompleter(cfg model.AIConfig) (Completer, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client := &http.Client{Timeout: timeout}

	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic backend: %w", ErrNoAPIKey)
		}
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, client), nil
	case "ollama":
		return NewOllama(cfg.Model, cfg.BaseURL, client), nil
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai backend: %w", ErrNoAPIKey)
		}
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, client), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
