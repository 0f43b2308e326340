package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mailtasks/internal/ai"
	"github.com/nhle/mailtasks/internal/fanout"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/pipeline"
	"github.com/nhle/mailtasks/internal/source"
	"github.com/nhle/mailtasks/internal/source/email"
	"github.com/nhle/mailtasks/internal/source/gmail"
)

// Keyring secret names.
const (
	secretAIKey             = "ai-api-key"
	secretGmailClientSecret = "gmail-client-secret"
)

// oauthConfig returns the Gmail OAuth client, or nil when no client ID is
// configured (tokens then cannot be refreshed).
func (e *env) oauthConfig() *oauth2.Config {
	g := e.cfg.Gmail
	if g.ClientID == "" {
		return nil
	}
	secret := g.ClientSecret
	if secret == "" {
		secret, _ = e.vault.Secret(secretGmailClientSecret)
	}
	redirect := g.RedirectURL
	if redirect == "" {
		redirect = "urn:ietf:wg:oauth:2.0:oob"
	}
	return gmail.OAuthConfig(g.ClientID, secret, redirect, g.TokenURL)
}

// aiConfig fills the API key from the keyring or the provider's usual
// environment variable when config leaves it empty.
func (e *env) aiConfig() model.AIConfig {
	cfg := e.cfg.AI
	if cfg.APIKey != "" {
		return cfg
	}
	if key, err := e.vault.Secret(secretAIKey); err == nil && key != "" {
		cfg.APIKey = key
		return cfg
	}
	switch cfg.Provider {
	case "openai":
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	case "", "anthropic":
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return cfg
}

// pipeline wires providers, fan-out, the extractor and the stores.
func (e *env) pipeline() (*pipeline.Pipeline, error) {
	aiCfg := e.aiConfig()
	llm, err := ai.NewCompleter(aiCfg)
	if err != nil {
		if errors.Is(err, ai.ErrNoAPIKey) {
			return nil, fmt.Errorf("%w: set MAILTASKS_AI_API_KEY or store one with `mailtasks login --ai-key`", err)
		}
		return nil, err
	}
	extractor := ai.NewExtractor(llm, ai.Options{
		ContextTokens: aiCfg.ContextTokens,
		ReplyTokens:   aiCfg.MaxTokens,
		MessageChars:  aiCfg.MessageChars,
		Logger:        e.logger,
	})
	return e.newPipeline(extractor), nil
}

// newPipeline builds a pipeline around extractor. A nil extractor is
// enough for listing mail.
func (e *env) newPipeline(extractor pipeline.Extractor) *pipeline.Pipeline {
	g := e.cfg.Gmail
	client := gmail.NewClient(gmail.Options{
		OAuth:             e.oauthConfig(),
		Endpoint:          g.Endpoint,
		Persist:           e.creds.Update,
		Logger:            e.logger,
		DefaultRetryAfter: time.Duration(g.DefaultRetryAfterSec) * time.Second,
		MaxRetryAfter:     time.Duration(g.MaxRetryAfterSec) * time.Second,
		MaxRateRetries:    g.MaxRateRetries,
	})

	fetcher := fanout.New(map[model.Provider]source.Provider{
		model.ProviderGmail: gmail.NewProvider(client, e.logger),
		model.ProviderIMAP:  email.NewProvider(e.logger),
	}, e.logger)

	query := g.Query
	if query == "" {
		query = model.DefaultGmailQuery
	}

	p := e.cfg.Pipeline
	return pipeline.New(pipeline.Deps{
		Credentials: e.creds,
		Fetcher:     fetcher,
		Extractor:   extractor,
		Ledger:      e.ledger,
		Logger:      e.logger,
	}, pipeline.Config{
		Window:      p.Window,
		BatchSize:   p.BatchSize,
		Concurrency: p.Concurrency,
		Filters: map[model.Provider]source.Filter{
			model.ProviderGmail: {Query: query, ExcludeLabels: source.DefaultExcludeLabels},
			model.ProviderIMAP:  {},
		},
	})
}
