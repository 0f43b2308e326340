package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOllamaModel = "llama3.1"
	defaultOllamaURL   = "http://localhost:11434"
)

// Ollama calls a local Ollama server's generate endpoint.
type Ollama struct {
	model   string
	baseURL string
	client  *http.Client
}

// NewOllama creates an Ollama backend.
func NewOllama(modelName, baseURL string, client *http.Client) *Ollama {
	if modelName == "" {
		modelName = defaultOllamaModel
	}
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Ollama{model: modelName, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Complete runs a non-streaming generation.
func (o *Ollama) Complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		System: system,
		Prompt: prompt,
		Format: "json",
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Ollama: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var result ollamaResponse
	decodeErr := json.Unmarshal(respBody, &result)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && result.Error != "" {
			return "", fmt.Errorf("ollama error (%d): %s", resp.StatusCode, result.Error)
		}
		return "", fmt.Errorf("ollama error (%d): %s", resp.StatusCode, string(respBody))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decoding response: %w", decodeErr)
	}
	return result.Response, nil
}

// Ping checks the server answers its model listing.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("reaching Ollama: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama liveness check returned %d", resp.StatusCode)
	}
	return nil
}
