package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nhle/mailtasks/internal/model"
)

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/messages":
			if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") != apiVersion {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"bad key"}}`)
				return
			}
			var req apiRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decoding request: %v", err)
			}
			if req.System == "" || len(req.Messages) != 1 || req.Messages[0].Content[0].Text != "hello" {
				t.Errorf("unexpected request: %+v", req)
			}
			fmt.Fprint(w, `{"content":[{"type":"text","text":"{\"tasks\":"},{"type":"text","text":"[]}"}]}`)
		case "/v1/models":
			fmt.Fprint(w, `{"data":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewAnthropic("key", "", srv.URL, 0, srv.Client())
	got, err := a.Complete(context.Background(), systemPrompt, "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"tasks":[]}` {
		t.Fatalf("expected joined text blocks, got %q", got)
	}
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	bad := NewAnthropic("wrong", "", srv.URL, 0, srv.Client())
	if _, err := bad.Complete(context.Background(), "", "hello"); err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var req ollamaRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Stream || req.Model != "llama3.1" {
				t.Errorf("unexpected request: %+v", req)
			}
			fmt.Fprint(w, `{"response":"{\"tasks\":[]}","done":true}`)
		case "/api/tags":
			fmt.Fprint(w, `{"models":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOllama("", srv.URL, srv.Client())
	got, err := o.Complete(context.Background(), "sys", "hello")
	if err != nil || got != `{"tasks":[]}` {
		t.Fatalf("Complete: %q %v", got, err)
	}
	if err := o.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOllamaPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewOllama("", url, nil).Ping(context.Background()); err == nil {
		t.Fatal("expected unreachable server to fail ping")
	}
}

func TestPingFailuresAreLowercase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pingers := map[string]interface{ Ping(context.Context) error }{
		"anthropic": NewAnthropic("key", "", srv.URL, 0, srv.Client()),
		"ollama":    NewOllama("", srv.URL, srv.Client()),
	}
	for name, p := range pingers {
		err := p.Ping(context.Background())
		if err == nil {
			t.Fatalf("%s: expected ping to fail on 503", name)
		}
		msg := err.Error()
		if msg != strings.ToLower(msg[:1])+msg[1:] || !strings.Contains(msg, "503") {
			t.Fatalf("%s: expected lowercase error with status, got %q", name, msg)
		}
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			if r.Header.Get("Authorization") != "Bearer key" {
				t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
			}
			fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",`+
				`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"tasks\":[]}"}}]}`)
		case "/v1/models":
			fmt.Fprint(w, `{"object":"list","data":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOpenAI("key", "", srv.URL+"/v1/", 0, srv.Client())
	got, err := o.Complete(context.Background(), "sys", "hello")
	if err != nil || got != `{"tasks":[]}` {
		t.Fatalf("Complete: %q %v", got, err)
	}
	if err := o.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestNewCompleterSelectsBackend(t *testing.T) {
	if _, err := NewCompleter(model.AIConfig{Provider: "anthropic"}); err == nil {
		t.Fatal("expected missing key error")
	}
	c, err := NewCompleter(model.AIConfig{Provider: "ollama"})
	if err != nil {
		t.Fatalf("NewCompleter: %v", err)
	}
	if _, ok := c.(*Ollama); !ok {
		t.Fatalf("expected *Ollama, got %T", c)
	}
	if _, err := NewCompleter(model.AIConfig{Provider: "bard"}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
