// Package api exposes extraction runs, the task list and the live progress
// stream over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/pipeline"
	"github.com/nhle/mailtasks/internal/progress"
	"github.com/nhle/mailtasks/internal/sse"
	"github.com/nhle/mailtasks/internal/store"
	"github.com/nhle/mailtasks/internal/sync"
)

// Runner starts on-demand runs and reports poller state.
type Runner interface {
	RunAccount(ctx context.Context, accountID string, sink progress.Sink) (pipeline.Summary, error)
	GetStatuses() []sync.SyncStatus
	RefreshAll()
}

// Inboxer lists recent mail across active accounts.
type Inboxer interface {
	Inbox(ctx context.Context, limit int) (pipeline.Inbox, error)
}

// Resetter clears ledger entries.
type Resetter interface {
	Clear(ctx context.Context, accountID string) (int64, error)
	ClearFailed(ctx context.Context, accountID string) (int64, error)
}

// Store is the read side the API needs.
type Store interface {
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
}

const (
	maxTaskLimit    = 500
	maxMessageLimit = 200
	pingInterval = 20 * time.Second
)

type Server struct {
	store  Store
	runner Runner
	inbox  Inboxer
	ledger Resetter
	hub    *sse.Hub
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(
	st Store,
	runner Runner,
	inbox Inboxer,
	ledger Resetter,
	hub *sse.Hub,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := &Server{
		store:  st,
		runner: runner,
		inbox:  inbox,
		ledger: ledger,
		hub:    hub,
		logger: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /api/accounts", server.handleAccounts)
	mux.HandleFunc("POST /api/accounts/{id}/extract", server.handleExtract)
	mux.HandleFunc("POST /api/accounts/{id}/reset", server.handleReset)
	mux.HandleFunc("POST /api/refresh", server.handleRefresh)
	mux.HandleFunc("GET /api/status", server.handleStatus)
	mux.HandleFunc("GET /api/messages", server.handleMessages)
	mux.HandleFunc("GET /api/tasks", server.handleTasks)
	mux.HandleFunc("GET /api/stream", server.handleStream)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.GetAccounts(r.Context())
	if err != nil {
		s.logger.Error("listing accounts", "error", err)
		http.Error(w, "unable to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	s.respondJSON(w, http.StatusOK, accounts)
}

// handleExtract runs one account and streams its progress as server-sent
// events. A run that finds no work, or fails before emitting anything, is
// answered with plain JSON instead.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.accountExists(w, r, id) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	streaming := false
	sink := progress.SinkFunc(func(e progress.Event) {
		if !streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			streaming = true
		}
		e.AccountID = id
		_, _ = w.Write(progress.SSE(e))
		flusher.Flush()
	})

	sum, err := s.runner.RunAccount(r.Context(), id, sink)
	if streaming {
		return
	}

	switch {
	case errors.Is(err, sync.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pipeline.ErrAccountInactive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pipeline.ErrServiceUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		s.logger.Error("extraction failed", "account", id, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.respondJSON(w, http.StatusOK, sum)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.accountExists(w, r, id) {
		return
	}

	failedOnly, _ := strconv.ParseBool(r.URL.Query().Get("failed"))
	var (
		n   int64
		err error
	)
	if failedOnly {
		n, err = s.ledger.ClearFailed(r.Context(), id)
	} else {
		n, err = s.ledger.Clear(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("resetting ledger", "account", id, "error", err)
		http.Error(w, "unable to reset ledger", http.StatusInternalServerError)
		return
	}
	s.logger.Info("ledger reset", "account", id, "failed_only", failedOnly, "cleared", n)
	s.respondJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.runner.RefreshAll()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := s.runner.GetStatuses()
	if statuses == nil {
		statuses = []sync.SyncStatus{}
	}
	s.respondJSON(w, http.StatusOK, statuses)
}

// handleMessages lists recent mail from every active account, newest
// first. Accounts that failed to list are reported under "errors".
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMessageLimit)
	}

	inbox, err := s.inbox.Inbox(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing messages", "error", err)
		http.Error(w, "unable to list messages", http.StatusInternalServerError)
		return
	}
	for id, reason := range inbox.Errors {
		s.logger.Warn("account listing failed", "account", id, "error", reason)
	}
	s.respondJSON(w, http.StatusOK, inbox)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tasks, err := s.store.GetTasks(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing tasks", "error", err)
		http.Error(w, "unable to list tasks", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	s.respondJSON(w, http.StatusOK, tasks)
}

// handleStream relays broadcast progress events. ?account= narrows the
// stream to one account.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topic := r.URL.Query().Get("account")
	if topic == "" {
		topic = sse.AllTopics
	}
	ch, unsubscribe := s.hub.Subscribe(topic)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) accountExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := s.store.GetAccount(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return false
		}
		s.logger.Error("loading account", "account", id, "error", err)
		http.Error(w, "unable to load account", http.StatusInternalServerError)
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseTaskFilter(r *http.Request) (store.TaskFilter, error) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		SortBy:   q.Get("sort"),
		SortDesc: q.Get("order") != "asc",
		Limit:    100,
	}
	if v := q.Get("account"); v != "" {
		filter.AccountID = &v
	}
	if v := q.Get("message"); v != "" {
		filter.MessageID = &v
	}
	if v := q.Get("q"); v != "" {
		filter.Query = &v
	}
	if v := q.Get("priority"); v != "" {
		p := model.Priority(strings.ToUpper(v))
		if !p.Valid() {
			return filter, errors.New("invalid priority")
		}
		filter.Priority = &p
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = min(n, maxTaskLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}
	return filter, nil
}
