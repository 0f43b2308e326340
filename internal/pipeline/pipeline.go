// Package pipeline runs extraction for one account at a time: fetch recent
// messages, drop the ones already in the ledger, extract tasks in batches,
// persist tasks and ledger entries, and report progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nhle/mailtasks/internal/ai"
	"github.com/nhle/mailtasks/internal/fanout"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/progress"
	"github.com/nhle/mailtasks/internal/source"
)

var (
	// ErrAccountInactive is returned before any I/O when the account is
	// disabled.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrServiceUnavailable is returned before any ledger write when the
	// language model cannot be reached.
	ErrServiceUnavailable = errors.New("extraction service unavailable")

	// ErrBusy is returned without events when another run holds the
	// account.
	ErrBusy = errors.New("extraction already running for account")
)

// Credentials resolves account credentials.
type Credentials interface {
	Account(ctx context.Context, accountID string) (model.Account, error)
	Get(ctx context.Context, accountID string) (model.Credential, error)
	Active(ctx context.Context) ([]model.Credential, map[string]error, error)
}

// Fetcher lists messages across accounts.
type Fetcher interface {
	ListMessages(ctx context.Context, accounts []model.Credential, maxResults int, filter source.Filter) fanout.Result
}

// Extractor turns batches of messages into task drafts.
type Extractor interface {
	Available(ctx context.Context) error
	ExtractBatch(ctx context.Context, msgs []model.Message) (ai.BatchResult, error)
}

// Ledger is the processed-message gate. Commit stores a message's tasks
// and its entry atomically; TryClaim keeps one run per account.
type Ledger interface {
	Unprocessed(ctx context.Context, accountID string, msgs []model.Message) ([]model.Message, error)
	MarkProcessed(ctx context.Context, accountID, messageID string, taskCount int, status model.LedgerStatus) error
	Commit(ctx context.Context, accountID, messageID string, tasks []model.Task) ([]model.Task, error)
	TryClaim(ctx context.Context, accountID string) (release func(), ok bool, err error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Credentials Credentials
	Fetcher     Fetcher
	Extractor   Extractor
	Ledger      Ledger
	Logger      *slog.Logger
}

// Config sizes a run.
type Config struct {
	// Window is how many recent messages are fetched per run.
	Window int

	// BatchSize is how many messages share one model call.
	BatchSize int

	// Concurrency bounds how many accounts RunAll processes at once.
	Concurrency int

	// Filters scopes listing per provider.
	Filters map[model.Provider]source.Filter
}

// Summary totals one run.
type Summary struct {
	Processed int `json:"processed"`
	Extracted int `json:"extracted"`
	Created   int `json:"created"`
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.Processed += other.Processed
	s.Extracted += other.Extracted
	s.Created += other.Created
}

// Pipeline is the batch extraction orchestrator.
type Pipeline struct {
	creds     Credentials
	fetcher   Fetcher
	extractor Extractor
	ledger    Ledger
	logger    *slog.Logger
	cfg       Config
}

// New creates a pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.Window <= 0 {
		cfg.Window = 50
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Pipeline{
		creds:     deps.Credentials,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		ledger:    deps.Ledger,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// Run extracts tasks from one account's unprocessed messages. Failures
// before batching starts are reported through an error event and
// returned. Failures inside a batch are absorbed: the batch's remaining
// messages are marked failed and the run moves on. A run finding the
// account claimed by another returns ErrBusy and emits nothing.
func (p *Pipeline) Run(ctx context.Context, accountID string, sink progress.Sink) (Summary, error) {
	if sink == nil {
		sink = progress.Discard
	}
	fail := func(err error) (Summary, error) {
		sink.Emit(progress.Event{Kind: progress.KindError, Error: err.Error()})
		return Summary{}, err
	}

	acct, err := p.creds.Account(ctx, accountID)
	if err != nil {
		return fail(fmt.Errorf("resolving account %s: %w", accountID, err))
	}
	if !acct.Active {
		return fail(fmt.Errorf("%w: %s", ErrAccountInactive, accountID))
	}

	release, ok, err := p.ledger.TryClaim(ctx, accountID)
	if err != nil {
		return fail(fmt.Errorf("claiming account %s: %w", accountID, err))
	}
	if !ok {
		p.logger.Debug("account busy, skipping", "account", accountID)
		return Summary{}, fmt.Errorf("%w: %s", ErrBusy, accountID)
	}
	defer release()

	cred, err := p.creds.Get(ctx, accountID)
	if err != nil {
		return fail(fmt.Errorf("resolving account %s: %w", accountID, err))
	}

	if err := p.extractor.Available(ctx); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrServiceUnavailable, err))
	}

	msgs, err := p.fetch(ctx, cred)
	if err != nil {
		return fail(err)
	}

	pending, err := p.ledger.Unprocessed(ctx, cred.ID, msgs)
	if err != nil {
		return fail(fmt.Errorf("filtering processed messages: %w", err))
	}
	if len(pending) == 0 {
		p.logger.Debug("nothing to extract", "account", cred.ID, "fetched", len(msgs))
		return Summary{}, nil
	}

	batches := partition(pending, p.cfg.BatchSize)
	r := &run{
		p:       p,
		cred:    cred,
		sink:    sink,
		total:   len(pending),
		batches: len(batches),
	}

	sink.Emit(progress.Event{
		Kind:    progress.KindStart,
		Message: fmt.Sprintf("Extracting tasks from %s", cred.Name()),
	})
	sink.Emit(progress.Event{
		Kind:    progress.KindProgress,
		Message: fmt.Sprintf("Found %d new messages in %d batches", len(pending), len(batches)),
		Current: 0,
		Total:   len(pending),
	})

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			sink.Emit(progress.Event{Kind: progress.KindError, Error: err.Error()})
			return r.sum, err
		}
		r.batch(ctx, i, batch)
	}

	sink.Emit(progress.Event{
		Kind:      progress.KindComplete,
		Message:   fmt.Sprintf("Processed %d messages, created %d tasks", r.sum.Processed, r.sum.Created),
		Extracted: r.sum.Extracted,
		Created:   r.sum.Created,
	})

	p.logger.Info("extraction complete",
		"account", cred.ID,
		"processed", r.sum.Processed,
		"extracted", r.sum.Extracted,
		"created", r.sum.Created,
	)
	return r.sum, nil
}

// fetch lists the account's recent messages.
func (p *Pipeline) fetch(ctx context.Context, cred model.Credential) ([]model.Message, error) {
	res := p.fetcher.ListMessages(ctx, []model.Credential{cred}, p.cfg.Window, p.cfg.Filters[cred.Provider])
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("fetching messages: %w", res.Errors[0])
	}
	return res.Messages, nil
}

// partition splits msgs into consecutive batches of at most size.
func partition(msgs []model.Message, size int) [][]model.Message {
	var batches [][]model.Message
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		batches = append(batches, msgs[start:end])
	}
	return batches
}
