package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/mailtasks/internal/pipeline"
	"github.com/nhle/mailtasks/internal/progress"
	"github.com/nhle/mailtasks/internal/source"
)

// SyncState represents the current state of an account's extraction.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
	SyncAuthExpired
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	case SyncAuthExpired:
		return "auth_expired"
	default:
		return "idle"
	}
}

// SyncStatus holds the extraction state for a single account.
type SyncStatus struct {
	AccountID string           `json:"accountId"`
	State     SyncState        `json:"-"`
	StateName string           `json:"state"`
	LastSync  time.Time        `json:"lastSync,omitempty"`
	Last      pipeline.Summary `json:"last"`
	Error     string           `json:"error,omitempty"`
}

// ErrBusy is returned when an account already has a run in progress,
// whether started here, by the polling cycle, or by another process.
var ErrBusy = pipeline.ErrBusy

// Runner is the part of the pipeline the poller drives.
type Runner interface {
	Run(ctx context.Context, accountID string, sink progress.Sink) (pipeline.Summary, error)
	RunAll(ctx context.Context, sinkFor func(accountID string) progress.Sink) ([]pipeline.AccountOutcome, pipeline.Summary, error)
}

// Publisher receives encoded progress events per account.
type Publisher interface {
	Broadcast(topic string, payload []byte)
}

// runTimeout bounds a single polling cycle.
const runTimeout = 15 * time.Minute

// Poller runs extraction for all active accounts on an interval and on
// demand, and publishes every progress event.
type Poller struct {
	runner    Runner
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu       gosync.Mutex
	running  bool
	statuses map[string]*SyncStatus
	active   map[string]bool
}

// New creates a new Poller.
func New(runner Runner, publisher Publisher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		runner:    runner,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		statuses:  make(map[string]*SyncStatus),
		active:    make(map[string]bool),
	}
}

// Start launches the polling goroutine. It runs one cycle immediately.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
}

// Stop halts polling and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
}

// RefreshAll requests an immediate cycle. Requests made while a cycle is
// pending coalesce into one.
func (p *Poller) RefreshAll() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// RunAccount runs one account now, publishing its events and also
// forwarding them to sink. It returns ErrBusy if the account is already
// being processed.
func (p *Poller) RunAccount(ctx context.Context, accountID string, sink progress.Sink) (pipeline.Summary, error) {
	if !p.acquire(accountID) {
		return pipeline.Summary{}, ErrBusy
	}
	defer p.release(accountID)

	p.setStatus(accountID, SyncRunning, pipeline.Summary{}, nil)
	sum, err := p.runner.Run(ctx, accountID, progress.Multi(p.sinkFor(accountID), sink))
	p.finish(accountID, sum, err)
	return sum, err
}

// GetStatuses returns the current status of every account seen so far.
func (p *Poller) GetStatuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

func (p *Poller) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.cycle()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cycle()
		case <-p.triggerCh:
			p.cycle()
		}
	}
}

// cycle runs every active account once.
func (p *Poller) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	// Stop cancels an in-flight cycle.
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Accounts the cycle runs stay held until it ends, so RunAccount
	// cannot overlap them. An account already held by RunAccount gets a
	// silent sink here and is turned away by the pipeline's claim.
	var (
		heldMu gosync.Mutex
		held   = make(map[string]bool)
	)
	defer func() {
		for id := range held {
			p.release(id)
		}
	}()

	outcomes, total, err := p.runner.RunAll(ctx, func(accountID string) progress.Sink {
		if !p.acquire(accountID) {
			return progress.Discard
		}
		heldMu.Lock()
		held[accountID] = true
		heldMu.Unlock()

		p.setStatus(accountID, SyncRunning, pipeline.Summary{}, nil)
		return p.sinkFor(accountID)
	})
	if err != nil {
		p.logger.Error("polling cycle failed", "error", err)
		return
	}

	for _, o := range outcomes {
		if !held[o.AccountID] {
			p.logger.Debug("account busy, skipped by cycle", "account", o.AccountID)
			continue
		}
		p.finish(o.AccountID, o.Summary, o.Err)
	}
	p.logger.Info("polling cycle complete",
		"accounts", len(outcomes), "processed", total.Processed, "created", total.Created)
}

func (p *Poller) sinkFor(accountID string) progress.Sink {
	if p.publisher == nil {
		return progress.Discard
	}
	return progress.WithAccount(accountID, progress.SinkFunc(func(e progress.Event) {
		p.publisher.Broadcast(accountID, progress.SSE(e))
	}))
}

func (p *Poller) finish(accountID string, sum pipeline.Summary, err error) {
	switch {
	case err == nil:
		p.setStatus(accountID, SyncIdle, sum, nil)
	case errors.Is(err, ErrBusy):
		// Another process ran it; keep the last known result.
		p.logger.Debug("account busy elsewhere", "account", accountID)
		p.mu.Lock()
		if status, ok := p.statuses[accountID]; ok {
			status.State = SyncIdle
			status.StateName = SyncIdle.String()
		}
		p.mu.Unlock()
	case source.IsAuthExpired(err):
		p.logger.Warn("account needs to sign in again", "account", accountID, "error", err)
		p.setStatus(accountID, SyncAuthExpired, sum, err)
	default:
		p.logger.Warn("account extraction failed", "account", accountID, "error", err)
		p.setStatus(accountID, SyncError, sum, err)
	}
}

func (p *Poller) acquire(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[accountID] {
		return false
	}
	p.active[accountID] = true
	return true
}

func (p *Poller) release(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, accountID)
}

// setStatus updates the sync status for an account.
func (p *Poller) setStatus(accountID string, state SyncState, sum pipeline.Summary, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[accountID]
	if !ok {
		status = &SyncStatus{AccountID: accountID}
		p.statuses[accountID] = status
	}

	status.State = state
	status.StateName = state.String()
	status.Error = ""
	if err != nil {
		status.Error = err.Error()
	}
	if state != SyncRunning {
		status.Last = sum
	}
	if state == SyncIdle {
		status.LastSync = time.Now()
	}
}
