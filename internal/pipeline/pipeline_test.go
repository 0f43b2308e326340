package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/99designs/keyring"

	"github.com/nhle/mailtasks/internal/ai"
	"github.com/nhle/mailtasks/internal/credential"
	"github.com/nhle/mailtasks/internal/fanout"
	"github.com/nhle/mailtasks/internal/ledger"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/pipeline"
	"github.com/nhle/mailtasks/internal/progress"
	"github.com/nhle/mailtasks/internal/source"
	"github.com/nhle/mailtasks/internal/store"
	"github.com/nhle/mailtasks/tests/testutil"
)

// mailbox is a source.Provider serving fixed messages per account.
type mailbox struct {
	messages map[string][]model.Message
	errs     map[string]error
}

func (m *mailbox) ListMessages(
	_ context.Context,
	cred model.Credential,
	maxResults int,
	_ source.Filter,
) ([]model.Message, model.Credential, error) {
	if err := m.errs[cred.ID]; err != nil {
		return nil, cred, err
	}
	msgs := append([]model.Message(nil), m.messages[cred.ID]...)
	if len(msgs) > maxResults {
		msgs = msgs[:maxResults]
	}
	return msgs, cred, nil
}

// fakeExtractor answers batches through respond.
type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	pingErr error
	respond func(call int, msgs []model.Message) (ai.BatchResult, error)
}

func (f *fakeExtractor) Available(context.Context) error { return f.pingErr }

func (f *fakeExtractor) ExtractBatch(_ context.Context, msgs []model.Message) (ai.BatchResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.respond == nil {
		return ai.BatchResult{}, nil
	}
	return f.respond(call, msgs)
}

// oneTaskPerMessage returns one combined task per message.
func oneTaskPerMessage(_ int, msgs []model.Message) (ai.BatchResult, error) {
	var res ai.BatchResult
	for _, m := range msgs {
		res.Tasks = append(res.Tasks, ai.Draft{Title: "Follow up on " + m.Subject, Priority: "HIGH"})
	}
	return res, nil
}

type harness struct {
	store     *store.SQLiteStore
	creds     *credential.Store
	mailbox   *mailbox
	extractor *fakeExtractor
	pipeline  *pipeline.Pipeline
}

func newHarness(t *testing.T, accounts ...string) *harness {
	t.Helper()

	s := testutil.NewTestStore(t)
	vault := credential.NewVault(keyring.NewArrayKeyring(nil))
	for _, id := range accounts {
		testutil.AddAccount(t, s, id)
		if err := vault.SetTokens(id, model.Tokens{AccessToken: "at", RefreshToken: "rt"}); err != nil {
			t.Fatalf("SetTokens: %v", err)
		}
	}

	h := &harness{
		store:     s,
		creds:     credential.NewStore(s, vault),
		mailbox:   &mailbox{messages: map[string][]model.Message{}},
		extractor: &fakeExtractor{respond: oneTaskPerMessage},
	}
	h.pipeline = h.build(ledger.New(s))
	return h
}

// build wires a pipeline over the harness with the given ledger.
func (h *harness) build(l pipeline.Ledger) *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Credentials: h.creds,
		Fetcher:     fanout.New(map[model.Provider]source.Provider{model.ProviderGmail: h.mailbox}, nil),
		Extractor:   h.extractor,
		Ledger:      l,
	}, pipeline.Config{Window: 50, BatchSize: 5, Concurrency: 2})
}

func messages(n int) []model.Message {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]model.Message, n)
	for i := range msgs {
		msgs[i] = model.Message{
			ID:         fmt.Sprintf("msg-%02d", i+1),
			Subject:    fmt.Sprintf("Topic %d", i+1),
			From:       "boss@example.com",
			To:         []string{"me@example.com"},
			ReceivedAt: base.Add(-time.Duration(i) * time.Minute),
			Body:       "Please take care of this.",
		}
	}
	return msgs
}

func (h *harness) taskCount(t *testing.T) int {
	t.Helper()
	tasks, err := h.store.GetTasks(context.Background(), store.TaskFilter{})
	if err != nil {
		t.Fatalf("GetTasks: %v", err)
	}
	return len(tasks)
}

func (h *harness) ledgerByID(t *testing.T, accountID string) map[string]model.LedgerEntry {
	t.Helper()
	entries, err := h.store.GetLedger(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	out := make(map[string]model.LedgerEntry, len(entries))
	for _, e := range entries {
		out[e.MessageID] = e
	}
	return out
}

func TestRunExtractsAndIsIdempotent(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(7)
	ctx := context.Background()

	rec := &progress.Recorder{}
	sum, err := h.pipeline.Run(ctx, "a1", rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum != (pipeline.Summary{Processed: 7, Extracted: 7, Created: 7}) {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if h.taskCount(t) != 7 {
		t.Fatalf("expected 7 tasks, got %d", h.taskCount(t))
	}
	if h.extractor.calls != 2 {
		t.Fatalf("expected 2 batches, got %d calls", h.extractor.calls)
	}

	kinds := rec.Kinds()
	if kinds[0] != progress.KindStart || kinds[1] != progress.KindProgress || kinds[2] != progress.KindBatch {
		t.Fatalf("unexpected leading events: %v", kinds[:3])
	}
	if kinds[len(kinds)-1] != progress.KindComplete {
		t.Fatalf("expected complete last, got %v", kinds[len(kinds)-1])
	}
	plan := rec.Events()[1]
	if plan.Total != 7 {
		t.Fatalf("expected progress to announce 7 messages, got %+v", plan)
	}
	var batches, msgEvents, created int
	for _, e := range rec.Events() {
		switch e.Kind {
		case progress.KindBatch:
			batches++
			if e.TotalBatches != 2 {
				t.Fatalf("expected 2 total batches, got %+v", e)
			}
		case progress.KindMessage:
			msgEvents++
		case progress.KindTaskCreated:
			created++
		}
	}
	if batches != 2 || msgEvents != 7 || created != 7 {
		t.Fatalf("unexpected event counts: batches=%d messages=%d created=%d", batches, msgEvents, created)
	}

	// Second run over the same mailbox does nothing.
	rec2 := &progress.Recorder{}
	sum, err = h.pipeline.Run(ctx, "a1", rec2)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum != (pipeline.Summary{}) {
		t.Fatalf("expected zero summary on second run, got %+v", sum)
	}
	if len(rec2.Events()) != 0 {
		t.Fatalf("expected no events on second run, got %v", rec2.Kinds())
	}
	if h.taskCount(t) != 7 || h.extractor.calls != 2 {
		t.Fatalf("second run created tasks or called the model")
	}
}

func TestRunZeroWorkHasNoSideEffects(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()

	rec := &progress.Recorder{}
	sum, err := h.pipeline.Run(ctx, "a1", rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum != (pipeline.Summary{}) || len(rec.Events()) != 0 {
		t.Fatalf("expected silent zero run, got %+v %v", sum, rec.Kinds())
	}
	if h.taskCount(t) != 0 || len(h.ledgerByID(t, "a1")) != 0 {
		t.Fatal("expected no writes")
	}
}

func TestRunPartialFailureConverges(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(15)
	h.extractor.respond = func(call int, msgs []model.Message) (ai.BatchResult, error) {
		if call == 2 {
			return ai.BatchResult{}, errors.New("model timed out")
		}
		return oneTaskPerMessage(call, msgs)
	}
	ctx := context.Background()

	rec := &progress.Recorder{}
	sum, err := h.pipeline.Run(ctx, "a1", rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Processed != 15 || sum.Created != 10 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if rec.Kinds()[len(rec.Kinds())-1] != progress.KindComplete {
		t.Fatal("expected run to complete")
	}

	entries := h.ledgerByID(t, "a1")
	if len(entries) != 15 {
		t.Fatalf("expected every message in the ledger, got %d", len(entries))
	}
	for i, m := range messages(15) {
		e := entries[m.ID]
		inFailedBatch := i >= 5 && i < 10
		switch {
		case inFailedBatch && (e.Status != model.LedgerFailed || e.TaskCount != 0):
			t.Fatalf("%s: expected failed with 0 tasks, got %+v", m.ID, e)
		case !inFailedBatch && (e.Status != model.LedgerExtracted || e.TaskCount != 1):
			t.Fatalf("%s: expected extracted with 1 task, got %+v", m.ID, e)
		}
	}

	// Failed messages are not retried on the next run.
	if sum, _ := h.pipeline.Run(ctx, "a1", nil); sum.Processed != 0 {
		t.Fatalf("expected nothing left to process, got %+v", sum)
	}
}

func TestRunFallbackMarksFailedMessage(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(3)
	h.extractor.respond = func(_ int, msgs []model.Message) (ai.BatchResult, error) {
		return ai.BatchResult{Fallback: true, Results: []ai.MessageResult{
			{MessageID: msgs[0].ID, Result: ai.Result{Tasks: []ai.Draft{{Title: "ok"}}}},
			{MessageID: msgs[1].ID, Err: errors.New("model refused")},
			{MessageID: msgs[2].ID, Result: ai.Result{Tasks: []ai.Draft{{Title: "also ok"}}}},
		}}, nil
	}

	sum, err := h.pipeline.Run(context.Background(), "a1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Processed != 3 || sum.Created != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	entries := h.ledgerByID(t, "a1")
	if entries["msg-02"].Status != model.LedgerFailed {
		t.Fatalf("expected msg-02 failed, got %+v", entries["msg-02"])
	}
	if entries["msg-01"].Status != model.LedgerExtracted || entries["msg-03"].TaskCount != 1 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestRunInactiveAccount(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(3)
	ctx := context.Background()
	if err := h.store.SetAccountActive(ctx, "a1", false); err != nil {
		t.Fatalf("SetAccountActive: %v", err)
	}

	rec := &progress.Recorder{}
	_, err := h.pipeline.Run(ctx, "a1", rec)
	if !errors.Is(err, pipeline.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if kinds := rec.Kinds(); len(kinds) != 1 || kinds[0] != progress.KindError {
		t.Fatalf("expected a single error event, got %v", kinds)
	}
	if h.extractor.calls != 0 {
		t.Fatal("extractor must not be called for inactive accounts")
	}

	// A disabled account without stored tokens is still reported inactive.
	testutil.AddAccount(t, h.store, "a2")
	if err := h.store.SetAccountActive(ctx, "a2", false); err != nil {
		t.Fatalf("SetAccountActive: %v", err)
	}
	if _, err := h.pipeline.Run(ctx, "a2", nil); !errors.Is(err, pipeline.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive for tokenless account, got %v", err)
	}
}

func TestRunServiceUnavailable(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(3)
	h.extractor.pingErr = errors.New("connection refused")

	_, err := h.pipeline.Run(context.Background(), "a1", nil)
	if !errors.Is(err, pipeline.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if len(h.ledgerByID(t, "a1")) != 0 {
		t.Fatal("expected no ledger writes before the model is reachable")
	}
}

func TestRunNormalizesDrafts(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(1)
	h.extractor.respond = func(int, []model.Message) (ai.BatchResult, error) {
		return ai.BatchResult{Tasks: []ai.Draft{
			{Title: "  Ship release  ", Priority: "LOW|MEDIUM|HIGH|URGENT", DueDate: "2024-02-30"},
			{Title: "Renew domain", Priority: "", DueDate: "2024-06-01"},
		}}, nil
	}
	ctx := context.Background()

	if _, err := h.pipeline.Run(ctx, "a1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tasks, err := h.store.GetTasks(ctx, store.TaskFilter{SortBy: "title"})
	if err != nil || len(tasks) != 2 {
		t.Fatalf("GetTasks: %v (%d tasks)", err, len(tasks))
	}
	renew, ship := tasks[0], tasks[1]
	if ship.Title != "Ship release" || ship.Priority != model.PriorityLow || ship.DueDate != nil {
		t.Fatalf("unexpected normalized task: %+v", ship)
	}
	if renew.Priority != model.PriorityMedium || renew.DueDate == nil || renew.DueDate.Format("2006-01-02") != "2024-06-01" {
		t.Fatalf("unexpected normalized task: %+v", renew)
	}
	if ship.Sender != "boss@example.com" || ship.MessageID != "msg-01" {
		t.Fatalf("expected message metadata on task, got %+v", ship)
	}
}

func TestRunAllAccounts(t *testing.T) {
	h := newHarness(t, "a1", "a2", "a3")
	h.mailbox.messages["a1"] = messages(2)
	h.mailbox.messages["a2"] = messages(3)
	ctx := context.Background()
	if err := h.store.SetAccountActive(ctx, "a3", false); err != nil {
		t.Fatalf("SetAccountActive: %v", err)
	}

	recorders := map[string]*progress.Recorder{"a1": {}, "a2": {}}
	outcomes, total, err := h.pipeline.RunAll(ctx, func(id string) progress.Sink {
		return recorders[id]
	})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0].AccountID != "a1" || outcomes[1].AccountID != "a2" {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if total.Created != 5 || total.Processed != 5 {
		t.Fatalf("unexpected total: %+v", total)
	}
	for id, rec := range recorders {
		if kinds := rec.Kinds(); kinds[len(kinds)-1] != progress.KindComplete {
			t.Fatalf("%s: expected complete event, got %v", id, kinds)
		}
	}
}

// blockFirstCall makes the first batch wait until release is closed and
// signals entered once it is waiting.
func blockFirstCall(entered, release chan struct{}) func(int, []model.Message) (ai.BatchResult, error) {
	return func(call int, msgs []model.Message) (ai.BatchResult, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return oneTaskPerMessage(call, msgs)
	}
}

func TestRunRejectsOverlappingRun(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(2)
	entered, release := make(chan struct{}), make(chan struct{})
	h.extractor.respond = blockFirstCall(entered, release)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.pipeline.Run(ctx, "a1", nil)
		done <- err
	}()
	<-entered

	// A second process sharing the database sees the claim too.
	other := h.build(ledger.New(h.store))
	rec := &progress.Recorder{}
	if _, err := other.Run(ctx, "a1", rec); !errors.Is(err, pipeline.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("expected no events from a busy run, got %v", rec.Kinds())
	}

	outcomes, _, err := h.pipeline.RunAll(ctx, nil)
	if err != nil || len(outcomes) != 1 || !errors.Is(outcomes[0].Err, pipeline.ErrBusy) {
		t.Fatalf("expected RunAll to report a1 busy, got %+v %v", outcomes, err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := h.taskCount(t); n != 2 {
		t.Fatalf("expected 2 tasks after overlapping runs, got %d", n)
	}

	// The claim is released once the run ends.
	if _, err := other.Run(ctx, "a1", nil); err != nil {
		t.Fatalf("Run after release: %v", err)
	}
}

// unclaimedLedger grants every claim, as if two runs raced past it.
type unclaimedLedger struct {
	*ledger.Ledger
}

func (unclaimedLedger) TryClaim(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

func TestRunDropsMessagesRecordedByOtherRun(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(2)
	entered, release := make(chan struct{}), make(chan struct{})
	h.extractor.respond = blockFirstCall(entered, release)
	p := h.build(unclaimedLedger{ledger.New(h.store)})
	ctx := context.Background()

	type result struct {
		sum pipeline.Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := p.Run(ctx, "a1", nil)
		done <- result{sum, err}
	}()
	<-entered

	sum, err := p.Run(ctx, "a1", nil)
	if err != nil || sum.Created != 2 {
		t.Fatalf("second run: %+v %v", sum, err)
	}

	close(release)
	late := <-done
	if late.err != nil {
		t.Fatalf("first run: %v", late.err)
	}
	if late.sum.Created != 0 || late.sum.Processed != 0 {
		t.Fatalf("expected late run to drop its tasks, got %+v", late.sum)
	}
	if n := h.taskCount(t); n != 2 {
		t.Fatalf("expected 2 tasks, got %d", n)
	}
}

// collidingStore gives a message's tasks the same ID while collide is
// set, so the second insert fails inside the transaction.
type collidingStore struct {
	*store.SQLiteStore
	collide bool
}

func (c *collidingStore) RecordExtraction(
	ctx context.Context,
	entry model.LedgerEntry,
	tasks []model.Task,
) ([]model.Task, error) {
	if c.collide {
		for i := range tasks {
			tasks[i].ID = "same-id"
		}
	}
	return c.SQLiteStore.RecordExtraction(ctx, entry, tasks)
}

func TestRunFailedCommitLeavesNoTasks(t *testing.T) {
	h := newHarness(t, "a1")
	h.mailbox.messages["a1"] = messages(1)
	h.extractor.respond = func(int, []model.Message) (ai.BatchResult, error) {
		return ai.BatchResult{Tasks: []ai.Draft{{Title: "Book venue"}, {Title: "Send invites"}}}, nil
	}
	cs := &collidingStore{SQLiteStore: h.store, collide: true}
	l := ledger.New(cs)
	p := h.build(l)
	ctx := context.Background()

	sum, err := p.Run(ctx, "a1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum != (pipeline.Summary{Processed: 1}) {
		t.Fatalf("expected one failed message and nothing created, got %+v", sum)
	}
	if n := h.taskCount(t); n != 0 {
		t.Fatalf("expected no tasks from the failed message, got %d", n)
	}
	if e := h.ledgerByID(t, "a1")["msg-01"]; e.Status != model.LedgerFailed || e.TaskCount != 0 {
		t.Fatalf("expected failed entry with 0 tasks, got %+v", e)
	}

	cs.collide = false
	if _, err := l.ClearFailed(ctx, "a1"); err != nil {
		t.Fatalf("ClearFailed: %v", err)
	}
	sum, err = p.Run(ctx, "a1", nil)
	if err != nil || sum.Created != 2 {
		t.Fatalf("retry: %+v %v", sum, err)
	}
	if n := h.taskCount(t); n != 2 {
		t.Fatalf("expected 2 tasks after retry, got %d", n)
	}
}

func TestInboxMergesAccountsAndReportsFailures(t *testing.T) {
	h := newHarness(t, "a1", "a2", "a3")
	testutil.AddAccount(t, h.store, "a4") // no tokens stored
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.mailbox.messages["a1"] = []model.Message{
		{ID: "x", Subject: "newest", ReceivedAt: base},
		{ID: "z", Subject: "oldest", ReceivedAt: base.Add(-3 * time.Hour)},
	}
	h.mailbox.messages["a2"] = []model.Message{
		{ID: "y", Subject: "middle", ReceivedAt: base.Add(-time.Hour)},
		{ID: "w", Subject: "tie", ReceivedAt: base},
	}
	h.mailbox.errs = map[string]error{"a3": errors.New("mailbox offline")}

	if err := h.store.MarkProcessed(ctx, model.LedgerEntry{AccountID: "a2", MessageID: "y"}); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	inbox, err := h.pipeline.Inbox(ctx, 3)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}

	var got []string
	for _, m := range inbox.Messages {
		got = append(got, m.AccountID+"/"+m.ID)
	}
	if want := []string{"a2/w", "a1/x", "a2/y"}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected merged order %v, got %v", want, got)
	}
	if inbox.Messages[0].Processed || !inbox.Messages[2].Processed {
		t.Fatalf("unexpected processed flags: %+v", inbox.Messages)
	}
	if len(inbox.Errors) != 2 || inbox.Errors["a3"] == "" || inbox.Errors["a4"] == "" {
		t.Fatalf("expected errors for a3 and a4, got %v", inbox.Errors)
	}
	if h.extractor.calls != 0 || h.taskCount(t) != 0 {
		t.Fatal("listing the inbox must not extract")
	}
}
