package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
	"github.com/nhle/mailtasks/tests/testutil"
)

func TestAccountRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	acct, err := s.UpsertAccount(ctx, model.Account{
		Provider:    model.ProviderIMAP,
		Address:     "me@example.com",
		DisplayName: "Work",
		Active:      true,
		Settings:    map[string]string{"imap_host": "imap.example.com"},
	})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if acct.ID == "" {
		t.Fatal("expected generated account ID")
	}

	got, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Provider != model.ProviderIMAP || got.Settings["imap_host"] != "imap.example.com" {
		t.Fatalf("unexpected account: %+v", got)
	}
	if !got.Active {
		t.Fatal("expected account to be active")
	}

	if err := s.SetAccountActive(ctx, acct.ID, false); err != nil {
		t.Fatalf("SetAccountActive: %v", err)
	}
	got, _ = s.GetAccount(ctx, acct.ID)
	if got.Active {
		t.Fatal("expected account to be inactive")
	}

	if _, err := s.GetAccount(ctx, "missing"); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateAndListTasks(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.AddAccount(t, s, "a1")

	due := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	received := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	created, err := s.CreateTask(ctx, model.Task{
		AccountID:  "a1",
		MessageID:  "m1",
		Title:      "Send the report",
		Priority:   model.PriorityUrgent,
		DueDate:    &due,
		Sender:     "boss@example.com",
		Recipients: []string{"a1@example.com"},
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID == "" || created.Status != model.TaskStatusOpen {
		t.Fatalf("unexpected created task: %+v", created)
	}

	if _, err := s.CreateTask(ctx, model.Task{
		AccountID:  "a1",
		MessageID:  "m2",
		Title:      "Book a room",
		ReceivedAt: received,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	acctID := "a1"
	tasks, err := s.GetTasks(ctx, store.TaskFilter{
		AccountID: &acctID,
		SortBy:    "priority",
		SortDesc:  true,
	})
	if err != nil {
		t.Fatalf("GetTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Title != "Send the report" {
		t.Fatalf("expected urgent task first, got %q", tasks[0].Title)
	}
	if tasks[0].DueDate == nil || !tasks[0].DueDate.Equal(due) {
		t.Fatalf("due date not preserved: %v", tasks[0].DueDate)
	}
	if len(tasks[0].Recipients) != 1 || tasks[0].Recipients[0] != "a1@example.com" {
		t.Fatalf("recipients not preserved: %v", tasks[0].Recipients)
	}
	if tasks[1].Priority != model.PriorityMedium {
		t.Fatalf("expected default MEDIUM priority, got %s", tasks[1].Priority)
	}
}

func TestLedger(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.AddAccount(t, s, "a1")
	testutil.AddAccount(t, s, "a2")

	if err := s.MarkProcessed(ctx, model.LedgerEntry{
		AccountID: "a1", MessageID: "m1", TaskCount: 2,
	}); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := s.MarkProcessed(ctx, model.LedgerEntry{
		AccountID: "a1", MessageID: "m2", Status: model.LedgerFailed,
	}); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	// Duplicate markers are absorbed by the unique constraint.
	if err := s.MarkProcessed(ctx, model.LedgerEntry{
		AccountID: "a1", MessageID: "m1", TaskCount: 9,
	}); err != nil {
		t.Fatalf("duplicate MarkProcessed: %v", err)
	}

	ok, err := s.IsProcessed(ctx, "a1", "m1")
	if err != nil || !ok {
		t.Fatalf("expected a1/m1 processed, ok=%v err=%v", ok, err)
	}
	ok, _ = s.IsProcessed(ctx, "a2", "m1")
	if ok {
		t.Fatal("ledger must be scoped by account")
	}

	ids, err := s.ProcessedIDs(ctx, "a1", []string{"m1", "m2", "m3"})
	if err != nil {
		t.Fatalf("ProcessedIDs: %v", err)
	}
	if !ids["m1"] || !ids["m2"] || ids["m3"] {
		t.Fatalf("unexpected processed set: %v", ids)
	}

	entries, err := s.GetLedger(ctx, "a1")
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	for _, e := range entries {
		if e.MessageID == "m1" && e.TaskCount != 2 {
			t.Fatalf("ledger entry was updated: %+v", e)
		}
	}

	n, err := s.ClearFailed(ctx, "a1")
	if err != nil || n != 1 {
		t.Fatalf("ClearFailed: n=%d err=%v", n, err)
	}
	if ok, _ := s.IsProcessed(ctx, "a1", "m2"); ok {
		t.Fatal("failed entry should be cleared")
	}

	n, err = s.ClearProcessed(ctx, "a1")
	if err != nil || n != 1 {
		t.Fatalf("ClearProcessed: n=%d err=%v", n, err)
	}
	if ok, _ := s.IsProcessed(ctx, "a1", "m1"); ok {
		t.Fatal("ledger should be empty after clear")
	}
}

func TestRecordExtractionIsAtomic(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.AddAccount(t, s, "a1")

	received := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	task := func(id, title string) model.Task {
		return model.Task{ID: id, AccountID: "a1", MessageID: "m1", Title: title, ReceivedAt: received}
	}

	// The second insert collides on the primary key, so nothing sticks.
	_, err := s.RecordExtraction(ctx,
		model.LedgerEntry{AccountID: "a1", MessageID: "m1"},
		[]model.Task{task("t1", "first"), task("t1", "second")},
	)
	if err == nil {
		t.Fatal("expected duplicate task ID to fail")
	}
	tasks, _ := s.GetTasks(ctx, store.TaskFilter{})
	if len(tasks) != 0 {
		t.Fatalf("expected rollback to drop partial tasks, got %d", len(tasks))
	}
	if ok, _ := s.IsProcessed(ctx, "a1", "m1"); ok {
		t.Fatal("expected no ledger entry after rollback")
	}

	stored, err := s.RecordExtraction(ctx,
		model.LedgerEntry{AccountID: "a1", MessageID: "m1"},
		[]model.Task{task("", "first"), task("", "second")},
	)
	if err != nil || len(stored) != 2 || stored[0].ID == "" {
		t.Fatalf("RecordExtraction: %v %+v", err, stored)
	}
	entries, _ := s.GetLedger(ctx, "a1")
	if len(entries) != 1 || entries[0].TaskCount != 2 || entries[0].Status != model.LedgerExtracted {
		t.Fatalf("unexpected ledger: %+v", entries)
	}

	// A message recorded by another run is left alone.
	_, err = s.RecordExtraction(ctx,
		model.LedgerEntry{AccountID: "a1", MessageID: "m1"},
		[]model.Task{task("", "again")},
	)
	if !errors.Is(err, store.ErrAlreadyRecorded) {
		t.Fatalf("expected ErrAlreadyRecorded, got %v", err)
	}
	tasks, _ = s.GetTasks(ctx, store.TaskFilter{})
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
}

func TestRunClaims(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.AddAccount(t, s, "a1")

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ok, err := s.ClaimRun(ctx, "a1", "cli", now, now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.ClaimRun(ctx, "a1", "server", now.Add(30*time.Second), now.Add(2*time.Minute)); ok {
		t.Fatal("expected a live claim to block another owner")
	}

	if err := s.ExtendRun(ctx, "a1", "cli", now.Add(5*time.Minute)); err != nil {
		t.Fatalf("ExtendRun: %v", err)
	}
	if ok, _ := s.ClaimRun(ctx, "a1", "server", now.Add(2*time.Minute), now.Add(3*time.Minute)); ok {
		t.Fatal("expected the extended claim to still block")
	}

	// An expired claim is taken over.
	ok, err = s.ClaimRun(ctx, "a1", "server", now.Add(6*time.Minute), now.Add(7*time.Minute))
	if err != nil || !ok {
		t.Fatalf("takeover: ok=%v err=%v", ok, err)
	}

	// Releasing someone else's claim does nothing.
	if err := s.ReleaseRun(ctx, "a1", "cli"); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	if ok, _ := s.ClaimRun(ctx, "a1", "cli", now.Add(6*time.Minute), now.Add(8*time.Minute)); ok {
		t.Fatal("expected server claim to survive a foreign release")
	}
	if err := s.ReleaseRun(ctx, "a1", "server"); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	if ok, _ := s.ClaimRun(ctx, "a1", "cli", now.Add(6*time.Minute), now.Add(8*time.Minute)); !ok {
		t.Fatal("expected claim after release")
	}
}
