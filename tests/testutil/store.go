package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
)

// NewTestStore creates a SQLiteStore in a temporary directory with all
// migrations applied. It automatically closes the store when the test
// completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// AddAccount inserts an active Gmail account with the given ID.
func AddAccount(t *testing.T, s *store.SQLiteStore, id string) model.Account {
	t.Helper()

	acct, err := s.UpsertAccount(context.Background(), model.Account{
		ID:          id,
		Provider:    model.ProviderGmail,
		Address:     id + "@example.com",
		DisplayName: "Account " + id,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("adding account %s: %v", id, err)
	}
	return acct
}
