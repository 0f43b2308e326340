package credential_test

import (
	"context"
	"errors"
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/mailtasks/internal/credential"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/tests/testutil"
)

func TestStoreGetAndUpdate(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.AddAccount(t, s, "a1")
	ctx := context.Background()

	vault := credential.NewVault(keyring.NewArrayKeyring(nil))
	creds := credential.NewStore(s, vault)

	if _, err := creds.Get(ctx, "a1"); !errors.Is(err, credential.ErrNoTokens) {
		t.Fatalf("expected ErrNoTokens, got %v", err)
	}

	if err := vault.SetTokens("a1", model.Tokens{AccessToken: "at", RefreshToken: "rt"}); err != nil {
		t.Fatalf("SetTokens: %v", err)
	}

	cred, err := creds.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cred.AccessToken != "at" || !cred.CanRefresh() || cred.Address != "a1@example.com" {
		t.Fatalf("unexpected credential: %+v", cred)
	}

	// A refresh that omits the refresh token keeps the stored one.
	if err := creds.Update(ctx, "a1", model.Tokens{AccessToken: "at2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	cred, _ = creds.Get(ctx, "a1")
	if cred.AccessToken != "at2" || cred.RefreshToken != "rt" {
		t.Fatalf("unexpected tokens after update: %+v", cred.Tokens)
	}
}

func TestActiveSkipsDisabledAndTokenless(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.AddAccount(t, s, "a1")
	testutil.AddAccount(t, s, "a2")
	testutil.AddAccount(t, s, "a3")
	if err := s.SetAccountActive(ctx, "a3", false); err != nil {
		t.Fatalf("SetAccountActive: %v", err)
	}

	vault := credential.NewVault(keyring.NewArrayKeyring(nil))
	_ = vault.SetTokens("a1", model.Tokens{AccessToken: "x"})
	_ = vault.SetTokens("a3", model.Tokens{AccessToken: "z"})

	active, skipped, err := credential.NewStore(s, vault).Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a1" {
		t.Fatalf("expected only a1 active, got %+v", active)
	}
	if _, ok := skipped["a2"]; !ok {
		t.Fatalf("expected a2 to be skipped, got %v", skipped)
	}
}
