package credential

import (
	"context"
	"fmt"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
)

// Store resolves full credentials by joining account rows with the
// tokens held in the vault.
type Store struct {
	accounts store.AccountStore
	vault    *Vault
}

// NewStore creates a credential store.
func NewStore(accounts store.AccountStore, vault *Vault) *Store {
	return &Store{accounts: accounts, vault: vault}
}

// Account returns the account row for accountID without touching the
// vault.
func (s *Store) Account(ctx context.Context, accountID string) (model.Account, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return model.Account{}, fmt.Errorf("resolving account: %w", err)
	}
	return *acct, nil
}

// Get returns the credential for accountID.
func (s *Store) Get(ctx context.Context, accountID string) (model.Credential, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return model.Credential{}, fmt.Errorf("resolving credential: %w", err)
	}

	tokens, err := s.vault.Tokens(accountID)
	if err != nil {
		return model.Credential{}, fmt.Errorf("resolving credential: %w", err)
	}

	return model.Credential{Account: *acct, Tokens: tokens}, nil
}

// Update writes back refreshed tokens. An empty refresh token keeps the
// one already stored.
func (s *Store) Update(ctx context.Context, accountID string, t model.Tokens) error {
	if t.RefreshToken == "" {
		current, err := s.vault.Tokens(accountID)
		if err == nil {
			t.RefreshToken = current.RefreshToken
		}
	}
	return s.vault.SetTokens(accountID, t)
}

// Active returns credentials for every active account. Accounts whose
// tokens cannot be read are returned in skipped with the reason.
func (s *Store) Active(ctx context.Context) (creds []model.Credential, skipped map[string]error, err error) {
	accounts, err := s.accounts.GetAccounts(ctx)
	if err != nil {
		return nil, nil, err
	}

	skipped = make(map[string]error)
	for _, acct := range accounts {
		if !acct.Active {
			continue
		}
		tokens, err := s.vault.Tokens(acct.ID)
		if err != nil {
			skipped[acct.ID] = err
			continue
		}
		creds = append(creds, model.Credential{Account: acct, Tokens: tokens})
	}
	return creds, skipped, nil
}
