package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/nhle/mailtasks/internal/model"
)

const serviceName = "mailtasks"

// ErrNoTokens is returned when no tokens are stored for an account.
var ErrNoTokens = errors.New("no tokens stored")

// OpenKeyring returns the system keyring used for account tokens and API
// keys, falling back to an encrypted file under configDir.
func OpenKeyring(configDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(configDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailtasks-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Vault stores account tokens and other secrets in a keyring.
type Vault struct {
	ring keyring.Keyring
}

// NewVault wraps ring. Tests pass keyring.NewArrayKeyring(nil).
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

func tokenKey(accountID string) string {
	return "account-" + accountID
}

// Tokens retrieves the tokens stored for an account.
func (v *Vault) Tokens(accountID string) (model.Tokens, error) {
	item, err := v.ring.Get(tokenKey(accountID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return model.Tokens{}, fmt.Errorf("account %s: %w", accountID, ErrNoTokens)
	}
	if err != nil {
		return model.Tokens{}, fmt.Errorf("getting tokens for %s: %w", accountID, err)
	}

	var t model.Tokens
	if err := json.Unmarshal(item.Data, &t); err != nil {
		return model.Tokens{}, fmt.Errorf("decoding tokens for %s: %w", accountID, err)
	}
	return t, nil
}

// SetTokens stores the tokens for an account, replacing any previous value.
func (v *Vault) SetTokens(accountID string, t model.Tokens) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding tokens for %s: %w", accountID, err)
	}

	err = v.ring.Set(keyring.Item{
		Key:   tokenKey(accountID),
		Data:  data,
		Label: "mailtasks account " + accountID,
	})
	if err != nil {
		return fmt.Errorf("setting tokens for %s: %w", accountID, err)
	}
	return nil
}

// DeleteTokens removes the tokens stored for an account.
func (v *Vault) DeleteTokens(accountID string) error {
	err := v.ring.Remove(tokenKey(accountID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting tokens for %s: %w", accountID, err)
	}
	return nil
}

// Secret retrieves a named secret such as an LLM API key.
func (v *Vault) Secret(name string) (string, error) {
	item, err := v.ring.Get("secret-" + name)
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}
	return string(item.Data), nil
}

// SetSecret stores a named secret.
func (v *Vault) SetSecret(name, value string) error {
	err := v.ring.Set(keyring.Item{
		Key:  "secret-" + name,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting secret %q: %w", name, err)
	}
	return nil
}
