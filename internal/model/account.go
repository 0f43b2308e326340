package model

import "time"

// Provider identifies the kind of mailbox an account is linked to.
type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// Account is one linked mailbox belonging to the local user.
type Account struct {
	// ID is the internal unique identifier for this account.
	ID string `json:"id"`

	// Provider selects the mail backend used to list messages.
	Provider Provider `json:"provider"`

	// Address is the provider-scoped account identifier (usually the
	// mailbox email address).
	Address string `json:"address"`

	// DisplayName is the user-defined label shown in progress output.
	DisplayName string `json:"display_name"`

	// Active controls whether the account takes part in extraction runs.
	Active bool `json:"active"`

	// Settings holds provider-specific key-value settings
	// (e.g., imap_host, imap_port).
	Settings map[string]string `json:"settings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Name returns the display name, falling back to the address.
func (a Account) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Address
}

// Tokens is the secret part of an account credential.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Credential is the in-memory view of an account and its tokens held for
// the duration of one pipeline run. Refreshing a credential produces a new
// value; callers thread it forward rather than sharing a pointer.
type Credential struct {
	Account
	Tokens
}

// CanRefresh reports whether the credential can recover from an expired
// access token.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// WithTokens returns a copy of c carrying the given tokens. An empty
// refresh token keeps the current one.
func (c Credential) WithTokens(t Tokens) Credential {
	if t.RefreshToken == "" {
		t.RefreshToken = c.RefreshToken
	}
	c.Tokens = t
	return c
}
