package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailtasks/internal/model"
)

// AuthExpiredError indicates that an account's access token expired and
// could not be refreshed (no refresh token, refresh rejected, or a second
// 401 after refreshing).
type AuthExpiredError struct {
	AccountID string
	Message   string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("auth expired (%s): %s", e.AccountID, e.Message)
}

// RateLimitedError indicates that the provider kept answering 429 after the
// retry budget was spent.
type RateLimitedError struct {
	AccountID string
	Retries   int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s) after %d retries", e.AccountID, e.Retries)
}

// ProviderError carries any other non-2xx provider response.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%d): %s", e.Status, e.Body)
}

// IsAuthExpired reports whether err (or any error in its chain) is an
// AuthExpiredError.
func IsAuthExpired(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr)
}

// IsRateLimited reports whether err (or any error in its chain) is a
// RateLimitedError.
func IsRateLimited(err error) bool {
	var rlErr *RateLimitedError
	return errors.As(err, &rlErr)
}

// Filter scopes a message listing.
type Filter struct {
	// Query is a provider search expression (Gmail search syntax).
	Query string

	// ExcludeLabels drops messages carrying any of these labels after
	// listing, for providers that cannot express it in Query.
	ExcludeLabels []string
}

// Excludes reports whether a message with the given labels is filtered out.
func (f Filter) Excludes(labels []string) bool {
	for _, l := range labels {
		for _, x := range f.ExcludeLabels {
			if l == x {
				return true
			}
		}
	}
	return false
}

// DefaultExcludeLabels are the Gmail system labels never extracted from.
var DefaultExcludeLabels = []string{"SPAM", "TRASH"}

// Provider lists recent messages for one account. The credential passed in
// may be refreshed during the call; the value to use afterwards is
// returned alongside the messages.
type Provider interface {
	ListMessages(
		ctx context.Context,
		cred model.Credential,
		maxResults int,
		filter Filter,
	) ([]model.Message, model.Credential, error)
}
