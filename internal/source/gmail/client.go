package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source"
)

const (
	defaultRetryAfter = 5 * time.Second
	maxRetryAfter     = 30 * time.Second
)

// PersistFunc writes refreshed tokens back to the credential store. It is
// invoked exactly once per successful refresh.
type PersistFunc func(ctx context.Context, accountID string, tokens model.Tokens) error

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Call performs one Gmail API request against svc.
type Call func(ctx context.Context, svc *gmailv1.Service) error

// Options configures a Client.
type Options struct {
	// OAuth holds the client ID/secret and token endpoint used to refresh
	// access tokens. Without it every 401 is terminal.
	OAuth *oauth2.Config

	// Endpoint overrides the Gmail API base URL.
	Endpoint string

	// HTTPClient is the base transport for both API and token requests.
	HTTPClient *http.Client

	Persist PersistFunc
	Sleep   SleepFunc
	Logger  *slog.Logger

	DefaultRetryAfter time.Duration
	MaxRetryAfter     time.Duration

	// MaxRateRetries bounds retries after a 429. Zero selects one retry;
	// a negative value disables retrying.
	MaxRateRetries int
}

// Client wraps every Gmail API call with 401 refresh-and-retry and 429
// backoff-and-retry handling.
type Client struct {
	oauth             *oauth2.Config
	endpoint          string
	httpClient        *http.Client
	persist           PersistFunc
	sleep             SleepFunc
	logger            *slog.Logger
	defaultRetryAfter time.Duration
	maxRetryAfter     time.Duration
	maxRateRetries    int
}

// NewClient creates a resilient Gmail client. Zero-valued options fall
// back to a 5s default Retry-After, a 30s cap and a single 429 retry;
// a negative MaxRateRetries disables rate-limit retries.
func NewClient(opts Options) *Client {
	c := &Client{
		oauth:             opts.OAuth,
		endpoint:          opts.Endpoint,
		httpClient:        opts.HTTPClient,
		persist:           opts.Persist,
		sleep:             opts.Sleep,
		logger:            opts.Logger,
		defaultRetryAfter: opts.DefaultRetryAfter,
		maxRetryAfter:     opts.MaxRetryAfter,
		maxRateRetries:    opts.MaxRateRetries,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.defaultRetryAfter <= 0 {
		c.defaultRetryAfter = defaultRetryAfter
	}
	if c.maxRetryAfter <= 0 {
		c.maxRetryAfter = maxRetryAfter
	}
	switch {
	case c.maxRateRetries == 0:
		c.maxRateRetries = 1
	case c.maxRateRetries < 0:
		c.maxRateRetries = 0
	}
	return c
}

// OAuthConfig builds the OAuth2 client configuration for Gmail. An empty
// tokenURL selects Google's token endpoint.
func OAuthConfig(clientID, clientSecret, redirectURL, tokenURL string) *oauth2.Config {
	endpoint := google.Endpoint
	if tokenURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   google.Endpoint.AuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       []string{gmailv1.GmailReadonlyScope},
	}
}

// Do runs call with cred's access token. On a 401 it refreshes the token
// once and retries; on a 429 it waits for the Retry-After hint (capped) up
// to the retry budget. The credential to use afterwards is returned even
// when the call fails, so a refresh is never lost.
func (c *Client) Do(
	ctx context.Context,
	cred model.Credential,
	call Call,
) (model.Credential, error) {
	refreshed := false
	rateRetries := 0

	for {
		svc, err := c.service(ctx, cred)
		if err != nil {
			return cred, err
		}

		err = call(ctx, svc)
		if err == nil {
			return cred, nil
		}

		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) {
			return cred, fmt.Errorf("calling gmail API: %w", err)
		}

		switch {
		case apiErr.Code == http.StatusUnauthorized:
			if !cred.CanRefresh() {
				return cred, &source.AuthExpiredError{
					AccountID: cred.ID,
					Message:   "access token rejected and no refresh token is stored",
				}
			}
			if refreshed {
				return cred, &source.AuthExpiredError{
					AccountID: cred.ID,
					Message:   "access token rejected after refresh",
				}
			}

			cred, err = c.refresh(ctx, cred)
			if err != nil {
				return cred, err
			}
			refreshed = true

		case isRateLimit(apiErr):
			if rateRetries >= c.maxRateRetries {
				return cred, &source.RateLimitedError{
					AccountID: cred.ID,
					Retries:   rateRetries,
				}
			}
			wait := c.retryAfter(apiErr.Header)
			c.logger.Warn("gmail rate limited",
				"account", cred.ID, "wait", wait, "attempt", rateRetries+1)
			if err := c.sleep(ctx, wait); err != nil {
				return cred, err
			}
			rateRetries++

		default:
			return cred, &source.ProviderError{
				Status: apiErr.Code,
				Body:   providerBody(apiErr),
			}
		}
	}
}

// service builds a Gmail service authorized with cred's access token.
func (c *Client) service(
	ctx context.Context,
	cred model.Credential,
) (*gmailv1.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return svc, nil
}

// refresh exchanges cred's refresh token for a new access token and
// persists the new pair.
func (c *Client) refresh(
	ctx context.Context,
	cred model.Credential,
) (model.Credential, error) {
	if c.oauth == nil {
		return cred, &source.AuthExpiredError{
			AccountID: cred.ID,
			Message:   "no OAuth client configured for token refresh",
		}
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.TokenSource(tokenCtx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
	}).Token()
	if err != nil {
		return cred, &source.AuthExpiredError{
			AccountID: cred.ID,
			Message:   fmt.Sprintf("refresh rejected: %v", err),
		}
	}

	next := cred.WithTokens(model.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	})
	c.logger.Info("refreshed gmail access token", "account", cred.ID)

	if c.persist != nil {
		if err := c.persist(ctx, cred.ID, next.Tokens); err != nil {
			// The new token is still usable for this run.
			c.logger.Warn("persisting refreshed token failed",
				"account", cred.ID, "error", err)
		}
	}

	return next, nil
}

// retryAfter reads the Retry-After header (seconds or HTTP date) and
// returns the wait, capped at maxRetryAfter.
func (c *Client) retryAfter(h http.Header) time.Duration {
	wait := c.defaultRetryAfter

	if value := strings.TrimSpace(h.Get("Retry-After")); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
			wait = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(value); err == nil {
			wait = time.Until(at)
		}
	}

	if wait < 0 {
		wait = 0
	}
	if wait > c.maxRetryAfter {
		wait = c.maxRetryAfter
	}
	return wait
}

// isRateLimit reports 429s, and the 403 rate-limit reasons Gmail uses for
// per-user quotas.
func isRateLimit(apiErr *googleapi.Error) bool {
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

func providerBody(apiErr *googleapi.Error) string {
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return apiErr.Body
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
