// Package config holds the interactive forms used to link accounts.
package config

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source/email"
)

// AccountInput collects the fields of a new account. Zero values are
// prompted for; preset values become the form defaults.
type AccountInput struct {
	Provider    string
	ID          string
	Address     string
	DisplayName string

	IMAPHost string
	IMAPPort string
	TLS      bool
	Mailbox  string
	Password string
}

// NewAccountInput returns an input with the form defaults filled in.
func NewAccountInput() *AccountInput {
	return &AccountInput{
		Provider: string(model.ProviderGmail),
		IMAPPort: "993",
		TLS:      true,
		Mailbox:  "INBOX",
	}
}

func (in *AccountInput) isIMAP() bool {
	return in.Provider == string(model.ProviderIMAP)
}

// Form builds the account form. The IMAP group is hidden for Gmail.
func (in *AccountInput) Form() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Provider").
				Description("Where the mailbox lives").
				Options(
					huh.NewOption("Gmail - OAuth, Gmail API", string(model.ProviderGmail)),
					huh.NewOption("IMAP - any IMAP mailbox", string(model.ProviderIMAP)),
				).
				Value(&in.Provider),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Address").
				Description("The mailbox's email address").
				Placeholder("me@example.com").
				Value(&in.Address).
				Validate(validateAddress),
			huh.NewInput().
				Title("Name").
				Description("A label for this account").
				Placeholder("Work").
				Value(&in.DisplayName),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&in.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Placeholder("993").
				Value(&in.IMAPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Password").
				Description("Account password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&in.Password).
				Validate(validateRequired("Password")),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Implicit TLS; choose No for STARTTLS").
				Affirmative("Yes").
				Negative("No").
				Value(&in.TLS),
		).WithHideFunc(func() bool { return !in.isIMAP() }),
	)
}

// Validate checks the input without prompting.
func (in *AccountInput) Validate() error {
	switch model.Provider(in.Provider) {
	case model.ProviderGmail, model.ProviderIMAP:
	default:
		return fmt.Errorf("unknown provider %q", in.Provider)
	}
	if err := validateAddress(in.Address); err != nil {
		return err
	}
	if !in.isIMAP() {
		return nil
	}
	if err := validateRequired("IMAP host")(in.IMAPHost); err != nil {
		return err
	}
	if err := validatePort(in.IMAPPort); err != nil {
		return err
	}
	return validateRequired("password")(in.Password)
}

// Account converts the input into an account record. A missing ID gets
// a generated one.
func (in *AccountInput) Account() (model.Account, error) {
	if err := in.Validate(); err != nil {
		return model.Account{}, err
	}

	acct := model.Account{
		ID:          strings.TrimSpace(in.ID),
		Provider:    model.Provider(in.Provider),
		Address:     strings.TrimSpace(in.Address),
		DisplayName: strings.TrimSpace(in.DisplayName),
		Active:      true,
	}
	if acct.ID == "" {
		acct.ID = uuid.New().String()[:8]
	}

	if in.isIMAP() {
		mailbox := strings.TrimSpace(in.Mailbox)
		if mailbox == "" {
			mailbox = "INBOX"
		}
		acct.Settings = map[string]string{
			email.SettingHost:    strings.TrimSpace(in.IMAPHost),
			email.SettingPort:    strings.TrimSpace(in.IMAPPort),
			email.SettingTLS:     strconv.FormatBool(in.TLS),
			email.SettingMailbox: mailbox,
		}
	}
	return acct, nil
}

// Tokens returns the secret to store for the account. IMAP accounts keep
// their password as the access token; Gmail tokens come from login.
func (in *AccountInput) Tokens() (model.Tokens, bool) {
	if !in.isIMAP() {
		return model.Tokens{}, false
	}
	return model.Tokens{AccessToken: in.Password}, true
}

// LoginInput collects an OAuth authorization code.
type LoginInput struct {
	Code string
}

// Form asks for the code shown after approving access at authURL.
func (in *LoginInput) Form(authURL string) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Authorize mailtasks").
				Description("Open this URL, approve read-only access, and paste the code below:\n\n"+authURL),
			huh.NewInput().
				Title("Authorization code").
				Value(&in.Code).
				Validate(validateRequired("Code")),
		),
	)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateAddress(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("address is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("port is required")
	}
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}
