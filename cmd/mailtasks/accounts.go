package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/nhle/mailtasks/internal/credential"
	"github.com/nhle/mailtasks/internal/model"
	uiconfig "github.com/nhle/mailtasks/internal/ui/config"
)

func accountsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage linked mailboxes",
	}
	cmd.AddCommand(
		accountsAddCmd(flags),
		accountsListCmd(flags),
		accountsSetActiveCmd(flags, "enable", true),
		accountsSetActiveCmd(flags, "disable", false),
	)
	return cmd
}

func accountsAddCmd(flags *globalFlags) *cobra.Command {
	in := uiconfig.NewAccountInput()
	var noInput bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link a Gmail or IMAP mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !noInput {
				if err := in.Form().Run(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return fmt.Errorf("account form: %w", err)
				}
			}

			acct, err := in.Account()
			if err != nil {
				return err
			}

			e, err := openEnv(flags, false)
			if err != nil {
				return err
			}
			defer e.Close()

			acct, err = e.store.UpsertAccount(cmd.Context(), acct)
			if err != nil {
				return err
			}
			if tokens, ok := in.Tokens(); ok {
				if err := e.vault.SetTokens(acct.ID, tokens); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added %s account %s (%s)\n", acct.Provider, acct.ID, acct.Address)
			if acct.Provider == model.ProviderGmail {
				fmt.Fprintf(cmd.OutOrStdout(), "Next: mailtasks login %s\n", acct.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noInput, "no-input", false, "use flags only, without the interactive form")
	cmd.Flags().StringVar(&in.Provider, "provider", in.Provider, "gmail or imap")
	cmd.Flags().StringVar(&in.ID, "id", "", "account ID (generated when empty)")
	cmd.Flags().StringVar(&in.Address, "address", "", "mailbox address")
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&in.IMAPHost, "imap-host", "", "IMAP server host")
	cmd.Flags().StringVar(&in.IMAPPort, "imap-port", in.IMAPPort, "IMAP server port")
	cmd.Flags().BoolVar(&in.TLS, "imap-tls", in.TLS, "use implicit TLS")
	cmd.Flags().StringVar(&in.Mailbox, "imap-mailbox", in.Mailbox, "IMAP mailbox to read")
	cmd.Flags().StringVar(&in.Password, "imap-password", "", "IMAP password")
	return cmd
}

func accountsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked mailboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags, false)
			if err != nil {
				return err
			}
			defer e.Close()

			accounts, err := e.store.GetAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts. Add one with: mailtasks accounts add")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tADDRESS\tSTATE\tSIGNED IN\tPROCESSED\tADDED")
			for _, acct := range accounts {
				state := "active"
				if !acct.Active {
					state = "disabled"
				}
				signedIn := "yes"
				if _, err := e.vault.Tokens(acct.ID); err != nil {
					signedIn = "no"
				}
				entries, err := e.ledger.Entries(cmd.Context(), acct.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					acct.ID, acct.Provider, acct.Address, state, signedIn,
					humanize.Comma(int64(len(entries))), humanize.Time(acct.CreatedAt))
			}
			return w.Flush()
		},
	}
}

func accountsSetActiveCmd(flags *globalFlags, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <account>",
		Short: fmt.Sprintf("%s an account for extraction", capitalize(use)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.SetAccountActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s %sd\n", args[0], use)
			return nil
		},
	}
}

func loginCmd(flags *globalFlags) *cobra.Command {
	var (
		refreshToken string
		aiKey        string
	)

	cmd := &cobra.Command{
		Use:   "login [account]",
		Short: "Store credentials for an account or the AI backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if aiKey != "" {
				if err := e.vault.SetSecret(secretAIKey, aiKey); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Stored AI API key")
			}
			if len(args) == 0 {
				if aiKey == "" {
					return errors.New("an account or --ai-key is required")
				}
				return nil
			}

			acct, err := e.store.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var tokens model.Tokens
			switch acct.Provider {
			case model.ProviderIMAP:
				tokens, err = promptPassword(acct)
			default:
				tokens, err = gmailTokens(cmd.Context(), e, refreshToken)
			}
			if err != nil {
				return err
			}

			if err := e.vault.SetTokens(acct.ID, tokens); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in %s\n", acct.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "store this Gmail refresh token instead of running the OAuth flow")
	cmd.Flags().StringVar(&aiKey, "ai-key", "", "store the AI backend API key")
	return cmd
}

// gmailTokens runs the installed-app OAuth flow, or stores a refresh
// token given directly. The access token starts empty and is fetched on
// the first 401.
func gmailTokens(ctx context.Context, e *env, refreshToken string) (model.Tokens, error) {
	if refreshToken != "" {
		return model.Tokens{RefreshToken: refreshToken}, nil
	}

	conf := e.oauthConfig()
	if conf == nil {
		return model.Tokens{}, errors.New("gmail.client_id is not configured")
	}

	state := fmt.Sprintf("mailtasks-%d", os.Getpid())
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	in := &uiconfig.LoginInput{}
	if err := in.Form(authURL).Run(); err != nil {
		return model.Tokens{}, fmt.Errorf("login form: %w", err)
	}

	tok, err := conf.Exchange(ctx, in.Code)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return model.Tokens{}, errors.New("no refresh token returned; revoke the app's access and try again")
	}
	return model.Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

func promptPassword(acct *model.Account) (model.Tokens, error) {
	var password string
	err := huh.NewInput().
		Title("Password for " + acct.Address).
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Run()
	if err != nil {
		return model.Tokens{}, fmt.Errorf("password prompt: %w", err)
	}
	if password == "" {
		return model.Tokens{}, credential.ErrNoTokens
	}
	return model.Tokens{AccessToken: password}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
