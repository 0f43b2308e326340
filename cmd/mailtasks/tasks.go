package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtasks/internal/app"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
)

func resetCmd(flags *globalFlags) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "reset <account>",
		Short: "Forget processed messages so they are extracted again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.store.GetAccount(cmd.Context(), args[0]); err != nil {
				return err
			}

			var n int64
			if failedOnly {
				n, err = e.ledger.ClearFailed(cmd.Context(), args[0])
			} else {
				n, err = e.ledger.Clear(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s ledger entries for %s\n", humanize.Comma(n), args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only clear messages whose extraction failed")
	return cmd
}

func tasksCmd(flags *globalFlags) *cobra.Command {
	var (
		account  string
		priority string
		query    string
		limit    int
		browse   bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List extracted tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{SortBy: "received_at", SortDesc: true, Limit: limit}
			if account != "" {
				filter.AccountID = &account
			}
			if query != "" {
				filter.Query = &query
			}
			if priority != "" {
				p := model.Priority(strings.ToUpper(priority))
				if !p.Valid() {
					return fmt.Errorf("invalid priority %q", priority)
				}
				filter.Priority = &p
			}

			e, err := openEnv(flags, browse)
			if err != nil {
				return err
			}
			defer e.Close()

			if browse {
				filter.Limit = 0
				_, err := tea.NewProgram(app.New(e.store, filter, "mailtasks"), tea.WithAltScreen()).Run()
				return err
			}

			tasks, err := e.store.GetTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tTITLE\tDUE\tFROM\tRECEIVED")
			for _, t := range tasks {
				due := "-"
				if t.DueDate != nil {
					due = t.DueDate.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.Priority, truncate(t.Title, 60), due, truncate(t.Sender, 30), humanize.Time(t.ReceivedAt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "only tasks from this account")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW, MEDIUM, HIGH or URGENT")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search titles and descriptions")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks to list")
	cmd.Flags().BoolVarP(&browse, "browse", "b", false, "open the interactive browser")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
