package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtasks/internal/pipeline"
)

func messagesCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List recent mail across all active accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags, false)
			if err != nil {
				return err
			}
			defer e.Close()

			inbox, err := e.newPipeline(nil).Inbox(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printInbox(cmd.OutOrStdout(), cmd.ErrOrStderr(), inbox)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum messages to list")
	return cmd
}

// printInbox writes the merged listing and any per-account failures. It
// fails only when every account failed.
func printInbox(out, errOut io.Writer, inbox pipeline.Inbox) error {
	ids := make([]string, 0, len(inbox.Errors))
	for id := range inbox.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(errOut, "%s: %s\n", id, inbox.Errors[id])
	}

	if len(inbox.Messages) == 0 {
		if len(ids) > 0 {
			return errors.New("no account could be listed")
		}
		fmt.Fprintln(out, "No messages.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tRECEIVED\tFROM\tSUBJECT\tSTATE")
	for _, m := range inbox.Messages {
		state := "new"
		if m.Processed {
			state = "processed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			m.AccountID, humanize.Time(m.ReceivedAt), truncate(m.From, 30), truncate(m.Subject, 50), state)
	}
	return w.Flush()
}
