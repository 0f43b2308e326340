package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/mailtasks/internal/pipeline"
	"github.com/nhle/mailtasks/internal/progress"
	"github.com/nhle/mailtasks/internal/ui/runview"
)

func runCmd(flags *globalFlags) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "run [account]",
		Short: "Extract tasks from new mail (all active accounts by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags, !plain)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.pipeline()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fn := runAll(p)
			title := "Extracting tasks"
			if len(args) == 1 {
				fn = runOne(p, args[0])
				title = "Extracting tasks from " + args[0]
			}

			var (
				outcomes []pipeline.AccountOutcome
				total    pipeline.Summary
			)
			if plain {
				logSink := progress.Log(e.logger)
				outcomes, total, err = fn(ctx, func(id string) progress.Sink {
					return progress.WithAccount(id, logSink)
				})
			} else {
				outcomes, total, err = runview.Run(ctx, title, fn)
			}
			if err != nil {
				return err
			}

			return report(cmd.OutOrStdout(), outcomes, total)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "log progress instead of showing the live view")
	return cmd
}

func runAll(p *pipeline.Pipeline) runview.RunFunc {
	return p.RunAll
}

// runOne adapts a single-account run to the multi-account shape.
func runOne(p *pipeline.Pipeline, accountID string) runview.RunFunc {
	return func(
		ctx context.Context,
		sinkFor func(string) progress.Sink,
	) ([]pipeline.AccountOutcome, pipeline.Summary, error) {
		sum, err := p.Run(ctx, accountID, sinkFor(accountID))
		return []pipeline.AccountOutcome{{AccountID: accountID, Summary: sum, Err: err}}, sum, nil
	}
}

// report prints per-account results and fails if any account failed.
func report(w io.Writer, outcomes []pipeline.AccountOutcome, total pipeline.Summary) error {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", o.AccountID, o.Err)
			continue
		}
		fmt.Fprintf(w, "%s: processed %d, extracted %d, created %d\n",
			o.AccountID, o.Summary.Processed, o.Summary.Extracted, o.Summary.Created)
	}
	fmt.Fprintf(w, "total: processed %d, extracted %d, created %d\n",
		total.Processed, total.Extracted, total.Created)

	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(outcomes))
	}
	return nil
}
