package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailtasks/internal/api"
	"github.com/nhle/mailtasks/internal/sse"
	"github.com/nhle/mailtasks/internal/sync"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll accounts in the background and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags, false)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := e.pipeline()
			if err != nil {
				return err
			}

			if addr == "" {
				addr = e.cfg.Server.Addr
			}
			interval := time.Duration(e.cfg.Pipeline.PollIntervalSec) * time.Second

			hub := sse.NewHub()
			poller := sync.New(p, hub, interval, e.logger)
			apiServer := api.NewServer(e.store, poller, p, e.ledger, hub, e.logger)

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           apiServer,
				ReadHeaderTimeout: 10 * time.Second,
			}

			poller.Start()
			go func() {
				e.logger.Info("http server listening", "addr", addr, "poll_interval", interval)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					e.logger.Error("http server stopped", "error", err)
				}
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
			<-shutdown

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpSrv.Shutdown(ctx); err != nil {
				e.logger.Error("shutdown http", "error", err)
			}
			poller.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
