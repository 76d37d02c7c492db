package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	var (
		port     int
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bridge over stdio, TCP and WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, logger, srv, err := setup(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cmd.Flags().Changed("port") {
				cfg.Transport.Port = port
			}
			if cmd.Flags().Changed("http") {
				cfg.Transport.HTTPAddr = httpAddr
			}
			if cfg.Transport.HTTPAddr == "" && cfg.MetricsEnabled {
				cfg.Transport.HTTPAddr = fmt.Sprintf(":%d", cfg.MetricsPort)
			}

			logger.Info("Starting rime-bridge",
				zap.String("version", version),
				zap.String("commit", commit),
				zap.String("date", date),
			)

			// The host closing the protocol stream stops every listener.
			runCtx, stop := context.WithCancel(ctx)
			defer stop()
			g, gctx := errgroup.WithContext(runCtx)

			if cfg.Transport.HTTPAddr != "" {
				g.Go(func() error {
					return srv.ServeHTTP(gctx, cfg.Transport.HTTPAddr)
				})
			}

			g.Go(func() error {
				defer stop()
				if cfg.Transport.Port > 0 {
					return srv.ServeTCP(gctx, cfg.Transport.Port)
				}
				return serveStdio(gctx, srv.ServeStdio)
			})

			err = g.Wait()

			closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer closeCancel()
			if cerr := srv.Close(closeCtx); cerr != nil && err == nil {
				err = cerr
			}

			logger.Info("Server shutdown complete")
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "TCP port for the line protocol (0 for stdio)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address for WebSocket and /metrics")
	return cmd
}

// serveStdio returns when stdin is exhausted or ctx is done. A read blocked on
// stdin is abandoned on cancellation.
func serveStdio(ctx context.Context, serve func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- serve(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
