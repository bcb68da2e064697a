package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand: the long-running service
// exposing the HTTP API, optionally with the incremental catch-up
// poller running in the background.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, with catch-up polling when configured",
		Long: `Serves health, metrics, and ingestion endpoints. When poller.mode is
"catchup", a background loop advances through the upstream id range and
sweeps the updates feed on the configured interval.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	catchupDone := make(chan struct{})
	if cfg.Poller.Mode == "catchup" {
		interval := time.Duration(cfg.Poller.IntervalSeconds) * time.Second
		logger.Info("starting catch-up poller", zap.Duration("interval", interval))
		go func() {
			defer close(catchupDone)
			appInstance.Poller().RunCatchup(ctx, interval)
		}()
	} else {
		close(catchupDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           appInstance.Server().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		cancel()
		<-catchupDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server exit", zap.Error(err))
	}
	<-catchupDone
	return nil
}
