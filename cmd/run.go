package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/ingest"
)

// newRunCmd creates the 'run' subcommand: one authoritative snapshot
// run, then exit. Intended for cron or one-off invocations.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one snapshot ingestion run and exit",
		Long: `Collects the configured story lists, filters out already-processed and
low-signal items, persists the keepers, and dispatches downstream jobs.
Exits non-zero if the run fails; partial upstream fetch failures are
tolerated and reported in the run metrics.`,

		RunE: runSnapshotCommand,
	}
}

func runSnapshotCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	report, err := appInstance.Poller().RunSnapshot(cmd.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.Logger().Info("snapshot run interrupted")
			return nil
		}
		return fmt.Errorf("snapshot run: %w", err)
	}

	appInstance.Logger().Info("snapshot run finished",
		zap.Int64("processed", report.Counters[ingest.CounterProcessed]),
		zap.Int64("fetch_errors", report.Counters[ingest.CounterFetchErrors]),
	)
	return nil
}
