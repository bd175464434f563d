package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete all expired files once and exit",
		Long: `Runs a single sweep over the metadata store. Intended for cron or a
Kubernetes CronJob when the in-process timer is disabled (SWEEP_INTERVAL=0).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context())
		},
	}
}

func runSweep(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, appCfg)
	if err != nil {
		return err
	}
	defer b.Close()

	_, sweeper, _ := newServices(appCfg, b)
	result := sweeper.RunOnce(ctx)

	log.Info().
		Int("scanned", result.Scanned).
		Int("deleted", result.Deleted).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Sweep finished")

	if result.Errors > 0 {
		return fmt.Errorf("sweep finished with %d errors", result.Errors)
	}
	return nil
}
