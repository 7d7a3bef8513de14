package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dnsperfoor/pkg/api"
)

var apiDB string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Serve stored runs and the rendered report over HTTP until interrupted.`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)

	addDBFlag(apiCmd, &apiDB)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := openStore(ctx, apiDB)
	if err != nil {
		return err
	}
	defer stopStore(st)

	srv := api.NewServer(log, &cfg.API, &cfg.Report, st)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
