package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/api"
	"example.com/dompay/services/esocial/internal/scheduler"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the eSocial API server",
	Long:  `Starts the HTTP server exposing event intake, inspection, resend and scheduler control endpoints`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	eventService, collector, err := buildPipeline(cfg, db)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(eventService, collector)
	if err := sched.Start(cfg.Esocial.PollInterval); err != nil {
		return err
	}

	server := api.NewServer(cfg, eventService, sched, collector)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop scheduler")
	}

	return server.Shutdown(context.Background())
}
