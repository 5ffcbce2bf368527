package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/messaging"
	"example.com/dompay/services/esocial/internal/scheduler"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the eSocial delivery worker",
	Long:  `Consumes intake messages from the queue and periodically delivers pending events to the gateway`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Azure.QueueConnStr != "" {
		sbClient, err := messaging.NewServiceBusClient(cfg.Azure)
		if err != nil {
			return err
		}
		defer sbClient.Close()

		g.Go(func() error {
			err := sbClient.ProcessMessages(gctx, func(ctx context.Context, msg messaging.IntakeMessage) error {
				_, err := eventService.CreateEvent(ctx, msg.EventType, msg.Payload)
				return err
			})
			if err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	} else {
		log.Warn().Msg("Service Bus connection string not configured, queue intake disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		return sched.Stop()
	})

	log.Info().Msg("Worker started")
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Worker shut down")
	return nil
}
