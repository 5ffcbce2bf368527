package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/cache"
	"example.com/dompay/services/esocial/internal/esocial"
	"example.com/dompay/services/esocial/internal/metrics"
	"example.com/dompay/services/esocial/internal/models"
	"example.com/dompay/services/esocial/internal/repositories"
	"example.com/dompay/services/esocial/internal/search"
	"example.com/dompay/services/esocial/internal/services"
	"example.com/dompay/services/esocial/internal/tracing"
)

var rootCmd = &cobra.Command{
	Use:   "esocial-service",
	Short: "eSocial event delivery service",
	Long:  `Validates, encodes and delivers eSocial declarations to the government gateway, with bounded retries and full audit logging`,
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return nil
}

// initDatabase opens the database and runs migrations
func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}

	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	if cfg.DB.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}

// buildPipeline wires the delivery pipeline with its collaborators
func buildPipeline(cfg config.Config, db *gorm.DB) (*services.EventService, *metrics.Metrics, error) {
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize tracer")
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search indexing")
		elasticClient = nil
	}

	collector := metrics.NewMetrics()

	eventRepo := repositories.NewEventRepository(db)
	refRepo := repositories.NewReferenceRepository(db, redisCache)

	validator := esocial.NewValidator(refRepo)
	encoder := esocial.NewEncoder()
	transmitter := esocial.NewHTTPTransmitter(cfg.Esocial)

	eventService := services.NewEventService(
		eventRepo,
		validator,
		encoder,
		transmitter,
		elasticClient,
		collector,
		tracer,
		cfg.Esocial,
	)

	return eventService, collector, nil
}
