package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/esocial"
	"example.com/dompay/services/esocial/internal/metrics"
	"example.com/dompay/services/esocial/internal/models"
	"example.com/dompay/services/esocial/internal/search"
	"example.com/dompay/services/esocial/internal/tracing"
)

// EventStore is the persistence surface the pipeline depends on
type EventStore interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListRecent(ctx context.Context, status models.EventStatus, limit int) ([]models.Event, error)
	FindPending(ctx context.Context, eventType string, maxRetries, limit int) ([]models.Event, error)
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID, protocol string, processedAt time.Time) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	ResetForResend(ctx context.Context, id uuid.UUID) error
	AppendLog(ctx context.Context, eventID uuid.UUID, level models.LogLevel, message string, details map[string]interface{}) error
	GetLogs(ctx context.Context, eventID uuid.UUID) ([]models.EventLog, error)
}

// PayloadValidator checks a raw payload against its event-type rules
type PayloadValidator interface {
	Validate(ctx context.Context, eventType string, rawPayload json.RawMessage) (esocial.Payload, error)
}

// PayloadEncoder renders a validated payload as the gateway envelope
type PayloadEncoder interface {
	Encode(payload esocial.Payload) ([]byte, error)
}

// EventService drives events through validation, encoding and transmission
type EventService struct {
	store       EventStore
	validator   PayloadValidator
	encoder     PayloadEncoder
	transmitter esocial.Transmitter
	elastic     *search.ElasticClient
	collector   *metrics.Metrics
	tracer      tracing.Tracer
	cfg         config.EsocialConfig
}

// NewEventService creates an event service with explicit dependencies
func NewEventService(
	store EventStore,
	validator PayloadValidator,
	encoder PayloadEncoder,
	transmitter esocial.Transmitter,
	elastic *search.ElasticClient,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
	cfg config.EsocialConfig,
) *EventService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &EventService{
		store:       store,
		validator:   validator,
		encoder:     encoder,
		transmitter: transmitter,
		elastic:     elastic,
		collector:   collector,
		tracer:      tracer,
		cfg:         cfg,
	}
}

// CreateEvent persists a new PENDING event from an intake submission
func (s *EventService) CreateEvent(ctx context.Context, eventType string, payload json.RawMessage) (*models.Event, error) {
	if _, ok := esocial.DescriptorFor(eventType); !ok {
		return nil, esocial.NewValidationError("eventType", fmt.Sprintf("unknown event type %q", eventType))
	}

	event := &models.Event{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
	}

	if err := s.store.Create(ctx, event); err != nil {
		return nil, errors.Wrap(err, "failed to persist event")
	}

	if err := s.store.AppendLog(ctx, event.ID, models.LogLevelInfo, "Event received", nil); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to append intake log")
	}

	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", eventType).
		Msg("Event created")

	return event, nil
}

// GetEvent returns one event by id
func (s *EventService) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return s.store.GetByID(ctx, id)
}

// GetEventLogs returns the audit trail of an event
func (s *EventService) GetEventLogs(ctx context.Context, id uuid.UUID) ([]models.EventLog, error) {
	return s.store.GetLogs(ctx, id)
}

// ListEvents lists recent events, optionally filtered by status
func (s *EventService) ListEvents(ctx context.Context, status models.EventStatus, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListRecent(ctx, status, limit)
}

// ResendEvent returns a terminally failed event to the pending queue
func (s *EventService) ResendEvent(ctx context.Context, id uuid.UUID) error {
	if err := s.store.ResetForResend(ctx, id); err != nil {
		return err
	}

	if err := s.store.AppendLog(ctx, id, models.LogLevelInfo, "Event queued for resend", nil); err != nil {
		log.Warn().Err(err).Str("event_id", id.String()).Msg("Failed to append resend log")
	}
	return nil
}

// ProcessEvent performs a single delivery attempt for one event.
//
// A ValidationError is terminal: the event is marked ERROR here and the
// error is returned so the batch runner knows not to retry. A TransientError
// leaves the event in PROCESSING and is returned for the runner to decide
// retry versus terminal failure.
func (s *EventService) ProcessEvent(ctx context.Context, event *models.Event) error {
	txn := s.tracer.StartTransaction("process-event")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "event_id", event.ID.String())
	s.tracer.AddAttribute(txn, "event_type", event.EventType)

	if err := s.store.MarkProcessing(ctx, event.ID); err != nil {
		return errors.Wrap(err, "failed to mark event as processing")
	}
	s.appendLog(ctx, event.ID, models.LogLevelInfo, "Processing started", map[string]interface{}{
		"retry_count": event.RetryCount,
	})

	validateSpan := s.tracer.StartSpan("validate", txn)
	payload, err := s.validator.Validate(ctx, event.EventType, json.RawMessage(event.Payload))
	validateSpan.End()

	if err != nil {
		if esocial.IsValidationError(err) {
			s.tracer.RecordError(txn, err)
			s.failTerminally(ctx, event, "Validation failed: "+err.Error())
			return err
		}
		// Reference lookups can fail at the store level; that is retryable
		s.tracer.RecordError(txn, err)
		return err
	}

	encodeSpan := s.tracer.StartSpan("encode", txn)
	envelope, err := s.encoder.Encode(payload)
	encodeSpan.End()

	if err != nil {
		s.tracer.RecordError(txn, err)
		return esocial.NewTransientError(errors.Wrap(err, "failed to encode event"))
	}

	transmitStart := time.Now()
	transmitSpan := s.tracer.StartSpan("transmit", txn)
	protocol, err := s.transmitter.Send(ctx, event.EventType, envelope)
	transmitSpan.End()
	s.collector.RecordTimer(metrics.TimerTransmitDuration, time.Since(transmitStart))

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.appendLog(ctx, event.ID, models.LogLevelError, "Transmission failed", map[string]interface{}{
			"error":       err.Error(),
			"retry_count": event.RetryCount,
		})
		return err
	}

	processedAt := time.Now().UTC()
	if err := s.store.MarkProcessed(ctx, event.ID, protocol, processedAt); err != nil {
		return errors.Wrap(err, "failed to mark event as processed")
	}
	s.appendLog(ctx, event.ID, models.LogLevelInfo, "Event accepted by gateway", map[string]interface{}{
		"protocol": protocol,
	})
	s.collector.IncrementCounter(metrics.CounterEventsProcessed)

	event.Status = models.StatusProcessed
	event.Protocol = &protocol
	event.ProcessedAt = &processedAt
	s.indexEvent(ctx, event)

	log.Info().
		Str("event_id", event.ID.String()).
		Str("protocol", protocol).
		Msg("Event processed successfully")

	return nil
}

// RunBatch selects a bounded set of pending events and drives each one to a
// terminal outcome or retry-budget exhaustion. Failures are isolated per
// event; only a selection failure aborts the run.
func (s *EventService) RunBatch(ctx context.Context) error {
	start := time.Now()
	txn := s.tracer.StartTransaction("run-batch")
	defer s.tracer.EndTransaction(txn)

	events, err := s.store.FindPending(ctx, "", s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return errors.Wrap(err, "failed to select pending events")
	}

	if len(events) == 0 {
		log.Info().Msg("No pending events to process")
		return nil
	}

	log.Info().Int("count", len(events)).Msg("Starting batch processing")
	s.collector.IncrementCounter(metrics.CounterBatchRuns)

	g, gctx := errgroup.WithContext(ctx)
	for i := range events {
		event := events[i]
		g.Go(func() error {
			s.processWithRetry(gctx, &event)
			return nil
		})
	}
	g.Wait()

	s.collector.RecordTimer(metrics.TimerBatchDuration, time.Since(start))
	log.Info().
		Int("count", len(events)).
		Dur("duration", time.Since(start)).
		Msg("Batch processing finished")

	return nil
}

// processWithRetry drives one event through up to MaxRetries attempts with a
// fixed delay between them. The retry counter is persisted before each
// attempt so a crash mid-attempt cannot grant extra budget.
func (s *EventService) processWithRetry(ctx context.Context, event *models.Event) {
	for {
		retryCount, err := s.store.IncrementRetry(ctx, event.ID)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to increment retry count")
			return
		}
		event.RetryCount = retryCount

		err = s.ProcessEvent(ctx, event)
		if err == nil {
			return
		}

		if esocial.IsValidationError(err) {
			// Already marked ERROR by ProcessEvent; retrying cannot help
			return
		}

		log.Error().
			Err(err).
			Str("event_id", event.ID.String()).
			Int("retry_count", retryCount).
			Msg("Event processing attempt failed")

		if retryCount >= s.cfg.MaxRetries {
			s.failTerminally(ctx, event, err.Error())
			return
		}

		s.collector.IncrementCounter(metrics.CounterEventsRetried)
		select {
		case <-ctx.Done():
			log.Warn().Str("event_id", event.ID.String()).Msg("Retry wait interrupted by shutdown")
			return
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

// failTerminally marks an event ERROR, logs the reason and projects the
// terminal state into the search index
func (s *EventService) failTerminally(ctx context.Context, event *models.Event, message string) {
	if err := s.store.MarkError(ctx, event.ID, message); err != nil {
		log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to mark event as errored")
		return
	}
	s.appendLog(ctx, event.ID, models.LogLevelError, "Event failed terminally", map[string]interface{}{
		"error":       message,
		"retry_count": event.RetryCount,
	})
	s.collector.IncrementCounter(metrics.CounterEventsFailed)

	event.Status = models.StatusError
	event.Error = &message
	s.indexEvent(ctx, event)
}

func (s *EventService) appendLog(ctx context.Context, eventID uuid.UUID, level models.LogLevel, message string, details map[string]interface{}) {
	if err := s.store.AppendLog(ctx, eventID, level, message, details); err != nil {
		log.Warn().Err(err).Str("event_id", eventID.String()).Msg("Failed to append event log")
	}
}

func (s *EventService) indexEvent(ctx context.Context, event *models.Event) {
	if err := s.elastic.IndexEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to index event")
	}
}
