package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/esocial"
	"example.com/dompay/services/esocial/internal/metrics"
	"example.com/dompay/services/esocial/internal/models"
	"example.com/dompay/services/esocial/internal/tracing"
)

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) Create(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockEventStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *mockEventStore) ListRecent(ctx context.Context, status models.EventStatus, limit int) ([]models.Event, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *mockEventStore) FindPending(ctx context.Context, eventType string, maxRetries, limit int) ([]models.Event, error) {
	args := m.Called(ctx, eventType, maxRetries, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *mockEventStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockEventStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEventStore) MarkProcessed(ctx context.Context, id uuid.UUID, protocol string, processedAt time.Time) error {
	args := m.Called(ctx, id, protocol, processedAt)
	return args.Error(0)
}

func (m *mockEventStore) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	args := m.Called(ctx, id, message)
	return args.Error(0)
}

func (m *mockEventStore) ResetForResend(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEventStore) AppendLog(ctx context.Context, eventID uuid.UUID, level models.LogLevel, message string, details map[string]interface{}) error {
	args := m.Called(ctx, eventID, level, message, details)
	return args.Error(0)
}

func (m *mockEventStore) GetLogs(ctx context.Context, eventID uuid.UUID) ([]models.EventLog, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EventLog), args.Error(1)
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, eventType string, rawPayload json.RawMessage) (esocial.Payload, error) {
	args := m.Called(ctx, eventType, rawPayload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(esocial.Payload), args.Error(1)
}

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Encode(payload esocial.Payload) ([]byte, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type mockTransmitter struct {
	mock.Mock
}

func (m *mockTransmitter) Send(ctx context.Context, eventType string, xmlBody []byte) (string, error) {
	args := m.Called(ctx, eventType, xmlBody)
	return args.String(0), args.Error(1)
}

type serviceFixture struct {
	store       *mockEventStore
	validator   *mockValidator
	encoder     *mockEncoder
	transmitter *mockTransmitter
	service     *EventService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	f := &serviceFixture{
		store:       &mockEventStore{},
		validator:   &mockValidator{},
		encoder:     &mockEncoder{},
		transmitter: &mockTransmitter{},
	}
	f.service = NewEventService(
		f.store,
		f.validator,
		f.encoder,
		f.transmitter,
		nil,
		metrics.NewMetrics(),
		tracer,
		config.EsocialConfig{
			BatchSize:  10,
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
		},
	)
	return f
}

func pendingEvent() models.Event {
	return models.Event{
		ID:        uuid.New(),
		EventType: esocial.EventTypeS1202,
		Status:    models.StatusPending,
		Payload:   []byte(`{"ideEvento":{}}`),
	}
}

func TestCreateEventRejectsUnknownType(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.CreateEvent(context.Background(), "S-9999", json.RawMessage(`{}`))
	require.Error(t, err)
	require.True(t, esocial.IsValidationError(err))
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateEventPersistsAndLogs(t *testing.T) {
	f := newServiceFixture(t)
	f.store.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.store.On("AppendLog", mock.Anything, mock.Anything, models.LogLevelInfo, "Event received", mock.Anything).Return(nil)

	event, err := f.service.CreateEvent(context.Background(), esocial.EventTypeS1202, json.RawMessage(`{"ideEvento":{}}`))
	require.NoError(t, err)
	require.Equal(t, esocial.EventTypeS1202, event.EventType)
	f.store.AssertExpectations(t)
}

func TestProcessEventSuccess(t *testing.T) {
	f := newServiceFixture(t)
	event := pendingEvent()

	f.store.On("MarkProcessing", mock.Anything, event.ID).Return(nil)
	f.store.On("AppendLog", mock.Anything, event.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.validator.On("Validate", mock.Anything, event.EventType, mock.Anything).Return(&esocial.S1202Payload{}, nil)
	f.encoder.On("Encode", mock.Anything).Return([]byte("<eSocial/>"), nil)
	f.transmitter.On("Send", mock.Anything, event.EventType, mock.Anything).Return("1.2.202506.01", nil)
	f.store.On("MarkProcessed", mock.Anything, event.ID, "1.2.202506.01", mock.Anything).Return(nil)

	err := f.service.ProcessEvent(context.Background(), &event)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessed, event.Status)
	require.NotNil(t, event.Protocol)
	require.Equal(t, "1.2.202506.01", *event.Protocol)
	f.store.AssertExpectations(t)
}

func TestProcessEventValidationFailureIsTerminal(t *testing.T) {
	f := newServiceFixture(t)
	event := pendingEvent()

	f.store.On("MarkProcessing", mock.Anything, event.ID).Return(nil)
	f.store.On("AppendLog", mock.Anything, event.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.validator.On("Validate", mock.Anything, event.EventType, mock.Anything).
		Return(nil, esocial.NewValidationError("ideTrabalhador.cpfTrab", "invalid CPF"))
	f.store.On("MarkError", mock.Anything, event.ID, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "invalid CPF")
	})).Return(nil)

	err := f.service.ProcessEvent(context.Background(), &event)
	require.Error(t, err)
	require.True(t, esocial.IsValidationError(err))
	require.Equal(t, models.StatusError, event.Status)

	f.encoder.AssertNotCalled(t, "Encode", mock.Anything)
	f.transmitter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertExpectations(t)
}

func TestProcessEventEncodeFailureIsRetryable(t *testing.T) {
	f := newServiceFixture(t)
	event := pendingEvent()

	f.store.On("MarkProcessing", mock.Anything, event.ID).Return(nil)
	f.store.On("AppendLog", mock.Anything, event.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.validator.On("Validate", mock.Anything, event.EventType, mock.Anything).Return(&esocial.S1202Payload{}, nil)
	f.encoder.On("Encode", mock.Anything).Return(nil, errors.New("marshal failure"))

	err := f.service.ProcessEvent(context.Background(), &event)
	require.Error(t, err)
	require.True(t, esocial.IsTransientError(err))
	f.transmitter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "MarkError", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunBatchNoPendingEvents(t *testing.T) {
	f := newServiceFixture(t)
	f.store.On("FindPending", mock.Anything, "", 2, 10).Return([]models.Event{}, nil)

	err := f.service.RunBatch(context.Background())
	require.NoError(t, err)
	f.store.AssertNotCalled(t, "IncrementRetry", mock.Anything, mock.Anything)
}

func TestRunBatchSelectionFailureAborts(t *testing.T) {
	f := newServiceFixture(t)
	f.store.On("FindPending", mock.Anything, "", 2, 10).Return(nil, errors.New("connection reset"))

	err := f.service.RunBatch(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to select pending events")
}

func TestRunBatchRetriesTransientFailure(t *testing.T) {
	f := newServiceFixture(t)
	event := pendingEvent()

	f.store.On("FindPending", mock.Anything, "", 2, 10).Return([]models.Event{event}, nil)
	f.store.On("IncrementRetry", mock.Anything, event.ID).Return(1, nil).Once()
	f.store.On("IncrementRetry", mock.Anything, event.ID).Return(2, nil).Once()
	f.store.On("MarkProcessing", mock.Anything, event.ID).Return(nil)
	f.store.On("AppendLog", mock.Anything, event.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.validator.On("Validate", mock.Anything, event.EventType, mock.Anything).Return(&esocial.S1202Payload{}, nil)
	f.encoder.On("Encode", mock.Anything).Return([]byte("<eSocial/>"), nil)
	f.transmitter.On("Send", mock.Anything, event.EventType, mock.Anything).
		Return("", esocial.NewTransientErrorf("gateway timeout")).Once()
	f.transmitter.On("Send", mock.Anything, event.EventType, mock.Anything).
		Return("1.2.202506.02", nil).Once()
	f.store.On("MarkProcessed", mock.Anything, event.ID, "1.2.202506.02", mock.Anything).Return(nil)

	err := f.service.RunBatch(context.Background())
	require.NoError(t, err)

	f.transmitter.AssertNumberOfCalls(t, "Send", 2)
	f.store.AssertNotCalled(t, "MarkError", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertExpectations(t)
}

func TestRunBatchExhaustsRetryBudget(t *testing.T) {
	f := newServiceFixture(t)
	event := pendingEvent()

	f.store.On("FindPending", mock.Anything, "", 2, 10).Return([]models.Event{event}, nil)
	f.store.On("IncrementRetry", mock.Anything, event.ID).Return(1, nil).Once()
	f.store.On("IncrementRetry", mock.Anything, event.ID).Return(2, nil).Once()
	f.store.On("MarkProcessing", mock.Anything, event.ID).Return(nil)
	f.store.On("AppendLog", mock.Anything, event.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.validator.On("Validate", mock.Anything, event.EventType, mock.Anything).Return(&esocial.S1202Payload{}, nil)
	f.encoder.On("Encode", mock.Anything).Return([]byte("<eSocial/>"), nil)
	f.transmitter.On("Send", mock.Anything, event.EventType, mock.Anything).
		Return("", esocial.NewTransientErrorf("gateway unavailable"))
	f.store.On("MarkError", mock.Anything, event.ID, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "gateway unavailable")
	})).Return(nil)

	err := f.service.RunBatch(context.Background())
	require.NoError(t, err)

	f.transmitter.AssertNumberOfCalls(t, "Send", 2)
	f.store.AssertExpectations(t)
}

func TestRunBatchProcessesAllPendingEvents(t *testing.T) {
	f := newServiceFixture(t)
	first := pendingEvent()
	second := pendingEvent()

	f.store.On("FindPending", mock.Anything, "", 2, 10).Return([]models.Event{first, second}, nil)
	for _, event := range []models.Event{first, second} {
		f.store.On("IncrementRetry", mock.Anything, event.ID).Return(1, nil).Once()
		f.store.On("MarkProcessing", mock.Anything, event.ID).Return(nil)
		f.store.On("MarkProcessed", mock.Anything, event.ID, "1.2.202506.03", mock.Anything).Return(nil).Once()
	}
	f.store.On("AppendLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.validator.On("Validate", mock.Anything, esocial.EventTypeS1202, mock.Anything).Return(&esocial.S1202Payload{}, nil)
	f.encoder.On("Encode", mock.Anything).Return([]byte("<eSocial/>"), nil)
	f.transmitter.On("Send", mock.Anything, esocial.EventTypeS1202, mock.Anything).Return("1.2.202506.03", nil)

	err := f.service.RunBatch(context.Background())
	require.NoError(t, err)

	f.transmitter.AssertNumberOfCalls(t, "Send", 2)
	f.store.AssertNotCalled(t, "MarkError", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertExpectations(t)
}

func TestRunBatchIsolatesFailuresPerEvent(t *testing.T) {
	f := newServiceFixture(t)
	bad := pendingEvent()
	bad.Payload = []byte(`{"cpf":"invalid"}`)
	good := pendingEvent()
	good.Payload = []byte(`{"cpf":"valid"}`)

	f.store.On("FindPending", mock.Anything, "", 2, 10).Return([]models.Event{bad, good}, nil)
	f.store.On("IncrementRetry", mock.Anything, bad.ID).Return(1, nil).Once()
	f.store.On("IncrementRetry", mock.Anything, good.ID).Return(1, nil).Once()
	f.store.On("MarkProcessing", mock.Anything, mock.Anything).Return(nil)
	f.store.On("AppendLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.validator.On("Validate", mock.Anything, esocial.EventTypeS1202, json.RawMessage(bad.Payload)).
		Return(nil, esocial.NewValidationError("ideTrabalhador.cpfTrab", "invalid CPF"))
	f.validator.On("Validate", mock.Anything, esocial.EventTypeS1202, json.RawMessage(good.Payload)).
		Return(&esocial.S1202Payload{}, nil)
	f.encoder.On("Encode", mock.Anything).Return([]byte("<eSocial/>"), nil)
	f.transmitter.On("Send", mock.Anything, esocial.EventTypeS1202, mock.Anything).Return("1.2.202506.04", nil)

	f.store.On("MarkError", mock.Anything, bad.ID, mock.Anything).Return(nil).Once()
	f.store.On("MarkProcessed", mock.Anything, good.ID, "1.2.202506.04", mock.Anything).Return(nil).Once()

	err := f.service.RunBatch(context.Background())
	require.NoError(t, err)

	f.transmitter.AssertNumberOfCalls(t, "Send", 1)
	f.store.AssertNotCalled(t, "MarkError", mock.Anything, good.ID, mock.Anything)
	f.store.AssertExpectations(t)
}

func TestRunBatchValidationFailureConsumesNoRetries(t *testing.T) {
	f := newServiceFixture(t)
	event := pendingEvent()

	f.store.On("FindPending", mock.Anything, "", 2, 10).Return([]models.Event{event}, nil)
	f.store.On("IncrementRetry", mock.Anything, event.ID).Return(1, nil).Once()
	f.store.On("MarkProcessing", mock.Anything, event.ID).Return(nil)
	f.store.On("AppendLog", mock.Anything, event.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.validator.On("Validate", mock.Anything, event.EventType, mock.Anything).
		Return(nil, esocial.NewValidationError("ideEvento.perApur", "reference period cannot be in the future"))
	f.store.On("MarkError", mock.Anything, event.ID, mock.Anything).Return(nil)

	err := f.service.RunBatch(context.Background())
	require.NoError(t, err)

	f.store.AssertNumberOfCalls(t, "IncrementRetry", 1)
	f.transmitter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestResendEventPropagatesConflict(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()
	f.store.On("ResetForResend", mock.Anything, id).Return(errors.New("event is not in a terminal error state"))

	err := f.service.ResendEvent(context.Background(), id)
	require.Error(t, err)
	f.store.AssertNotCalled(t, "AppendLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
