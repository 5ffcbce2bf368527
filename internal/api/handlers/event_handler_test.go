package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/metrics"
	"example.com/dompay/services/esocial/internal/models"
	"example.com/dompay/services/esocial/internal/scheduler"
	"example.com/dompay/services/esocial/internal/services"
	"example.com/dompay/services/esocial/internal/tracing"
)

// stubStore records list queries and returns empty results
type stubStore struct {
	gotStatus models.EventStatus
	gotLimit  int
}

func (s *stubStore) Create(ctx context.Context, event *models.Event) error { return nil }
func (s *stubStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return &models.Event{ID: id}, nil
}
func (s *stubStore) ListRecent(ctx context.Context, status models.EventStatus, limit int) ([]models.Event, error) {
	s.gotStatus = status
	s.gotLimit = limit
	return []models.Event{}, nil
}
func (s *stubStore) FindPending(ctx context.Context, eventType string, maxRetries, limit int) ([]models.Event, error) {
	return nil, nil
}
func (s *stubStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) { return 0, nil }
func (s *stubStore) MarkProcessing(ctx context.Context, id uuid.UUID) error        { return nil }
func (s *stubStore) MarkProcessed(ctx context.Context, id uuid.UUID, protocol string, processedAt time.Time) error {
	return nil
}
func (s *stubStore) MarkError(ctx context.Context, id uuid.UUID, message string) error { return nil }
func (s *stubStore) ResetForResend(ctx context.Context, id uuid.UUID) error            { return nil }
func (s *stubStore) AppendLog(ctx context.Context, eventID uuid.UUID, level models.LogLevel, message string, details map[string]interface{}) error {
	return nil
}
func (s *stubStore) GetLogs(ctx context.Context, eventID uuid.UUID) ([]models.EventLog, error) {
	return nil, nil
}

func newHandlerFixture(t *testing.T) (*stubStore, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	store := &stubStore{}
	svc := services.NewEventService(store, nil, nil, nil, nil, metrics.NewMetrics(), tracer, config.EsocialConfig{})
	sched := scheduler.NewScheduler(svc, nil)

	router := gin.New()
	NewEventHandler(svc, sched).RegisterRoutes(router)
	return store, router
}

func TestListEventsLimitParameter(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"default limit", "", http.StatusOK, 50},
		{"explicit limit", "?limit=5", http.StatusOK, 5},
		{"limit above cap falls back", "?limit=500", http.StatusOK, 50},
		{"non-numeric limit", "?limit=abc", http.StatusBadRequest, 0},
		{"negative limit", "?limit=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, router := newHandlerFixture(t)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/events"+tt.query, nil)
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.Equal(t, tt.wantLimit, store.gotLimit)
			}
		})
	}
}

func TestListEventsStatusFilter(t *testing.T) {
	store, router := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?status=ERROR", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.StatusError, store.gotStatus)
}
