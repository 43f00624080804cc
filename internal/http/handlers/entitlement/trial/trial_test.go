package trial

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/premium-access/internal/services/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/storage"
)

// MockService реализует интерфейс trial.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) ActivateTrial(ctx context.Context, userID int64) (entitlement.ActivationResult, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(entitlement.ActivationResult), args.Error(1)
}

func TestTrialHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	now := time.Now()

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "первая активация",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("ActivateTrial", mock.Anything, int64(42)).
					Return(entitlement.ActivationResult{NewlyGranted: true, Active: true, StartedAt: now, EndsAt: now.Add(72 * time.Hour)}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"newly_granted":true`,
		},
		{
			name: "повторная активация возвращает известное состояние",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("ActivateTrial", mock.Anything, int64(42)).
					Return(entitlement.ActivationResult{NewlyGranted: false, Active: true, StartedAt: now, EndsAt: now.Add(72 * time.Hour)}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"newly_granted":false`,
		},
		{
			name:           "некорректный JSON",
			body:           `{`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name: "хранилище недоступно",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("ActivateTrial", mock.Anything, int64(42)).
					Return(entitlement.ActivationResult{}, storage.ErrUnavailable)
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not activate trial"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/entitlement/trial", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
