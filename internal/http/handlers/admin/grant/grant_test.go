package grant

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
)

// MockService реализует интерфейс grant.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) GrantOrRenewSubscription(ctx context.Context, userID int64, duration time.Duration, amountMinor int64, externalRef string) (entitlement.GrantResult, error) {
	args := m.Called(ctx, userID, duration, amountMinor, externalRef)
	return args.Get(0).(entitlement.GrantResult), args.Error(1)
}

func TestGrantHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	end := time.Now().Add(30 * 24 * time.Hour)

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешная выдача",
			body: `{"user_id": 42, "days": 30, "amount_minor": 29900, "external_reference": "manual-1"}`,
			setupMock: func(m *MockService) {
				m.On("GrantOrRenewSubscription", mock.Anything, int64(42), 30*24*time.Hour, int64(29900), "manual-1").
					Return(entitlement.GrantResult{Applied: true, EndAt: end}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"applied":true`,
		},
		{
			name: "повторная выдача того же external_reference",
			body: `{"user_id": 42, "days": 30, "external_reference": "manual-1"}`,
			setupMock: func(m *MockService) {
				m.On("GrantOrRenewSubscription", mock.Anything, int64(42), 30*24*time.Hour, int64(0), "manual-1").
					Return(entitlement.GrantResult{Applied: false, EndAt: end}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"applied":false`,
		},
		{
			name:           "отсутствует external_reference",
			body:           `{"user_id": 42, "days": 30}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"status":"Error"`,
		},
		{
			name:           "неположительное число дней",
			body:           `{"user_id": 42, "days": 0, "external_reference": "manual-2"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"status":"Error"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/admin/grant", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
