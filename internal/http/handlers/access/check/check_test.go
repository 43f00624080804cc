package check

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/premium-access/internal/services/access"
	"github.com/magabrotheeeer/premium-access/internal/storage"
)

// MockService реализует интерфейс check.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Check(ctx context.Context, userID int64, action string, isAdmin bool) (access.Decision, error) {
	args := m.Called(ctx, userID, action, isAdmin)
	return args.Get(0).(access.Decision), args.Error(1)
}

func TestCheckHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "доступ разрешён подписчику",
			body: `{"user_id": 42, "action": "/premium_feature"}`,
			setupMock: func(m *MockService) {
				m.On("Check", mock.Anything, int64(42), "/premium_feature", false).
					Return(access.Decision{Outcome: access.OutcomeAllowed, Reason: access.ReasonEntitled}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"outcome":"allowed"`,
		},
		{
			name: "доступ запрещён после пробного периода",
			body: `{"user_id": 43, "action": "/premium_feature"}`,
			setupMock: func(m *MockService) {
				m.On("Check", mock.Anything, int64(43), "/premium_feature", false).
					Return(access.Decision{Outcome: access.OutcomeDenied, Reason: access.ReasonTrialExpired}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"outcome":"denied"`,
		},
		{
			name:           "некорректный JSON",
			body:           `{user_id}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "отсутствует user_id",
			body:           `{"action": "/premium_feature"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"status":"Error"`,
		},
		{
			name: "хранилище недоступно - доступ не выдан",
			body: `{"user_id": 44, "action": "/premium_feature"}`,
			setupMock: func(m *MockService) {
				m.On("Check", mock.Anything, int64(44), "/premium_feature", false).
					Return(access.Decision{}, storage.ErrUnavailable)
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not check access"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/access/check", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
