package sender

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/premium-access/internal/models"
)

type MockBotAPI struct {
	mock.Mock
}

func (m *MockBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func encodeNotice(t *testing.T, notice models.UserNotice) []byte {
	t.Helper()
	body, err := json.Marshal(notice)
	require.NoError(t, err)
	return body
}

func TestSenderService_SendFreePeriodEndingNotice(t *testing.T) {
	notice := models.UserNotice{
		UserID: 42,
		Kind:   models.NoticeFreePeriodEnding,
		EndsAt: time.Date(2026, 9, 4, 12, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name          string
		body          []byte
		setupMocks    func(*MockBotAPI)
		expectedError bool
	}{
		{
			name: "success",
			body: encodeNotice(t, notice),
			setupMocks: func(b *MockBotAPI) {
				b.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
					msg, ok := c.(tgbotapi.MessageConfig)
					return ok && msg.ChatID == 42
				})).Return(tgbotapi.Message{}, nil).Once()
			},
			expectedError: false,
		},
		{
			name:          "invalid body",
			body:          []byte("not json"),
			setupMocks:    func(_ *MockBotAPI) {},
			expectedError: true,
		},
		{
			name: "telegram error",
			body: encodeNotice(t, notice),
			setupMocks: func(b *MockBotAPI) {
				b.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("forbidden: bot was blocked by the user")).Once()
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := new(MockBotAPI)
			svc := New(bot, newNoopLogger())

			tt.setupMocks(bot)

			err := svc.SendFreePeriodEndingNotice(tt.body)
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			bot.AssertExpectations(t)
		})
	}
}

func TestSenderService_SendSubscriptionEndingNotice(t *testing.T) {
	notice := models.UserNotice{
		UserID: 7,
		Kind:   models.NoticeSubscriptionEnding,
		EndsAt: time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC),
	}

	bot := new(MockBotAPI)
	svc := New(bot, newNoopLogger())

	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 7
	})).Return(tgbotapi.Message{}, nil).Once()

	err := svc.SendSubscriptionEndingNotice(encodeNotice(t, notice))
	assert.NoError(t, err)
	bot.AssertExpectations(t)
}

func TestSenderService_SendUpsellReminder(t *testing.T) {
	notice := models.UserNotice{
		UserID: 9,
		Kind:   models.NoticeUpsell,
	}

	bot := new(MockBotAPI)
	svc := New(bot, newNoopLogger())

	bot.On("Send", mock.Anything).Return(tgbotapi.Message{}, nil).Once()

	err := svc.SendUpsellReminder(encodeNotice(t, notice))
	assert.NoError(t, err)
	bot.AssertExpectations(t)
}
