package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/premium-access/internal/models"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluator_Evaluate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := New(DefaultDurations())

	tests := []struct {
		name           string
		rec            models.UserRecord
		isAdmin        bool
		wantEntitled   bool
		wantClass      string
		wantTrial      bool
		wantFreePeriod bool
		wantSub        bool
	}{
		{
			name:         "новый пользователь без активаций",
			rec:          models.UserRecord{UserID: 1},
			wantEntitled: false,
			wantClass:    models.StatusNew,
		},
		{
			name: "активный пробный период",
			rec: models.UserRecord{
				UserID:         1,
				TrialStartedAt: timePtr(now.Add(-24 * time.Hour)),
			},
			wantEntitled: true,
			wantClass:    models.StatusFree,
			wantTrial:    true,
		},
		{
			name: "пробный период истек",
			rec: models.UserRecord{
				UserID:         1,
				TrialStartedAt: timePtr(now.Add(-96 * time.Hour)),
			},
			wantEntitled: false,
			wantClass:    models.StatusExpired,
		},
		{
			name: "пробный период истекает ровно сейчас",
			rec: models.UserRecord{
				UserID:         1,
				TrialStartedAt: timePtr(now.Add(-72 * time.Hour)),
			},
			wantEntitled: false,
			wantClass:    models.StatusExpired,
		},
		{
			name: "активный бесплатный период при истекшем пробном",
			rec: models.UserRecord{
				UserID:              1,
				TrialStartedAt:      timePtr(now.Add(-200 * time.Hour)),
				FreePeriodStartedAt: timePtr(now.Add(-24 * time.Hour)),
			},
			wantEntitled:   true,
			wantClass:      models.StatusFreeActive,
			wantFreePeriod: true,
		},
		{
			name: "активная подписка имеет приоритет над остальными периодами",
			rec: models.UserRecord{
				UserID:              1,
				TrialStartedAt:      timePtr(now.Add(-24 * time.Hour)),
				FreePeriodStartedAt: timePtr(now.Add(-24 * time.Hour)),
				SubscriptionEndAt:   timePtr(now.Add(10 * 24 * time.Hour)),
			},
			wantEntitled:   true,
			wantClass:      models.StatusPremium,
			wantTrial:      true,
			wantFreePeriod: true,
			wantSub:        true,
		},
		{
			name: "истекшая подписка не дает права",
			rec: models.UserRecord{
				UserID:            1,
				TrialStartedAt:    timePtr(now.Add(-96 * time.Hour)),
				SubscriptionEndAt: timePtr(now.Add(-time.Hour)),
			},
			wantEntitled: false,
			wantClass:    models.StatusExpired,
		},
		{
			name:         "администратор всегда имеет доступ",
			rec:          models.UserRecord{UserID: 1},
			isAdmin:      true,
			wantEntitled: true,
			wantClass:    ClassAdmin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := ev.Evaluate(tt.rec, now, tt.isAdmin)
			assert.Equal(t, tt.wantEntitled, snap.Entitled)
			assert.Equal(t, tt.wantClass, snap.Classification)
			assert.Equal(t, tt.wantTrial, snap.TrialActive)
			assert.Equal(t, tt.wantFreePeriod, snap.FreePeriodActive)
			assert.Equal(t, tt.wantSub, snap.SubscriptionActive)
			assert.Equal(t, now, snap.Now)
		})
	}
}

func TestEvaluator_Status(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := New(DefaultDurations())

	t.Run("отмена при действующей подписке", func(t *testing.T) {
		rec := models.UserRecord{
			UserID:            1,
			SubscriptionEndAt: timePtr(now.Add(20 * 24 * time.Hour)),
			Canceled:          true,
		}
		assert.Equal(t, models.StatusCanceled, ev.Status(rec, now))
		// Право доступа отмена не отзывает
		assert.True(t, ev.Evaluate(rec, now, false).Entitled)
	})

	t.Run("отмена после истечения подписки", func(t *testing.T) {
		rec := models.UserRecord{
			UserID:            1,
			TrialStartedAt:    timePtr(now.Add(-400 * time.Hour)),
			SubscriptionEndAt: timePtr(now.Add(-time.Hour)),
			Canceled:          true,
		}
		assert.Equal(t, models.StatusExpired, ev.Status(rec, now))
	})
}
