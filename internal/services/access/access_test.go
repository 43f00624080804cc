package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/premium-access/internal/config"
	"github.com/magabrotheeeer/premium-access/internal/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/models"
	entservice "github.com/magabrotheeeer/premium-access/internal/services/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/storage"
	"github.com/magabrotheeeer/premium-access/internal/storage/memory"
)

type failingStore struct{}

func (failingStore) WithLock(context.Context, int64, func(rec *models.UserRecord) error) (models.UserRecord, error) {
	return models.UserRecord{}, storage.ErrUnavailable
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(store Store) *Service {
	return New(store, entitlement.New(entitlement.DefaultDurations()), 999, config.DefaultAllowedActions(), newNoopLogger())
}

func TestAccessService_Check(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name            string
		userID          int64
		action          string
		isAdmin         bool
		seed            func(*testing.T, *memory.Store)
		expectedOutcome Outcome
		expectedReason  string
		trialGranted    bool
	}{
		{
			name:            "admin flag always allowed",
			userID:          1,
			action:          "/premium_feature",
			isAdmin:         true,
			expectedOutcome: OutcomeAllowed,
			expectedReason:  ReasonAdmin,
		},
		{
			name:            "configured admin id always allowed",
			userID:          999,
			action:          "/premium_feature",
			expectedOutcome: OutcomeAllowed,
			expectedReason:  ReasonAdmin,
		},
		{
			name:            "allow-listed action bypasses entitlement",
			userID:          2,
			action:          "/subscribe",
			expectedOutcome: OutcomeAllowed,
			expectedReason:  ReasonAllowedAction,
		},
		{
			name:   "subscriber allowed",
			userID: 3,
			action: "/premium_feature",
			seed: func(t *testing.T, s *memory.Store) {
				end := time.Now().Add(10 * 24 * time.Hour)
				seedUser(t, s, 3, func(rec *models.UserRecord) {
					rec.SubscriptionEndAt = &end
				})
			},
			expectedOutcome: OutcomeAllowed,
			expectedReason:  ReasonEntitled,
		},
		{
			name:            "first gated contact grants trial",
			userID:          4,
			action:          "/premium_feature",
			expectedOutcome: OutcomeAllowed,
			expectedReason:  ReasonTrialGranted,
			trialGranted:    true,
		},
		{
			name:   "expired trial denied",
			userID: 5,
			action: "/premium_feature",
			seed: func(t *testing.T, s *memory.Store) {
				started := time.Now().Add(-96 * time.Hour)
				seedUser(t, s, 5, func(rec *models.UserRecord) {
					rec.TrialStartedAt = &started
				})
			},
			expectedOutcome: OutcomeDenied,
			expectedReason:  ReasonTrialExpired,
		},
		{
			name:   "canceled but paid subscription still allowed",
			userID: 6,
			action: "/premium_feature",
			seed: func(t *testing.T, s *memory.Store) {
				end := time.Now().Add(5 * 24 * time.Hour)
				seedUser(t, s, 6, func(rec *models.UserRecord) {
					rec.SubscriptionEndAt = &end
					rec.Canceled = true
				})
			},
			expectedOutcome: OutcomeAllowed,
			expectedReason:  ReasonEntitled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			if tt.seed != nil {
				tt.seed(t, store)
			}
			svc := newTestService(store)

			decision, err := svc.Check(ctx, tt.userID, tt.action, tt.isAdmin)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedOutcome, decision.Outcome)
			assert.Equal(t, tt.expectedReason, decision.Reason)
			assert.Equal(t, tt.trialGranted, decision.TrialGranted)
		})
	}
}

func seedUser(t *testing.T, store *memory.Store, userID int64, fn func(rec *models.UserRecord)) {
	t.Helper()
	_, err := store.WithLock(context.Background(), userID, func(rec *models.UserRecord) error {
		fn(rec)
		return nil
	})
	require.NoError(t, err)
}

func TestAccessService_Check_TrialGrantedOnce(t *testing.T) {
	store := memory.New()
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.Check(ctx, 10, "/premium_feature", false)
	require.NoError(t, err)
	assert.True(t, first.TrialGranted)

	second, err := svc.Check(ctx, 10, "/premium_feature", false)
	require.NoError(t, err)
	assert.False(t, second.TrialGranted)
	assert.Equal(t, OutcomeAllowed, second.Outcome)
	assert.Equal(t, ReasonEntitled, second.Reason)
}

func TestAccessService_Check_ConcurrentSingleTrial(t *testing.T) {
	store := memory.New()
	svc := newTestService(store)
	ctx := context.Background()

	const workers = 16
	decisions := make([]Decision, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range workers {
		go func() {
			defer wg.Done()
			decisions[i], errs[i] = svc.Check(ctx, 11, "/premium_feature", false)
		}()
	}
	wg.Wait()

	granted := 0
	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, OutcomeAllowed, decisions[i].Outcome)
		if decisions[i].TrialGranted {
			granted++
		}
	}
	assert.Equal(t, 1, granted)

	rec, err := store.Get(ctx, 11)
	require.NoError(t, err)
	require.NotNil(t, rec.TrialStartedAt)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, any) (bool, error) { return false, nil }

func (noopCache) Set(context.Context, string, any, time.Duration) error { return nil }

func (noopCache) Invalidate(context.Context, string) error { return nil }

// Полный жизненный цикл пользователя поверх одного хранилища: первый
// контакт выдаёт пробный период, после его окончания доступ закрыт,
// сверка успешного платежа открывает подписку от момента подтверждения.
func TestAccessService_SubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	eval := entitlement.New(entitlement.DefaultDurations())
	gate := New(store, eval, 999, config.DefaultAllowedActions(), newNoopLogger())
	mutators := entservice.New(store, eval, noopCache{}, newNoopLogger())
	const userID int64 = 42

	first, err := gate.Check(ctx, userID, "/premium_feature", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, first.Outcome)
	assert.Equal(t, ReasonTrialGranted, first.Reason)
	assert.True(t, first.TrialGranted)

	// Пробный период закончился
	started := time.Now().Add(-96 * time.Hour)
	seedUser(t, store, userID, func(rec *models.UserRecord) {
		rec.TrialStartedAt = &started
	})

	expired, err := gate.Check(ctx, userID, "/premium_feature", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, expired.Outcome)
	assert.Equal(t, ReasonTrialExpired, expired.Reason)

	res, err := mutators.ReconcilePayment(ctx, userID, "pay-1", true, 30*24*time.Hour, 29900)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	// Срок считается от момента подтверждения платежа, не от начала
	// пробного периода
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), res.EndAt, 2*time.Second)

	paid, err := gate.Check(ctx, userID, "/premium_feature", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, paid.Outcome)
	assert.Equal(t, ReasonEntitled, paid.Reason)
	assert.False(t, paid.TrialGranted)

	rec, err := store.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, rec.SubscriptionEndAt)
	assert.Equal(t, res.EndAt, *rec.SubscriptionEndAt)
}

func TestAccessService_Check_FailClosed(t *testing.T) {
	svc := newTestService(failingStore{})

	decision, err := svc.Check(context.Background(), 20, "/premium_feature", false)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	assert.Equal(t, Decision{}, decision)

	// Действия из списка разрешённых не трогают хранилище и работают
	// даже при его недоступности
	decision, err = svc.Check(context.Background(), 20, "/start", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, decision.Outcome)
}
