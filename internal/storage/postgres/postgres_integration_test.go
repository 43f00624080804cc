package postgres

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/premium-access/internal/migrations"
	"github.com/magabrotheeeer/premium-access/internal/models"
)

// setupTestDatabase создает тестовую БД с контейнером PostgreSQL
// и применяет миграции схемы user_records.
func setupTestDatabase(t *testing.T) (*Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(3*time.Minute)),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	var store *Store
	for range 10 {
		store, err = New(connStr, log)
		if err == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, err, "failed to create store after retries")

	require.NoError(t, migrations.Run(store.DB, "../../../migrations"))

	cleanup := func() {
		_ = store.Close()
		_ = container.Terminate(ctx)
	}
	return store, cleanup
}

func TestStore_GetCreatesAndRoundTrips(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	store, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	rec, err := store.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, models.StatusNew, rec.Status)
	assert.Nil(t, rec.TrialStartedAt)

	started := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	_, err = store.WithLock(ctx, 42, func(rec *models.UserRecord) error {
		rec.TrialStartedAt = &started
		rec.Status = models.StatusFree
		rec.PendingPayments = map[string]models.PendingPayment{
			"pay-1": {Status: models.PaymentPending, CreatedAt: started},
		}
		rec.PaymentHistory = append(rec.PaymentHistory, models.Payment{
			At:                started,
			AmountMinor:       29900,
			PeriodDays:        30,
			ExternalReference: "pay-0",
		})
		return nil
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got.TrialStartedAt)
	assert.True(t, got.TrialStartedAt.Equal(started))
	assert.Equal(t, models.StatusFree, got.Status)
	require.Len(t, got.PaymentHistory, 1)
	assert.Equal(t, "pay-0", got.PaymentHistory[0].ExternalReference)
	require.Contains(t, got.PendingPayments, "pay-1")
	assert.Equal(t, models.PaymentPending, got.PendingPayments["pay-1"].Status)
}

func TestStore_WithLockSerializesSameUser(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	store, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()
	const workers = 8

	var granted int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.WithLock(ctx, 7, func(rec *models.UserRecord) error {
				if rec.TrialStartedAt == nil {
					now := time.Now().UTC()
					rec.TrialStartedAt = &now
					mu.Lock()
					granted++
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)

	rec, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.NotNil(t, rec.TrialStartedAt)
}

func TestStore_ListReturnsAllRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	store, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := store.Get(ctx, id)
		require.NoError(t, err)
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
