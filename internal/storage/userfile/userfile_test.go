package userfile

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/premium-access/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	s, err := New(t.TempDir(), log)
	require.NoError(t, err)
	return s
}

func TestStore_GetCreatesDefaultRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, models.StatusNew, rec.Status)
	assert.Nil(t, rec.TrialStartedAt)

	// Запись по умолчанию сохранена до возврата из первого Get
	_, err = os.Stat(filepath.Join(s.dir, "42.json"))
	require.NoError(t, err)
}

func TestStore_WithLockPersistsMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.WithLock(ctx, 7, func(rec *models.UserRecord) error {
		rec.TrialStartedAt = &started
		return nil
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, rec.TrialStartedAt)
	// Временная метка проходит сериализацию без потери точности
	assert.True(t, rec.TrialStartedAt.Equal(started))
}

func TestStore_WithLockErrorSkipsPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Now()

	_, err := s.WithLock(ctx, 7, func(rec *models.UserRecord) error {
		rec.TrialStartedAt = &started
		return assert.AnError
	})
	require.Error(t, err)

	rec, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, rec.TrialStartedAt)
}

func TestStore_CorruptRecordIsIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WithLock(ctx, 1, func(rec *models.UserRecord) error { return nil })
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "2.json"), []byte("{not json"), 0o600))

	// Повреждённая запись не мешает перечислению остальных
	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].UserID)

	// И читается как свежая запись по умолчанию
	rec, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, rec.Status)
	assert.Nil(t, rec.TrialStartedAt)
}

func TestStore_ConcurrentFirstContactSingleGrant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const workers = 16

	granted := make(chan time.Time, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.WithLock(ctx, 99, func(rec *models.UserRecord) error {
				if rec.TrialStartedAt == nil {
					now := time.Now()
					rec.TrialStartedAt = &now
					granted <- now
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(granted)

	var grants []time.Time
	for g := range granted {
		grants = append(grants, g)
	}
	require.Len(t, grants, 1)

	rec, err := s.Get(ctx, 99)
	require.NoError(t, err)
	require.NotNil(t, rec.TrialStartedAt)
	assert.True(t, rec.TrialStartedAt.Equal(grants[0]))
}

func TestStore_ListSkipsForeignFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "readme.txt"), []byte("x"), 0o600))

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
