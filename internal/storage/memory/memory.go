// Package memory реализует хранилище записей пользователей в памяти.
// Используется в тестах и как бэкенд по умолчанию при локальной разработке
// без каталога данных.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/magabrotheeeer/premium-access/internal/models"
	"github.com/magabrotheeeer/premium-access/internal/storage"
)

// Store — потокобезопасное хранилище в памяти с блокировкой на пользователя.
type Store struct {
	mu      sync.Mutex // защищает records и locks
	records map[int64]models.UserRecord
	locks   map[int64]*sync.Mutex
}

// New создает пустое хранилище.
func New() *Store {
	return &Store{
		records: make(map[int64]models.UserRecord),
		locks:   make(map[int64]*sync.Mutex),
	}
}

func (s *Store) userLock(userID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *Store) read(userID int64) (models.UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	return rec, ok
}

func (s *Store) write(rec models.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec
}

// Get возвращает запись пользователя, создавая запись по умолчанию
// при первом обращении.
func (s *Store) Get(ctx context.Context, userID int64) (models.UserRecord, error) {
	const op = "storage.memory.Get"
	select {
	case <-ctx.Done():
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, ok := s.read(userID)
	if !ok {
		rec = storage.NewRecord(userID, time.Now())
		s.write(rec)
	}
	return rec, nil
}

// WithLock выполняет fn в критической секции пользователя.
func (s *Store) WithLock(ctx context.Context, userID int64, fn func(rec *models.UserRecord) error) (models.UserRecord, error) {
	const op = "storage.memory.WithLock"
	select {
	case <-ctx.Done():
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, ok := s.read(userID)
	if !ok {
		rec = storage.NewRecord(userID, time.Now())
	}
	if err := fn(&rec); err != nil {
		return models.UserRecord{}, err
	}
	rec.UserID = userID
	s.write(rec)
	return rec, nil
}

// List возвращает копии всех записей.
func (s *Store) List(_ context.Context) ([]models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]models.UserRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	return records, nil
}

// Close освобождает ресурсы хранилища.
func (s *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
