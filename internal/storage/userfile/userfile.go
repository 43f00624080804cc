// Package userfile реализует файловое хранилище записей пользователей:
// один JSON-файл на пользователя в каталоге данных. Каждая мутация пишется
// во временный файл и атомарно переименовывается, поэтому конкурентный
// читатель никогда не видит полузаписанную запись. Повреждённый файл одного
// пользователя логируется и трактуется как отсутствующая запись, не мешая
// загрузке остальных.
package userfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/models"
	"github.com/magabrotheeeer/premium-access/internal/storage"
)

// Store — файловое хранилище записей пользователей.
type Store struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex // защищает locks
	locks map[int64]*sync.Mutex
}

// New создает хранилище в каталоге dir, создавая каталог при необходимости.
func New(dir string, log *slog.Logger) (*Store, error) {
	const op = "storage.userfile.New"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Store{
		dir:   dir,
		log:   log,
		locks: make(map[int64]*sync.Mutex),
	}, nil
}

// userLock возвращает мьютекс пользователя, создавая его при первом обращении.
// Блокировки отдельных пользователей независимы друг от друга.
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

func (s *Store) path(userID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(userID, 10)+".json")
}

// load читает запись пользователя с диска. Отсутствующий файл — не ошибка:
// возвращается (запись по умолчанию, false, nil). Повреждённый файл
// логируется и также трактуется как отсутствующий.
func (s *Store) load(userID int64, now time.Time) (models.UserRecord, bool, error) {
	const op = "storage.userfile.load"
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.NewRecord(userID, now), false, nil
		}
		return models.UserRecord{}, false, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	var rec models.UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Error("corrupt user record, falling back to default",
			sl.UserID(userID), sl.Err(err))
		return storage.NewRecord(userID, now), false, nil
	}
	if rec.UserID != userID {
		s.log.Error("user record id mismatch, falling back to default",
			sl.UserID(userID), slog.Int64("record_id", rec.UserID))
		return storage.NewRecord(userID, now), false, nil
	}
	return rec, true, nil
}

// persist атомарно записывает запись: во временный файл, затем rename.
func (s *Store) persist(rec models.UserRecord) error {
	const op = "storage.userfile.persist"
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	target := s.path(rec.UserID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	return nil
}

// Get возвращает запись пользователя, создавая и сохраняя запись по умолчанию
// при первом обращении.
func (s *Store) Get(ctx context.Context, userID int64) (models.UserRecord, error) {
	const op = "storage.userfile.Get"
	select {
	case <-ctx.Done():
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, found, err := s.load(userID, time.Now())
	if err != nil {
		return models.UserRecord{}, err
	}
	if !found {
		if err := s.persist(rec); err != nil {
			return models.UserRecord{}, err
		}
	}
	return rec, nil
}

// WithLock выполняет fn в критической секции пользователя и сохраняет
// результат до возврата. Ошибка fn отменяет сохранение.
func (s *Store) WithLock(ctx context.Context, userID int64, fn func(rec *models.UserRecord) error) (models.UserRecord, error) {
	const op = "storage.userfile.WithLock"
	select {
	case <-ctx.Done():
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, _, err := s.load(userID, time.Now())
	if err != nil {
		return models.UserRecord{}, err
	}
	if err := fn(&rec); err != nil {
		return models.UserRecord{}, err
	}
	rec.UserID = userID
	if err := s.persist(rec); err != nil {
		return models.UserRecord{}, err
	}
	return rec, nil
}

// List возвращает записи всех пользователей. Повреждённые файлы
// пропускаются с логированием.
func (s *Store) List(ctx context.Context) ([]models.UserRecord, error) {
	const op = "storage.userfile.List"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	var records []models.UserRecord
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		default:
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		userID, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}

		l := s.userLock(userID)
		l.Lock()
		rec, found, loadErr := s.load(userID, time.Now())
		l.Unlock()
		if loadErr != nil {
			return nil, loadErr
		}
		if found {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Close освобождает ресурсы хранилища. Для файлового бэкенда освобождать нечего.
func (s *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
