// Package postgres реализует хранилище записей пользователей на PostgreSQL.
// Сериализация операций над одним пользователем обеспечивается блокировкой
// строки (SELECT ... FOR UPDATE) внутри транзакции, поэтому операции над
// разными пользователями друг друга не блокируют.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/models"
	"github.com/magabrotheeeer/premium-access/internal/storage"
)

// Store инкапсулирует соединение с базой данных PostgreSQL.
type Store struct {
	DB  *sql.DB
	log *slog.Logger
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string, log *slog.Logger) (*Store, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	return &Store{DB: db, log: log}, nil
}

// record — строка таблицы user_records; составные поля хранятся как JSONB.
type record struct {
	userID              int64
	trialStartedAt      sql.NullTime
	freePeriodStartedAt sql.NullTime
	subscriptionEndAt   sql.NullTime
	status              string
	canceled            bool
	paymentHistory      []byte
	pendingPayments     []byte
	notificationFlags   []byte
	createdAt           time.Time
}

func (r *record) toModel() (models.UserRecord, error) {
	rec := models.UserRecord{
		UserID:    r.userID,
		Status:    r.status,
		Canceled:  r.canceled,
		CreatedAt: r.createdAt,
	}
	if r.trialStartedAt.Valid {
		t := r.trialStartedAt.Time
		rec.TrialStartedAt = &t
	}
	if r.freePeriodStartedAt.Valid {
		t := r.freePeriodStartedAt.Time
		rec.FreePeriodStartedAt = &t
	}
	if r.subscriptionEndAt.Valid {
		t := r.subscriptionEndAt.Time
		rec.SubscriptionEndAt = &t
	}
	if len(r.paymentHistory) > 0 {
		if err := json.Unmarshal(r.paymentHistory, &rec.PaymentHistory); err != nil {
			return models.UserRecord{}, fmt.Errorf("decode payment history: %w", err)
		}
	}
	if len(r.pendingPayments) > 0 {
		if err := json.Unmarshal(r.pendingPayments, &rec.PendingPayments); err != nil {
			return models.UserRecord{}, fmt.Errorf("decode pending payments: %w", err)
		}
	}
	if len(r.notificationFlags) > 0 {
		if err := json.Unmarshal(r.notificationFlags, &rec.NotificationFlags); err != nil {
			return models.UserRecord{}, fmt.Errorf("decode notification flags: %w", err)
		}
	}
	return rec, nil
}

const selectColumns = `user_id, trial_started_at, free_period_started_at,
	       subscription_end_at, status, canceled, payment_history,
	       pending_payments, notification_flags, created_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (models.UserRecord, error) {
	var r record
	if err := row.Scan(&r.userID, &r.trialStartedAt, &r.freePeriodStartedAt,
		&r.subscriptionEndAt, &r.status, &r.canceled, &r.paymentHistory,
		&r.pendingPayments, &r.notificationFlags, &r.createdAt); err != nil {
		return models.UserRecord{}, err
	}
	return r.toModel()
}

// ensure вставляет запись по умолчанию, если её ещё нет. Конкурентная вторая
// вставка превращается в no-op за счёт ON CONFLICT DO NOTHING.
func ensure(ctx context.Context, tx *sql.Tx, userID int64) error {
	query := `INSERT INTO user_records (user_id, status, created_at)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (user_id) DO NOTHING`
	_, err := tx.ExecContext(ctx, query, userID, models.StatusNew, time.Now())
	return err
}

// Get возвращает запись пользователя, создавая запись по умолчанию
// при первом обращении.
func (s *Store) Get(ctx context.Context, userID int64) (models.UserRecord, error) {
	const op = "storage.postgres.Get"
	select {
	case <-ctx.Done():
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensure(ctx, tx, userID); err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	query := `SELECT ` + selectColumns + ` FROM user_records WHERE user_id = $1`
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	return rec, nil
}

// WithLock выполняет fn над строкой пользователя под блокировкой строки
// и фиксирует результат до возврата.
func (s *Store) WithLock(ctx context.Context, userID int64, fn func(rec *models.UserRecord) error) (models.UserRecord, error) {
	const op = "storage.postgres.WithLock"
	select {
	case <-ctx.Done():
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensure(ctx, tx, userID); err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}

	query := `SELECT ` + selectColumns + ` FROM user_records WHERE user_id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := fn(&rec); err != nil {
		return models.UserRecord{}, err
	}
	rec.UserID = userID

	history, err := json.Marshal(rec.PaymentHistory)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	pending, err := json.Marshal(rec.PendingPayments)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	flags, err := json.Marshal(rec.NotificationFlags)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	update := `UPDATE user_records
			   SET trial_started_at = $2, free_period_started_at = $3,
			       subscription_end_at = $4, status = $5, canceled = $6,
			       payment_history = $7, pending_payments = $8,
			       notification_flags = $9
			   WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, update, rec.UserID,
		nullTime(rec.TrialStartedAt), nullTime(rec.FreePeriodStartedAt),
		nullTime(rec.SubscriptionEndAt), rec.Status, rec.Canceled,
		history, pending, flags); err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return models.UserRecord{}, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	return rec, nil
}

// List возвращает записи всех пользователей. Строка, которую не удалось
// декодировать, пропускается с логированием и не мешает остальным.
func (s *Store) List(ctx context.Context) ([]models.UserRecord, error) {
	const op = "storage.postgres.List"
	query := `SELECT ` + selectColumns + ` FROM user_records ORDER BY user_id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var records []models.UserRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.log.Error("skipping undecodable user record", sl.Err(err))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

// Close закрывает соединение с базой данных.
func (s *Store) Close() error {
	return s.DB.Close()
}

// CheckReady проверяет готовность базы данных.
func (s *Store) CheckReady() error {
	var exists bool
	err := s.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'user_records'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table user_records missing or query error: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ storage.Store = (*Store)(nil)
