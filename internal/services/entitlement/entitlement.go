// Package entitlement содержит бизнес-логику мутаций прав доступа:
// активацию пробного и бесплатного периодов, выдачу и продление подписки,
// отмену продления и сверку платежей. Каждая мутация выполняется в
// критической секции пользователя и идемпотентна: повторный вызов
// сообщает уже известный результат, а не выдаёт право заново.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/premium-access/internal/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/models"
)

// ErrInvalidDuration возвращается при попытке выдать подписку с
// неположительной длительностью. Молчаливая подмена длительности
// значением по умолчанию недопустима.
var ErrInvalidDuration = errors.New("duration must be positive")

// ErrEmptyReference возвращается при пустом внешнем идентификаторе платежа.
var ErrEmptyReference = errors.New("external reference must not be empty")

// Store описывает методы хранилища, нужные мутаторам.
type Store interface {
	Get(ctx context.Context, userID int64) (models.UserRecord, error)
	WithLock(ctx context.Context, userID int64, fn func(rec *models.UserRecord) error) (models.UserRecord, error)
	List(ctx context.Context) ([]models.UserRecord, error)
}

// StatusCache описывает кеш снимков статуса для отображения.
type StatusCache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Service реализует мутаторы прав доступа.
type Service struct {
	store Store
	eval  *entitlement.Evaluator
	cache StatusCache
	log   *slog.Logger
}

// New создает новый Service.
func New(store Store, eval *entitlement.Evaluator, cache StatusCache, log *slog.Logger) *Service {
	return &Service{
		store: store,
		eval:  eval,
		cache: cache,
		log:   log,
	}
}

// ActivationResult — результат активации периода. NewlyGranted true только
// при первой активации; повторный вызов возвращает уже известное состояние.
type ActivationResult struct {
	NewlyGranted bool      `json:"newly_granted"`
	Active       bool      `json:"active"`
	StartedAt    time.Time `json:"started_at"`
	EndsAt       time.Time `json:"ends_at"`
}

// GrantResult — результат выдачи или продления подписки.
type GrantResult struct {
	Applied bool      `json:"applied"`
	EndAt   time.Time `json:"end_at"`
}

// StatusInfo — снимок статуса для отображения и отчётности.
type StatusInfo struct {
	entitlement.Snapshot
	Status   string `json:"status"`
	Canceled bool   `json:"canceled"`
}

func statusCacheKey(userID int64) string {
	return fmt.Sprintf("user-status:%d", userID)
}

// invalidateStatus сбрасывает кешированный снимок после мутации.
// Ошибка кеша не отменяет уже сохранённую мутацию.
func (s *Service) invalidateStatus(ctx context.Context, userID int64) {
	if err := s.cache.Invalidate(ctx, statusCacheKey(userID)); err != nil {
		s.log.Warn("failed to invalidate status cache", sl.UserID(userID), sl.Err(err))
	}
}

// ActivateTrial активирует пробный период, если он ещё не активировался.
// Повторная активация — no-op: часы не сбрасываются.
func (s *Service) ActivateTrial(ctx context.Context, userID int64) (ActivationResult, error) {
	var res ActivationResult
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		now := time.Now()
		if rec.TrialStartedAt == nil {
			rec.TrialStartedAt = &now
			res = ActivationResult{NewlyGranted: true, Active: true, StartedAt: now}
		} else {
			snap := s.eval.Evaluate(*rec, now, false)
			res = ActivationResult{Active: snap.TrialActive, StartedAt: *rec.TrialStartedAt}
		}
		snap := s.eval.Evaluate(*rec, now, false)
		if snap.TrialEndsAt != nil {
			res.EndsAt = *snap.TrialEndsAt
		}
		rec.Status = s.eval.Status(*rec, now)
		return nil
	})
	if err != nil {
		return ActivationResult{}, err
	}
	if res.NewlyGranted {
		s.log.Info("trial activated", sl.UserID(userID))
		s.invalidateStatus(ctx, userID)
	}
	return res, nil
}

// ActivateFreePeriod активирует бесплатный период по той же схеме
// идемпотентности, что и пробный.
func (s *Service) ActivateFreePeriod(ctx context.Context, userID int64) (ActivationResult, error) {
	var res ActivationResult
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		now := time.Now()
		if rec.FreePeriodStartedAt == nil {
			rec.FreePeriodStartedAt = &now
			res = ActivationResult{NewlyGranted: true, Active: true, StartedAt: now}
		} else {
			snap := s.eval.Evaluate(*rec, now, false)
			res = ActivationResult{Active: snap.FreePeriodActive, StartedAt: *rec.FreePeriodStartedAt}
		}
		snap := s.eval.Evaluate(*rec, now, false)
		if snap.FreePeriodEndsAt != nil {
			res.EndsAt = *snap.FreePeriodEndsAt
		}
		rec.Status = s.eval.Status(*rec, now)
		return nil
	})
	if err != nil {
		return ActivationResult{}, err
	}
	if res.NewlyGranted {
		s.log.Info("free period activated", sl.UserID(userID))
		s.invalidateStatus(ctx, userID)
	}
	return res, nil
}

// applyGrant применяет выдачу или продление подписки к записи под уже
// взятой блокировкой. Действующая подписка продлевается от текущего конца,
// истёкшая или отсутствующая — от now. Повторная доставка того же
// externalRef — no-op.
func (s *Service) applyGrant(rec *models.UserRecord, now time.Time, duration time.Duration, amountMinor int64, externalRef string) GrantResult {
	if rec.HasPayment(externalRef) {
		var end time.Time
		if rec.SubscriptionEndAt != nil {
			end = *rec.SubscriptionEndAt
		}
		return GrantResult{Applied: false, EndAt: end}
	}

	base := now
	if rec.SubscriptionEndAt != nil && rec.SubscriptionEndAt.After(now) {
		base = *rec.SubscriptionEndAt
	}
	end := base.Add(duration)
	rec.SubscriptionEndAt = &end
	rec.Canceled = false
	// Новый оплаченный период — напоминание об окончании снова разрешено
	rec.NotificationFlags.SubscriptionEndingSent = false
	rec.PaymentHistory = append(rec.PaymentHistory, models.Payment{
		At:                now,
		AmountMinor:       amountMinor,
		PeriodDays:        int(duration / (24 * time.Hour)),
		ExternalReference: externalRef,
	})
	rec.Status = s.eval.Status(*rec, now)
	return GrantResult{Applied: true, EndAt: end}
}

// GrantOrRenewSubscription выдаёт или продлевает подписку пользователю.
// Безопасна при повторной доставке подтверждения с тем же externalRef.
func (s *Service) GrantOrRenewSubscription(ctx context.Context, userID int64, duration time.Duration, amountMinor int64, externalRef string) (GrantResult, error) {
	const op = "services.entitlement.GrantOrRenewSubscription"
	if duration <= 0 {
		return GrantResult{}, fmt.Errorf("%s: %w: %s", op, ErrInvalidDuration, duration)
	}
	if externalRef == "" {
		return GrantResult{}, fmt.Errorf("%s: %w", op, ErrEmptyReference)
	}

	var res GrantResult
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		res = s.applyGrant(rec, time.Now(), duration, amountMinor, externalRef)
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}
	if res.Applied {
		s.log.Info("subscription granted",
			sl.UserID(userID),
			slog.String("external_reference", externalRef),
			slog.Time("end_at", res.EndAt))
		s.invalidateStatus(ctx, userID)
	} else {
		s.log.Info("duplicate payment confirmation ignored",
			sl.UserID(userID), slog.String("external_reference", externalRef))
	}
	return res, nil
}

// CancelResult — результат отмены продления.
type CancelResult struct {
	SubscriptionEndAt *time.Time `json:"subscription_end_at,omitempty"`
}

// Cancel отменяет намерение продлевать подписку. Уже оплаченное время
// не отзывается: SubscriptionEndAt не усечётся.
func (s *Service) Cancel(ctx context.Context, userID int64) (CancelResult, error) {
	var res CancelResult
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		rec.Canceled = true
		rec.Status = s.eval.Status(*rec, time.Now())
		res.SubscriptionEndAt = rec.SubscriptionEndAt
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	s.log.Info("renewal canceled", sl.UserID(userID))
	s.invalidateStatus(ctx, userID)
	return res, nil
}

// RegisterPendingPayment регистрирует созданный у провайдера платеж
// для последующей сверки. Повторная регистрация того же идентификатора — no-op.
func (s *Service) RegisterPendingPayment(ctx context.Context, userID int64, externalRef string) error {
	const op = "services.entitlement.RegisterPendingPayment"
	if externalRef == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyReference)
	}
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		if rec.PendingPayments == nil {
			rec.PendingPayments = make(map[string]models.PendingPayment)
		}
		if _, ok := rec.PendingPayments[externalRef]; ok {
			return nil
		}
		rec.PendingPayments[externalRef] = models.PendingPayment{
			Status:    models.PaymentPending,
			CreatedAt: time.Now(),
		}
		return nil
	})
	return err
}

// PendingPayments возвращает незавершённые платежи пользователя.
func (s *Service) PendingPayments(ctx context.Context, userID int64) (map[string]models.PendingPayment, error) {
	const op = "services.entitlement.PendingPayments"
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pending := make(map[string]models.PendingPayment)
	for ref, p := range rec.PendingPayments {
		if p.Status == models.PaymentPending {
			pending[ref] = p
		}
	}
	return pending, nil
}

// ReconcilePayment переводит незавершённый платеж в completed и применяет
// выдачу подписки ровно один раз. Повторная сверка того же идентификатора
// любым триггером (повторный вебхук, ручная проверка) — no-op. Перевод
// статуса и выдача выполняются в одной критической секции.
func (s *Service) ReconcilePayment(ctx context.Context, userID int64, externalRef string, succeeded bool, duration time.Duration, amountMinor int64) (GrantResult, error) {
	const op = "services.entitlement.ReconcilePayment"
	if externalRef == "" {
		return GrantResult{}, fmt.Errorf("%s: %w", op, ErrEmptyReference)
	}
	if succeeded && duration <= 0 {
		return GrantResult{}, fmt.Errorf("%s: %w: %s", op, ErrInvalidDuration, duration)
	}

	var res GrantResult
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		now := time.Now()
		if rec.PendingPayments == nil {
			rec.PendingPayments = make(map[string]models.PendingPayment)
		}
		entry, ok := rec.PendingPayments[externalRef]
		if ok && entry.Status == models.PaymentCompleted {
			if rec.SubscriptionEndAt != nil {
				res.EndAt = *rec.SubscriptionEndAt
			}
			return nil
		}
		if !succeeded {
			delete(rec.PendingPayments, externalRef)
			return nil
		}
		if !ok {
			// Подтверждение может прийти раньше регистрации (вебхук
			// обгоняет ответ на создание платежа)
			entry = models.PendingPayment{CreatedAt: now}
		}
		entry.Status = models.PaymentCompleted
		rec.PendingPayments[externalRef] = entry
		res = s.applyGrant(rec, now, duration, amountMinor, externalRef)
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}
	if res.Applied {
		s.log.Info("payment reconciled, subscription granted",
			sl.UserID(userID), slog.String("external_reference", externalRef))
		s.invalidateStatus(ctx, userID)
	}
	return res, nil
}

// GetStatus возвращает снимок статуса пользователя для отображения,
// используя кеш. Шлюз доступа этим методом не пользуется: право доступа
// всегда вычисляется заново по записи.
func (s *Service) GetStatus(ctx context.Context, userID int64, isAdmin bool) (StatusInfo, error) {
	var info StatusInfo
	key := statusCacheKey(userID)
	found, err := s.cache.Get(ctx, key, &info)
	if err != nil {
		s.log.Warn("status cache read failed", sl.UserID(userID), sl.Err(err))
	}
	if found && !isAdmin {
		return info, nil
	}

	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return StatusInfo{}, err
	}
	info = StatusInfo{
		Snapshot: s.eval.Evaluate(rec, time.Now(), isAdmin),
		Status:   rec.Status,
		Canceled: rec.Canceled,
	}
	if !isAdmin {
		if err := s.cache.Set(ctx, key, info, time.Minute); err != nil {
			s.log.Warn("status cache write failed", sl.UserID(userID), sl.Err(err))
		}
	}
	return info, nil
}

// Stats возвращает количество пользователей по классификациям.
// Используется админской конечной точкой отчётности.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	stats := make(map[string]int)
	for _, rec := range records {
		snap := s.eval.Evaluate(rec, now, false)
		stats[snap.Classification]++
	}
	return stats, nil
}
