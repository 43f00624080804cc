// Package scheduler реализует периодические обходы записей пользователей:
// уведомления о скором окончании бесплатного периода и подписки, а также
// напоминания об оформлении подписки. Обходы читают права через Evaluator
// с одним зафиксированным моментом времени и не меняют никаких полей прав —
// единственная разрешённая запись это одноразовые флаги уведомлений.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/premium-access/internal/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/models"
)

// Пороги уведомлений.
const (
	freePeriodEndingWindow   = 3 * 24 * time.Hour
	subscriptionEndingWindow = 24 * time.Hour
)

// Store описывает методы хранилища, нужные планировщику.
type Store interface {
	List(ctx context.Context) ([]models.UserRecord, error)
	WithLock(ctx context.Context, userID int64, fn func(rec *models.UserRecord) error) (models.UserRecord, error)
}

// Publisher публикует уведомление с ключом маршрутизации.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Service реализует периодические обходы.
type Service struct {
	store Store
	eval  *entitlement.Evaluator
	pub   Publisher
	log   *slog.Logger
}

// New создает новый Service.
func New(store Store, eval *entitlement.Evaluator, pub Publisher, log *slog.Logger) *Service {
	return &Service{
		store: store,
		eval:  eval,
		pub:   pub,
		log:   log,
	}
}

// FreePeriodEndingNotices запускает цикл уведомлений о скором окончании
// бесплатного периода.
func (s *Service) FreePeriodEndingNotices(ctx context.Context, every time.Duration) {
	s.runFreePeriodEndingNotices(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runFreePeriodEndingNotices(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runFreePeriodEndingNotices(ctx context.Context) {
	s.log.Info("starting sweep for ending free periods")
	records, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("failed to list user records", sl.Err(err))
		return
	}

	now := time.Now()
	sent := 0
	for _, rec := range records {
		snap := s.eval.Evaluate(rec, now, false)
		if !snap.FreePeriodActive || snap.FreePeriodEndsAt == nil {
			continue
		}
		if snap.FreePeriodEndsAt.Sub(now) > freePeriodEndingWindow {
			continue
		}
		if rec.NotificationFlags.FreePeriodEndingSent {
			continue
		}
		if s.notifyOnce(ctx, rec.UserID, models.UserNotice{
			UserID: rec.UserID,
			Kind:   models.NoticeFreePeriodEnding,
			EndsAt: *snap.FreePeriodEndsAt,
		}, "freeperiod", func(r *models.UserRecord) *bool {
			return &r.NotificationFlags.FreePeriodEndingSent
		}) {
			sent++
		}
	}
	s.log.Info("free period sweep finished", slog.Int("sent", sent))
}

// SubscriptionEndingNotices запускает цикл уведомлений о скором окончании
// оплаченной подписки.
func (s *Service) SubscriptionEndingNotices(ctx context.Context, every time.Duration) {
	s.runSubscriptionEndingNotices(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runSubscriptionEndingNotices(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runSubscriptionEndingNotices(ctx context.Context) {
	s.log.Info("starting sweep for ending subscriptions")
	records, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("failed to list user records", sl.Err(err))
		return
	}

	now := time.Now()
	sent := 0
	for _, rec := range records {
		snap := s.eval.Evaluate(rec, now, false)
		if !snap.SubscriptionActive || snap.SubscriptionEndsAt == nil {
			continue
		}
		if snap.SubscriptionEndsAt.Sub(now) > subscriptionEndingWindow {
			continue
		}
		if rec.NotificationFlags.SubscriptionEndingSent {
			continue
		}
		if s.notifyOnce(ctx, rec.UserID, models.UserNotice{
			UserID: rec.UserID,
			Kind:   models.NoticeSubscriptionEnding,
			EndsAt: *snap.SubscriptionEndsAt,
		}, "subscription", func(r *models.UserRecord) *bool {
			return &r.NotificationFlags.SubscriptionEndingSent
		}) {
			sent++
		}
	}
	s.log.Info("subscription sweep finished", slog.Int("sent", sent))
}

// notifyOnce публикует уведомление и взводит одноразовый флаг в одной
// критической секции пользователя. Если другой обход уже взвёл флаг,
// публикации не будет.
func (s *Service) notifyOnce(ctx context.Context, userID int64, notice models.UserNotice, routingKey string, flag func(*models.UserRecord) *bool) bool {
	published := false
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		f := flag(rec)
		if *f {
			return nil
		}
		if err := s.pub.Publish(routingKey, notice); err != nil {
			return err
		}
		*f = true
		published = true
		return nil
	})
	if err != nil {
		s.log.Error("failed to publish notice", sl.UserID(userID), sl.Err(err))
		return false
	}
	return published
}

// UpsellReminders запускает ежедневный цикл напоминаний об оформлении
// подписки пользователям с использованным пробным периодом и без активных
// прав. Запись пользователя не меняется вообще.
func (s *Service) UpsellReminders(ctx context.Context, every time.Duration) {
	s.runUpsellReminders(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runUpsellReminders(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runUpsellReminders(ctx context.Context) {
	s.log.Info("starting upsell reminder sweep")
	records, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("failed to list user records", sl.Err(err))
		return
	}

	now := time.Now()
	sent := 0
	for _, rec := range records {
		snap := s.eval.Evaluate(rec, now, false)
		if snap.Entitled || rec.TrialStartedAt == nil {
			continue
		}
		notice := models.UserNotice{UserID: rec.UserID, Kind: models.NoticeUpsell}
		if err := s.pub.Publish("upsell", notice); err != nil {
			s.log.Error("failed to publish upsell reminder", sl.UserID(rec.UserID), sl.Err(err))
			continue
		}
		sent++
	}
	s.log.Info("upsell reminder sweep finished", slog.Int("sent", sent))
}
