// Package entitlement реализует чистую логику вычисления прав доступа.
//
// Evaluate — функция только от записи пользователя и момента времени,
// без побочных эффектов и обращений к хранилищу. Она вызывается шлюзом
// доступа, планировщиком и отчётными конечными точками; кешированное поле
// Status записи здесь не читается никогда — право доступа выводится
// исключительно из временных меток.
package entitlement

import (
	"time"

	"github.com/magabrotheeeer/premium-access/internal/models"
)

// Durations хранит длительности периодов доступа.
type Durations struct {
	Trial      time.Duration
	FreePeriod time.Duration
}

// DefaultDurations возвращает длительности по умолчанию:
// пробный период 3 дня, бесплатный период 30 дней.
func DefaultDurations() Durations {
	return Durations{
		Trial:      72 * time.Hour,
		FreePeriod: 720 * time.Hour,
	}
}

// Snapshot — результат вычисления прав на один момент времени Now.
// Момент фиксируется один раз на всё вычисление, чтобы право не могло
// "моргнуть" из активного в истёкшее внутри одной проверки.
type Snapshot struct {
	Now                time.Time  `json:"now"`
	TrialActive        bool       `json:"trial_active"`
	FreePeriodActive   bool       `json:"free_period_active"`
	SubscriptionActive bool       `json:"subscription_active"`
	Entitled           bool       `json:"entitled"`
	Classification     string     `json:"classification"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	FreePeriodEndsAt   *time.Time `json:"free_period_ends_at,omitempty"`
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at,omitempty"`
}

// Классификация для отображения. Порядок приоритета: администратор >
// активная подписка > активный бесплатный период > активный пробный период >
// истёкший пробный период > ничего не активировано. Классификация
// никогда не используется как предикат доступа — для этого есть Entitled.
const (
	ClassAdmin = "admin"
)

// Evaluator вычисляет права доступа с настроенными длительностями.
type Evaluator struct {
	durations Durations
}

// New создает Evaluator с заданными длительностями периодов.
func New(d Durations) *Evaluator {
	return &Evaluator{durations: d}
}

// Evaluate вычисляет снимок прав доступа записи rec на момент now.
// isAdmin — сравнение действующего пользователя с настроенным
// идентификатором администратора, оно выполняется вызывающей стороной.
func (e *Evaluator) Evaluate(rec models.UserRecord, now time.Time, isAdmin bool) Snapshot {
	snap := Snapshot{Now: now}

	if rec.TrialStartedAt != nil {
		end := rec.TrialStartedAt.Add(e.durations.Trial)
		snap.TrialEndsAt = &end
		snap.TrialActive = now.Before(end)
	}
	if rec.FreePeriodStartedAt != nil {
		end := rec.FreePeriodStartedAt.Add(e.durations.FreePeriod)
		snap.FreePeriodEndsAt = &end
		snap.FreePeriodActive = now.Before(end)
	}
	if rec.SubscriptionEndAt != nil {
		end := *rec.SubscriptionEndAt
		snap.SubscriptionEndsAt = &end
		snap.SubscriptionActive = now.Before(end)
	}

	snap.Entitled = isAdmin || snap.TrialActive || snap.FreePeriodActive || snap.SubscriptionActive

	switch {
	case isAdmin:
		snap.Classification = ClassAdmin
	case snap.SubscriptionActive:
		snap.Classification = models.StatusPremium
	case snap.FreePeriodActive:
		snap.Classification = models.StatusFreeActive
	case snap.TrialActive:
		snap.Classification = models.StatusFree
	case rec.TrialStartedAt != nil:
		snap.Classification = models.StatusExpired
	default:
		snap.Classification = models.StatusNew
	}

	return snap
}

// Status возвращает значение кешированной метки статуса для записи rec.
// Метка пересчитывается при каждой записи; отмена продления сохраняет
// собственную метку, пока подписка ещё действует.
func (e *Evaluator) Status(rec models.UserRecord, now time.Time) string {
	if rec.Canceled && rec.SubscriptionEndAt != nil && now.Before(*rec.SubscriptionEndAt) {
		return models.StatusCanceled
	}
	return e.Evaluate(rec, now, false).Classification
}
