// Package access реализует шлюз доступа — точку, через которую проходит
// каждое входящее действие пользователя. Решение детерминированное, за один
// синхронный проход: администратор и разрешённые команды пропускаются сразу,
// далее право вычисляется по записи, и только если пробный период никогда
// не активировался, он выдаётся автоматически. Чтение, решение и возможная
// выдача выполняются в одной критической секции пользователя, поэтому два
// конкурентных первых обращения не могут выдать пробный период дважды.
package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/premium-access/internal/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/models"
)

// Outcome — исход проверки доступа.
type Outcome string

const (
	// OutcomeAllowed — действие разрешено.
	OutcomeAllowed Outcome = "allowed"
	// OutcomeDenied — действие запрещено.
	OutcomeDenied Outcome = "denied"
)

// Причины решений для вызывающей стороны. Текст сообщения пользователю —
// ответственность внешнего слоя представления.
const (
	ReasonAdmin         = "administrator"
	ReasonAllowedAction = "action allowed without entitlement"
	ReasonEntitled      = "entitlement active"
	ReasonTrialGranted  = "trial auto-granted"
	ReasonTrialExpired  = "trial used and no active entitlement"
)

// Store описывает критическую секцию хранилища, нужную шлюзу.
type Store interface {
	WithLock(ctx context.Context, userID int64, fn func(rec *models.UserRecord) error) (models.UserRecord, error)
}

// Decision — результат проверки одного действия.
type Decision struct {
	Outcome        Outcome `json:"outcome"`
	Reason         string  `json:"reason"`
	TrialGranted   bool    `json:"trial_granted,omitempty"`
	Classification string  `json:"classification,omitempty"`
}

// Service реализует шлюз доступа.
type Service struct {
	store          Store
	eval           *entitlement.Evaluator
	adminUserID    int64
	allowedActions map[string]struct{}
	log            *slog.Logger
}

// New создает шлюз доступа. allowedActions — команды, доступные без проверки
// прав (подписка, поддержка и подобные).
func New(store Store, eval *entitlement.Evaluator, adminUserID int64, allowedActions []string, log *slog.Logger) *Service {
	allowed := make(map[string]struct{}, len(allowedActions))
	for _, a := range allowedActions {
		allowed[a] = struct{}{}
	}
	return &Service{
		store:          store,
		eval:           eval,
		adminUserID:    adminUserID,
		allowedActions: allowed,
		log:            log,
	}
}

// Check проверяет, разрешено ли действие action пользователю userID.
// При сбое хранилища возвращается ошибка, и вызывающая сторона обязана
// отказать (fail closed), а не разрешить при неопределённости.
func (s *Service) Check(ctx context.Context, userID int64, action string, isAdmin bool) (Decision, error) {
	log := s.log.With(sl.UserID(userID), slog.String("action", action))

	if isAdmin || (s.adminUserID != 0 && userID == s.adminUserID) {
		log.Info("access granted to administrator")
		return Decision{Outcome: OutcomeAllowed, Reason: ReasonAdmin, Classification: entitlement.ClassAdmin}, nil
	}
	if _, ok := s.allowedActions[action]; ok {
		return Decision{Outcome: OutcomeAllowed, Reason: ReasonAllowedAction}, nil
	}

	var decision Decision
	_, err := s.store.WithLock(ctx, userID, func(rec *models.UserRecord) error {
		now := time.Now()
		snap := s.eval.Evaluate(*rec, now, false)
		if snap.Entitled {
			decision = Decision{
				Outcome:        OutcomeAllowed,
				Reason:         ReasonEntitled,
				Classification: snap.Classification,
			}
			return nil
		}
		if rec.TrialStartedAt == nil {
			// Первый закрытый контакт: автоматическая выдача пробного
			// периода, не более одного раза за жизнь записи
			rec.TrialStartedAt = &now
			rec.Status = s.eval.Status(*rec, now)
			decision = Decision{
				Outcome:        OutcomeAllowed,
				Reason:         ReasonTrialGranted,
				TrialGranted:   true,
				Classification: models.StatusFree,
			}
			return nil
		}
		decision = Decision{
			Outcome:        OutcomeDenied,
			Reason:         ReasonTrialExpired,
			Classification: snap.Classification,
		}
		return nil
	})
	if err != nil {
		log.Error("access check unavailable", sl.Err(err))
		return Decision{}, err
	}

	if decision.TrialGranted {
		log.Info("trial auto-granted on first gated contact")
	}
	if decision.Outcome == OutcomeDenied {
		log.Info("access denied", slog.String("reason", decision.Reason))
	}
	return decision, nil
}
