// Package models содержит доменные структуры сервиса премиум-доступа:
// запись пользователя с данными о правах доступа, журнал платежей
// и вспомогательные типы для приёма данных из JSON-запросов.
package models

import "time"

// Статусы записи пользователя. Статус — это кешированная метка для отображения,
// пересчитываемая при каждой мутации; правом доступа является только
// результат вычисления по временным меткам.
const (
	StatusNew        = "new"         // Пользователь ещё ничего не активировал
	StatusFree       = "free"        // Активен пробный период
	StatusFreeActive = "free_active" // Активен бесплатный период
	StatusPremium    = "premium"     // Активна оплаченная подписка
	StatusExpired    = "expired"     // Пробный период использован, ничего не активно
	StatusCanceled   = "canceled"    // Пользователь отменил продление
)

// Статусы незавершённых платежей.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// UserRecord представляет запись пользователя бота.
// Временные метки пробного и бесплатного периодов устанавливаются ровно один раз
// и никогда не сбрасываются; окончание подписки только продлевается, никогда
// не укорачивается при продлении.
type UserRecord struct {
	UserID              int64                     `json:"user_id"`
	TrialStartedAt      *time.Time                `json:"trial_started_at,omitempty"`
	FreePeriodStartedAt *time.Time                `json:"free_period_started_at,omitempty"`
	SubscriptionEndAt   *time.Time                `json:"subscription_end_at,omitempty"`
	Status              string                    `json:"status"`
	Canceled            bool                      `json:"canceled,omitempty"`
	PaymentHistory      []Payment                 `json:"payment_history,omitempty"`
	PendingPayments     map[string]PendingPayment `json:"pending_payments,omitempty"`
	NotificationFlags   NotificationFlags         `json:"notification_flags"`
	CreatedAt           time.Time                 `json:"created_at"`
}

// Payment — одна запись журнала платежей. Журнал только дополняется и
// используется для аудита и обнаружения повторной доставки подтверждения
// по ExternalReference, но никогда для решений о доступе.
type Payment struct {
	At                time.Time `json:"at"`
	AmountMinor       int64     `json:"amount_minor"`
	PeriodDays        int       `json:"period_days"`
	ExternalReference string    `json:"external_reference"`
}

// PendingPayment — состояние сверки платежа, созданного у провайдера,
// но ещё не подтверждённого.
type PendingPayment struct {
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationFlags защищают одноразовые напоминания от повторной отправки.
type NotificationFlags struct {
	FreePeriodEndingSent   bool `json:"free_period_ending_sent,omitempty"`
	SubscriptionEndingSent bool `json:"subscription_ending_sent,omitempty"`
}

// HasPayment сообщает, применялось ли уже подтверждение платежа
// с данным внешним идентификатором.
func (u *UserRecord) HasPayment(externalReference string) bool {
	for _, p := range u.PaymentHistory {
		if p.ExternalReference == externalReference {
			return true
		}
	}
	return false
}

// UserNotice — сообщение для очереди уведомлений, которое воркер-отправитель
// доставляет пользователю в Telegram.
type UserNotice struct {
	UserID int64     `json:"user_id"`
	Kind   string    `json:"kind"`
	EndsAt time.Time `json:"ends_at,omitempty"`
}

// Виды уведомлений, публикуемых планировщиком.
const (
	NoticeFreePeriodEnding   = "freeperiod_ending"
	NoticeSubscriptionEnding = "subscription_ending"
	NoticeUpsell             = "upsell"
)
