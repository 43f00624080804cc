package paymentprovider

import "time"

// Статусы платежа провайдера.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// Amount представляет денежную сумму.
type Amount struct {
	Value    string `json:"value"`    // сумма, например "299.00"
	Currency string `json:"currency"` // валюта, например "RUB"
}

// Confirmation описывает способ подтверждения платежа пользователем.
type Confirmation struct {
	Type      string `json:"type"`                 // "redirect"
	ReturnURL string `json:"return_url,omitempty"` // куда вернуть после оплаты
	URL       string `json:"confirmation_url,omitempty"`
}

// CreatePaymentRequest представляет запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"` // user_id
}

// Payment представляет платёж в ответах провайдера.
type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// WebhookEvent представляет уведомление провайдера о смене статуса платежа.
type WebhookEvent struct {
	Type   string  `json:"type"`  // "notification"
	Event  string  `json:"event"` // например "payment.succeeded"
	Object Payment `json:"object"`
}

// События вебхука.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)
