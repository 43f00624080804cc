// Package paymentwebhook реализует HTTP-обработчик уведомлений платёжного
// провайдера о смене статуса платежа.
//
// Подпись уведомления проверяется по HMAC-SHA256; уведомления без валидной
// подписи отклоняются. Сверка идемпотентна, поэтому повторная доставка
// того же события безопасна.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/paymentprovider"
	"github.com/magabrotheeeer/premium-access/internal/services/entitlement"
)

// Service описывает интерфейс сверки платежа.
type Service interface {
	ReconcilePayment(ctx context.Context, userID int64, externalRef string, succeeded bool, duration time.Duration, amountMinor int64) (entitlement.GrantResult, error)
}

// Handler управляет HTTP-запросами вебхука провайдера.
type Handler struct {
	log              *slog.Logger
	service          Service
	webhookSecret    string // Секрет для проверки подписи
	subscriptionTerm time.Duration
	amountMinor      int64
}

// New создает новый Handler.
func New(log *slog.Logger, service Service, secret string, subscriptionTerm time.Duration, amountMinor int64) *Handler {
	return &Handler{
		log:              log,
		service:          service,
		webhookSecret:    secret,
		subscriptionTerm: subscriptionTerm,
		amountMinor:      amountMinor,
	}
}

// Проверка подписи webhook (X-Api-Signature)
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Принимает уведомление о смене статуса платежа, проверяет подпись и сверяет платеж. Повторная доставка события — no-op.
// @Tags Payments
// @Accept  json
// @Success 200 "Уведомление обработано"
// @Failure 400 "Некорректное тело уведомления"
// @Failure 401 "Отсутствует или неверна подпись"
// @Failure 500 "Ошибка сверки"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.paymentwebhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event paymentprovider.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	userID, err := strconv.ParseInt(event.Object.Metadata["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		log.Error("webhook payload has no valid user_id", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Event {
	case paymentprovider.EventPaymentSucceeded:
		grant, err := h.service.ReconcilePayment(r.Context(), userID, event.Object.ID, true, h.subscriptionTerm, h.amountMinor)
		if err != nil {
			log.Error("failed to reconcile payment", sl.UserID(userID), sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		log.Info("payment reconciled",
			sl.UserID(userID),
			slog.String("payment_id", event.Object.ID),
			slog.Bool("applied", grant.Applied))
	case paymentprovider.EventPaymentCanceled:
		if _, err := h.service.ReconcilePayment(r.Context(), userID, event.Object.ID, false, 0, 0); err != nil {
			log.Error("failed to discard canceled payment", sl.UserID(userID), sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		log.Info("canceled payment discarded", sl.UserID(userID), slog.String("payment_id", event.Object.ID))
	default:
		log.Info("ignored webhook event", slog.String("event", event.Event))
	}

	w.WriteHeader(http.StatusOK)
}
