// Package paymentcheck реализует HTTP-обработчик ручной сверки платежей
// пользователя.
//
// Handler запрашивает у провайдера состояние всех незавершённых платежей
// пользователя и сверяет завершённые. Сверка идемпотентна: уже учтённый
// платеж повторно не применяется.
package paymentcheck

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/premium-access/internal/http/response"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/models"
	"github.com/magabrotheeeer/premium-access/internal/paymentprovider"
	"github.com/magabrotheeeer/premium-access/internal/services/entitlement"
)

// Handler управляет HTTP-запросами на сверку платежей.
type Handler struct {
	log              *slog.Logger
	service          Service
	provider         Provider
	subscriptionTerm time.Duration // Длительность периода, выдаваемого за один платеж
	amountMinor      int64
}

// Service описывает интерфейс бизнес-логики сверки платежей.
type Service interface {
	PendingPayments(ctx context.Context, userID int64) (map[string]models.PendingPayment, error)
	ReconcilePayment(ctx context.Context, userID int64, externalRef string, succeeded bool, duration time.Duration, amountMinor int64) (entitlement.GrantResult, error)
}

// Provider описывает интерфейс платёжного провайдера.
type Provider interface {
	GetPayment(ctx context.Context, paymentID string) (*paymentprovider.Payment, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service, provider Provider, subscriptionTerm time.Duration, amountMinor int64) *Handler {
	return &Handler{
		log:              log,
		service:          service,
		provider:         provider,
		subscriptionTerm: subscriptionTerm,
		amountMinor:      amountMinor,
	}
}

// Result — итог сверки одного платежа.
type Result struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Applied   bool   `json:"applied"`
}

// ServeHTTP godoc
// @Summary Сверить платежи пользователя
// @Description Запрашивает у провайдера состояние незавершённых платежей и применяет завершённые. Повторная сверка уже учтённого платежа ничего не меняет.
// @Tags Payments
// @Produce  json
// @Param user_id path int true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Итоги сверки"
// @Failure 400 {object} response.ErrorResponse "Некорректный идентификатор"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /payments/check/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.paymentcheck"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		log.Error("invalid user_id", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid user_id"))
		return
	}

	pending, err := h.service.PendingPayments(r.Context(), userID)
	if err != nil {
		log.Error("failed to list pending payments", sl.UserID(userID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list pending payments"))
		return
	}

	results := make([]Result, 0, len(pending))
	for ref := range pending {
		payment, err := h.provider.GetPayment(r.Context(), ref)
		if err != nil {
			log.Error("failed to query payment", slog.String("payment_id", ref), sl.Err(err))
			results = append(results, Result{PaymentID: ref, Status: "unknown"})
			continue
		}

		switch payment.Status {
		case paymentprovider.StatusSucceeded:
			grant, err := h.service.ReconcilePayment(r.Context(), userID, ref, true, h.subscriptionTerm, h.amountMinor)
			if err != nil {
				log.Error("failed to reconcile payment", slog.String("payment_id", ref), sl.Err(err))
				w.WriteHeader(http.StatusInternalServerError)
				render.JSON(w, r, response.Error("could not reconcile payment"))
				return
			}
			results = append(results, Result{PaymentID: ref, Status: payment.Status, Applied: grant.Applied})
		case paymentprovider.StatusCanceled:
			if _, err := h.service.ReconcilePayment(r.Context(), userID, ref, false, 0, 0); err != nil {
				log.Error("failed to discard canceled payment", slog.String("payment_id", ref), sl.Err(err))
				w.WriteHeader(http.StatusInternalServerError)
				render.JSON(w, r, response.Error("could not reconcile payment"))
				return
			}
			results = append(results, Result{PaymentID: ref, Status: payment.Status})
		default:
			results = append(results, Result{PaymentID: ref, Status: payment.Status})
		}
	}

	log.Info("payments checked", sl.UserID(userID), slog.Int("count", len(results)))
	render.JSON(w, r, response.OKWithData(results))
}
