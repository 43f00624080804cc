// Package paymentcreate реализует HTTP-обработчик создания платежа за подписку.
//
// Handler создает платеж у платёжного провайдера, регистрирует его как
// незавершённый для последующей сверки и возвращает ссылку подтверждения
// оплаты. Подписка выдаётся не здесь, а при сверке завершённого платежа.
package paymentcreate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/premium-access/internal/http/response"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/paymentprovider"
)

// Handler управляет HTTP-запросами на создание платежа.
type Handler struct {
	log         *slog.Logger
	service     Service
	provider    Provider
	amountMinor int64  // Цена подписки в минорных единицах
	returnURL   string // Куда провайдер вернет пользователя после оплаты
	validate    *validator.Validate
}

// Service описывает интерфейс регистрации незавершённого платежа.
type Service interface {
	RegisterPendingPayment(ctx context.Context, userID int64, externalRef string) error
}

// Provider описывает интерфейс платёжного провайдера.
type Provider interface {
	CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest) (*paymentprovider.Payment, error)
}

// Request — тело запроса на создание платежа.
type Request struct {
	UserID int64 `json:"user_id" validate:"required"`
}

// New создает новый Handler.
func New(log *slog.Logger, service Service, provider Provider, amountMinor int64, returnURL string) *Handler {
	return &Handler{
		log:         log,
		service:     service,
		provider:    provider,
		amountMinor: amountMinor,
		returnURL:   returnURL,
		validate:    validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Создать платеж за подписку
// @Description Создает платеж у провайдера и возвращает ссылку подтверждения оплаты. Подписка выдается после успешной сверки платежа.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Идентификатор платежа и ссылка подтверждения"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Ошибка платёжного провайдера"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /payments [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.paymentcreate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	payment, err := h.provider.CreatePayment(r.Context(), paymentprovider.CreatePaymentRequest{
		Amount: paymentprovider.Amount{
			Value:    paymentprovider.FormatAmountMinor(h.amountMinor),
			Currency: "RUB",
		},
		Capture: true,
		Confirmation: paymentprovider.Confirmation{
			Type:      "redirect",
			ReturnURL: h.returnURL,
		},
		Description: "Премиум-подписка",
		Metadata: map[string]string{
			"user_id": strconv.FormatInt(req.UserID, 10),
		},
	})
	if err != nil {
		log.Error("failed to create payment", sl.UserID(req.UserID), sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("could not create payment"))
		return
	}

	if err := h.service.RegisterPendingPayment(r.Context(), req.UserID, payment.ID); err != nil {
		log.Error("failed to register pending payment", sl.UserID(req.UserID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not register payment"))
		return
	}

	log.Info("payment created", sl.UserID(req.UserID), slog.String("payment_id", payment.ID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"payment_id":       payment.ID,
		"confirmation_url": payment.Confirmation.URL,
	}))
}
