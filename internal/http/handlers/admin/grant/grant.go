// Package grant реализует админский HTTP-обработчик ручной выдачи или
// продления подписки.
//
// Выдача идемпотентна по внешнему идентификатору: повторный запрос с тем же
// external_reference сообщает уже известный результат и не продлевает
// подписку ещё раз.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/premium-access/internal/http/response"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/services/entitlement"
)

// Handler управляет HTTP-запросами на ручную выдачу подписки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики выдачи подписки.
type Service interface {
	GrantOrRenewSubscription(ctx context.Context, userID int64, duration time.Duration, amountMinor int64, externalRef string) (entitlement.GrantResult, error)
}

// Request — тело запроса на выдачу подписки.
type Request struct {
	UserID            int64  `json:"user_id" validate:"required"`
	Days              int    `json:"days" validate:"required,gt=0"`
	AmountMinor       int64  `json:"amount_minor"`
	ExternalReference string `json:"external_reference" validate:"required"`
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Выдать или продлить подписку вручную
// @Description Выдает подписку на указанное число дней. Продление добавляется к будущей дате окончания и никогда не укорачивает её. Повторный запрос с тем же external_reference — no-op.
// @Tags Admin
// @Security BearerAuth
// @Accept  json
// @Produce  json
// @Param request body Request true "Параметры выдачи"
// @Success 200 {object} response.Response "Результат выдачи"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/grant [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.grant"
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

	duration := time.Duration(req.Days) * 24 * time.Hour
	res, err := h.service.GrantOrRenewSubscription(r.Context(), req.UserID, duration, req.AmountMinor, req.ExternalReference)
	if err != nil {
		if errors.Is(err, entitlement.ErrInvalidDuration) || errors.Is(err, entitlement.ErrEmptyReference) {
			log.Error("invalid grant parameters", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		log.Error("failed to grant subscription", sl.UserID(req.UserID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not grant subscription"))
		return
	}

	log.Info("subscription granted",
		sl.UserID(req.UserID),
		slog.Bool("applied", res.Applied),
		slog.Time("end_at", res.EndAt))
	render.JSON(w, r, response.OKWithData(res))
}
