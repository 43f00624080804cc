// Package cancel реализует HTTP-обработчик отмены продления подписки.
//
// Отмена не отзывает оплаченное время: дата окончания подписки остаётся
// прежней, меняется только намерение продлевать.
package cancel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/premium-access/internal/http/response"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/services/entitlement"
)

// Handler управляет HTTP-запросами на отмену продления.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики отмены продления.
type Service interface {
	Cancel(ctx context.Context, userID int64) (entitlement.CancelResult, error)
}

// Request — тело запроса отмены.
type Request struct {
	UserID int64 `json:"user_id" validate:"required"`
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
// @Summary Отменить продление подписки
// @Description Отменяет намерение продлевать подписку. Оплаченное время сохраняется до даты окончания.
// @Tags Entitlement
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Дата окончания оплаченного периода"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /entitlement/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.cancel"
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

	res, err := h.service.Cancel(r.Context(), req.UserID)
	if err != nil {
		log.Error("failed to cancel renewal", sl.UserID(req.UserID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not cancel renewal"))
		return
	}

	log.Info("renewal canceled", sl.UserID(req.UserID))
	render.JSON(w, r, response.OKWithData(res))
}
