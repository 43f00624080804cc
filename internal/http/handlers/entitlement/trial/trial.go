// Package trial реализует HTTP-обработчик активации пробного периода.
//
// Активация идемпотентна: повторный запрос возвращает уже известное
// состояние периода и не переводит часы заново.
package trial

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

// Handler управляет HTTP-запросами на активацию пробного периода.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики активации пробного периода.
type Service interface {
	ActivateTrial(ctx context.Context, userID int64) (entitlement.ActivationResult, error)
}

// Request — тело запроса активации.
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
// @Summary Активировать пробный период
// @Description Активирует пробный период пользователя. Повторная активация возвращает текущее состояние и не сбрасывает срок.
// @Tags Entitlement
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Состояние пробного периода"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /entitlement/trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.trial"
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

	res, err := h.service.ActivateTrial(r.Context(), req.UserID)
	if err != nil {
		log.Error("failed to activate trial", sl.UserID(req.UserID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not activate trial"))
		return
	}

	log.Info("trial activation handled", sl.UserID(req.UserID), slog.Bool("newly_granted", res.NewlyGranted))
	render.JSON(w, r, response.OKWithData(res))
}
