// Package check реализует HTTP-обработчик проверки доступа пользователя
// к действию.
//
// Handler принимает JSON-запрос с идентификатором пользователя и действием,
// валидирует их и вызывает бизнес-логику проверки доступа. Решение
// (разрешено/запрещено вместе с причиной) возвращается в JSON-формате.
// При недоступности хранилища доступ не выдаётся.
package check

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
	"github.com/magabrotheeeer/premium-access/internal/services/access"
)

// Handler управляет HTTP-запросами на проверку доступа.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис бизнес-логики проверки доступа
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики проверки доступа.
type Service interface {
	Check(ctx context.Context, userID int64, action string, isAdmin bool) (access.Decision, error)
}

// Request — тело запроса на проверку доступа.
type Request struct {
	UserID  int64  `json:"user_id" validate:"required"`
	Action  string `json:"action" validate:"required"`
	IsAdmin bool   `json:"is_admin"`
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
// @Summary Проверить доступ пользователя к действию
// @Description Возвращает решение о доступе: разрешено или запрещено, с причиной. Пользователю без использованного пробного периода пробный период выдается автоматически.
// @Tags Access
// @Accept  json
// @Produce  json
// @Param request body Request true "Пользователь и действие"
// @Success 200 {object} response.Response "Решение о доступе"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Хранилище недоступно, доступ не выдан"
// @Router /access/check [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.check"
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

	decision, err := h.service.Check(r.Context(), req.UserID, req.Action, req.IsAdmin)
	if err != nil {
		log.Error("failed to check access", sl.UserID(req.UserID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not check access"))
		return
	}

	log.Info("access checked",
		sl.UserID(req.UserID),
		slog.String("outcome", string(decision.Outcome)),
		slog.String("reason", decision.Reason))
	render.JSON(w, r, response.OKWithData(decision))
}
