// Package status реализует HTTP-обработчик получения статуса прав пользователя.
//
// Статус — отображаемый снимок, пересчитанный из первичных временных меток.
// Он кешируется на короткое время и не используется для принятия решения
// о доступе.
package status

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/premium-access/internal/http/response"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/services/entitlement"
)

// Handler управляет HTTP-запросами на получение статуса.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики получения статуса.
type Service interface {
	GetStatus(ctx context.Context, userID int64, isAdmin bool) (entitlement.StatusInfo, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить статус прав пользователя
// @Description Возвращает снимок прав: активные периоды, классификацию и даты окончания.
// @Tags Entitlement
// @Produce  json
// @Param user_id path int true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Снимок прав"
// @Failure 400 {object} response.ErrorResponse "Некорректный идентификатор"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /entitlement/status/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.status"
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

	info, err := h.service.GetStatus(r.Context(), userID, false)
	if err != nil {
		log.Error("failed to get status", sl.UserID(userID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get status"))
		return
	}

	log.Info("status fetched", sl.UserID(userID), slog.String("status", info.Status))
	render.JSON(w, r, response.OKWithData(info))
}
