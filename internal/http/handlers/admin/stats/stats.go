// Package stats реализует админский HTTP-обработчик сводной статистики
// по классификациям пользователей.
package stats

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/premium-access/internal/http/response"
	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
)

// Handler управляет HTTP-запросами на получение статистики.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики статистики.
type Service interface {
	Stats(ctx context.Context) (map[string]int, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить сводную статистику пользователей
// @Description Возвращает количество пользователей по каждой классификации прав.
// @Tags Admin
// @Security BearerAuth
// @Produce  json
// @Success 200 {object} response.Response "Счётчики по классификациям"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/stats [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.stats"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Error("failed to collect stats", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not collect stats"))
		return
	}

	log.Info("stats collected", slog.Int("classes", len(stats)))
	render.JSON(w, r, response.OKWithData(stats))
}
