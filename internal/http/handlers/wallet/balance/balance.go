// Package balance реализует HTTP-обработчик получения кошелька пользователя.
package balance

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// Service описывает чтение кошелька.
type Service interface {
	Get(ctx context.Context, userID int64) (models.Wallet, error)
}

// Handler обрабатывает GET /wallets/{user_id}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Кошелёк пользователя
// @Description Возвращает оба пула монет, суммарный баланс и состояние подписки. Пустой кошелёк создаётся при первом обращении.
// @Tags Wallet
// @Produce  json
// @Security BearerAuth
// @Param user_id path int true "Идентификатор пользователя"
// @Success 200 {object} map[string]any
// @Failure 400 {object} response.ErrorResponse "Некорректный идентификатор"
// @Failure 401 {object} response.ErrorResponse "Нет сервисного токена"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /wallets/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.wallet.balance"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		log.Warn("invalid user id in url", slog.String("user_id", chi.URLParam(r, "user_id")))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid user id"))
		return
	}

	wallet, err := h.service.Get(r.Context(), userID)
	if err != nil {
		log.Error("failed to get wallet", sl.UserID(userID), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"wallet": wallet,
		"total":  wallet.Total(),
	}))
}
