// Package reconcile реализует сверку журнала пользователя с его кошельком.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/services/ledger"
)

// Service описывает сверку.
type Service interface {
	Reconcile(ctx context.Context, userID int64) (ledger.Report, error)
}

// Handler обрабатывает GET /admin/reconcile/{user_id}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Сверка журнала
// @Description Восстанавливает кошелёк по журналу и сравнивает с текущим. При расхождении возвращает 409 и оба состояния.
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param user_id path int true "Идентификатор пользователя"
// @Success 200 {object} ledger.Report
// @Failure 409 {object} ledger.Report "Журнал не сходится"
// @Router /admin/reconcile/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.reconcile"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid user id"))
		return
	}

	report, err := h.service.Reconcile(r.Context(), userID)
	if errors.Is(err, billing.ErrLedgerMismatch) {
		log.Error("ledger mismatch", sl.UserID(userID), sl.Err(err), sl.Alert())
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Response{Status: response.StatusError, Error: "ledger does not reconcile", Data: report})
		return
	}
	if err != nil {
		log.Error("failed to reconcile", sl.UserID(userID), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	render.JSON(w, r, response.StatusOKWithData(report))
}
