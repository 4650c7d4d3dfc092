// Package history реализует HTTP-обработчик постраничной истории операций пользователя.
//
// Параметры запроса: since (RFC3339, по умолчанию с начала), limit (1..500, по умолчанию 100)
// и cursor из предыдущего ответа. next_cursor возвращается, пока страница заполнена целиком.
package history

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
	"github.com/magabrotheeeer/coin-billing/internal/storage"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Service описывает постраничное чтение журнала.
type Service interface {
	Page(ctx context.Context, userID int64, since time.Time, after *storage.Cursor, limit int) ([]models.LedgerEntry, error)
}

// Handler обрабатывает GET /wallets/{user_id}/history.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// Page — страница истории.
type Page struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ServeHTTP godoc
// @Summary История операций
// @Description Записи журнала пользователя в порядке изменений кошелька (seq), постранично.
// @Tags Wallet
// @Produce  json
// @Security BearerAuth
// @Param user_id path int true "Идентификатор пользователя"
// @Param since query string false "Нижняя граница времени, RFC3339"
// @Param limit query int false "Размер страницы (1..500)"
// @Param cursor query string false "Курсор следующей страницы"
// @Success 200 {object} Page
// @Failure 400 {object} response.ErrorResponse "Некорректные параметры"
// @Failure 401 {object} response.ErrorResponse "Нет сервисного токена"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /wallets/{user_id}/history [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.wallet.history"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		badRequest(w, r, log, "invalid user id")
		return
	}

	q := r.URL.Query()
	var since time.Time
	if s := q.Get("since"); s != "" {
		since, err = time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(w, r, log, "since must be RFC3339")
			return
		}
	}

	limit := defaultLimit
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 || limit > maxLimit {
			badRequest(w, r, log, "limit must be between 1 and 500")
			return
		}
	}

	var after *storage.Cursor
	if s := q.Get("cursor"); s != "" {
		after, err = DecodeCursor(s)
		if err != nil {
			badRequest(w, r, log, "invalid cursor")
			return
		}
	}

	entries, err := h.service.Page(r.Context(), userID, since, after, limit)
	if err != nil {
		log.Error("failed to read history", sl.UserID(userID), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	page := Page{Entries: entries}
	if page.Entries == nil {
		page.Entries = []models.LedgerEntry{}
	}
	if len(entries) == limit {
		page.NextCursor = EncodeCursor(storage.Cursor{Seq: entries[len(entries)-1].Seq})
	}
	render.JSON(w, r, response.StatusOKWithData(page))
}

func badRequest(w http.ResponseWriter, r *http.Request, log *slog.Logger, msg string) {
	log.Warn("bad history request", slog.String("reason", msg))
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, response.Error(msg))
}
