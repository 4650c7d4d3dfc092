// Package charge реализует HTTP-обработчик списания монет за использование функции бота.
//
// Тело запроса — models.ChargeRequest. При нехватке средств возвращается 402
// с размером нехватки, кошелёк при этом не меняется.
package charge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// Service описывает списание за функцию.
type Service interface {
	Charge(ctx context.Context, userID int64, feature string, quality models.Quality) (models.ChargeResult, error)
}

// Limiter ограничивает частоту списаний одного пользователя.
type Limiter interface {
	Allow(key string) bool
}

// Handler обрабатывает запросы на списание.
type Handler struct {
	log      *slog.Logger
	service  Service
	limiter  Limiter
	validate *validator.Validate
}

// New создаёт Handler. limiter может быть nil, тогда частота не ограничивается.
func New(log *slog.Logger, service Service, limiter Limiter) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		limiter:  limiter,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Списание за функцию
// @Description Списывает стоимость функции с кошелька пользователя: сначала подписочные монеты, затем админские.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.ChargeRequest true "Функция и качество"
// @Success 200 {object} models.ChargeResult
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет сервисного токена"
// @Failure 402 {object} response.InsufficientFundsResponse "Недостаточно монет"
// @Failure 404 {object} response.ErrorResponse "Функции нет в прайсе"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Слишком много запросов"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /charges [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.charge"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid request body"))
			return
		}
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(verrs))
		return
	}
	log = log.With(sl.UserID(req.UserID))

	if h.limiter != nil && !h.limiter.Allow(strconv.FormatInt(req.UserID, 10)) {
		log.Warn("charge rate limit exceeded")
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, response.Error("too many requests"))
		return
	}

	res, err := h.service.Charge(r.Context(), req.UserID, req.Feature, req.Quality)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInsufficientFunds):
			log.Info("charge declined", sl.Err(err))
		case billing.IsConfigError(err):
			log.Error("charge for feature missing from price table", sl.Err(err))
		default:
			log.Error("failed to charge", sl.Err(err))
		}
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("charged", slog.String("feature", req.Feature), slog.Int64("cost", res.Cost))
	render.JSON(w, r, response.StatusOKWithData(res))
}
