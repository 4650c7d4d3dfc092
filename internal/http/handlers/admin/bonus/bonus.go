// Package bonus реализует начисление бонусных монет оператором в админский пул.
package bonus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coin-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// Service описывает начисление бонуса.
type Service interface {
	Bonus(ctx context.Context, operatorID string, userID, amount int64, reason string) (models.Mutation, error)
}

// Handler обрабатывает POST /admin/bonus.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Бонусные монеты
// @Description Начисляет монеты в админский пул; они не сгорают при окончании подписки.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.BonusRequest true "Пользователь, количество и причина"
// @Success 200 {object} models.Mutation
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет токена оператора"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /admin/bonus [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.bonus"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	operatorID, ok := middlewarectx.OperatorFromContext(r.Context())
	if !ok {
		log.Error("operator missing in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("operator identification missing"))
		return
	}
	log = log.With(slog.String("operator_id", operatorID))

	var req models.BonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	res, err := h.service.Bonus(r.Context(), operatorID, req.UserID, req.Amount, req.Reason)
	if err != nil {
		log.Error("failed to grant bonus", sl.UserID(req.UserID), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("bonus granted", sl.UserID(req.UserID), slog.Int64("amount", req.Amount))
	render.JSON(w, r, response.StatusOKWithData(res))
}
