// Package adjust реализует ручную установку суммарного баланса пользователя оператором.
package adjust

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

// Service описывает ручную корректировку баланса.
type Service interface {
	Adjust(ctx context.Context, operatorID string, userID, newBalance int64) (models.Mutation, error)
}

// Handler обрабатывает POST /admin/adjust.
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
// @Summary Корректировка баланса
// @Description Устанавливает суммарный баланс пользователя. Изменение фиксируется в журнале с идентификатором оператора.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.AdjustRequest true "Пользователь и новый баланс"
// @Success 200 {object} models.Mutation
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет токена оператора"
// @Failure 403 {object} response.ErrorResponse "Не оператор"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /admin/adjust [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.adjust"

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

	var req models.AdjustRequest
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

	res, err := h.service.Adjust(r.Context(), operatorID, req.UserID, req.NewBalance)
	if err != nil {
		log.Error("failed to adjust balance", sl.UserID(req.UserID), sl.Err(err))
		status, body := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("balance adjusted", sl.UserID(req.UserID),
		slog.Int64("before", res.Before.Total()), slog.Int64("after", res.After.Total()))
	render.JSON(w, r, response.StatusOKWithData(res))
}
