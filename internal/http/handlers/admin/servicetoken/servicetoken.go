// Package servicetoken выпускает сервисные токены: с ними бот списывает монеты
// и читает кошельки пользователей.
package servicetoken

import (
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

// Issuer выпускает сервисный токен.
type Issuer interface {
	GenerateServiceToken(clientID string) (string, error)
}

// Handler обрабатывает POST /admin/service-tokens.
type Handler struct {
	log      *slog.Logger
	issuer   Issuer
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, issuer Issuer) *Handler {
	return &Handler{log: log, issuer: issuer, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Сервисный токен
// @Description Выпускает токен для бота; без него списания и чтение кошельков закрыты.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.ServiceTokenRequest true "Идентификатор клиента"
// @Success 200 {object} map[string]any "Сервисный токен"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет токена оператора"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /admin/service-tokens [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.servicetoken"

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

	var req models.ServiceTokenRequest
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

	token, err := h.issuer.GenerateServiceToken(req.ClientID)
	if err != nil {
		log.Error("failed to generate service token", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("service token issued", slog.String("client_id", req.ClientID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"token":     token,
		"client_id": req.ClientID,
	}))
}
