// Package login реализует вход оператора: проверку пароля по bcrypt-хешу
// из конфигурации и выдачу JWT для административных ручек.
package login

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/password"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// Operators отдаёт хеш пароля оператора.
type Operators interface {
	OperatorHash(id string) (string, bool)
}

// TokenMaker выпускает токен оператора.
type TokenMaker interface {
	GenerateToken(operatorID string) (string, error)
}

// Handler обрабатывает POST /admin/login.
type Handler struct {
	log       *slog.Logger
	operators Operators
	tokens    TokenMaker
	validate  *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, operators Operators, tokens TokenMaker) *Handler {
	return &Handler{
		log:       log,
		operators: operators,
		tokens:    tokens,
		validate:  validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход оператора
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param request body models.LoginRequest true "Учётные данные оператора"
// @Success 200 {object} map[string]any "Токен оператора"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Неверные учётные данные"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /admin/login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.login"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.LoginRequest
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
	log = log.With(slog.String("operator_id", req.OperatorID))

	hash, ok := h.operators.OperatorHash(req.OperatorID)
	if !ok {
		log.Warn("login attempt for unknown operator")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid credentials"))
		return
	}
	if err := password.CompareHash(hash, req.Password); err != nil {
		if !errors.Is(err, password.ErrMismatch) {
			log.Error("operator password hash is broken", sl.Err(err))
		} else {
			log.Warn("wrong operator password")
		}
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid credentials"))
		return
	}

	token, err := h.tokens.GenerateToken(req.OperatorID)
	if err != nil {
		log.Error("failed to generate token", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("operator logged in")
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"token":       token,
		"operator_id": req.OperatorID,
	}))
}
