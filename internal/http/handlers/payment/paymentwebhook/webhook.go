// Package paymentwebhook принимает уведомления платёжного провайдера о платежах
// и передаёт их в обработку начислений.
//
// Тело уведомления подписывается HMAC-SHA256 общим секретом, подпись в base64
// передаётся в заголовке X-Api-Signature. Пользователь и SKU берутся из metadata платежа.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// SignatureHeader — заголовок с подписью тела уведомления.
const SignatureHeader = "X-Api-Signature"

// События провайдера, которые приводят к записи платежа.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

const maxBodySize = 1 << 20

// Service описывает обработку подтверждения платежа.
type Service interface {
	ApplyPayment(ctx context.Context, ev models.PaymentEvent) (models.CreditResult, error)
}

// Handler обрабатывает POST /payments/webhook.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
	validate      *validator.Validate
}

// New создаёт Handler с секретом для проверки подписи.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
		validate:      validator.New(),
	}
}

// Payload — уведомление провайдера.
type Payload struct {
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// Sign возвращает подпись тела так, как её считает провайдер.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(h.webhookSecret, body)), []byte(signature))
}

// ServeHTTP godoc
// @Summary Уведомление о платеже
// @Description Принимает подтверждение или отмену платежа. Повторная доставка того же платежа ничего не меняет.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param X-Api-Signature header string true "HMAC-SHA256 тела в base64"
// @Success 200 {object} models.CreditResult
// @Failure 400 {object} response.ErrorResponse "Некорректное уведомление"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 503 {object} response.ErrorResponse "Повторите позже"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		log.Warn("invalid or missing webhook signature")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	var outcome models.Outcome
	switch strings.ToLower(payload.Event) {
	case EventPaymentSucceeded:
		outcome = models.OutcomeSucceeded
	case EventPaymentCanceled:
		outcome = models.OutcomeCanceled
	default:
		log.Info("ignored webhook event", slog.String("event", payload.Event))
		render.JSON(w, r, response.StatusOKWithData(map[string]string{"event": "ignored"}))
		return
	}

	ev, err := h.toEvent(payload, outcome)
	if err != nil {
		log.Error("malformed payment notification", sl.Err(err), sl.PaymentID(payload.Object.ID))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("malformed payment notification"))
		return
	}
	log = log.With(sl.PaymentID(ev.PaymentID), sl.UserID(ev.UserID))

	res, err := h.service.ApplyPayment(r.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrUnknownSKU):
		// платёж уже отмечен обработанным, повтор доставки ничего не даст
		log.Error("payment for unknown sku acknowledged", sl.Err(err), sl.Alert())
		render.JSON(w, r, response.StatusOKWithData(map[string]string{"status": "unknown_sku"}))
		return
	default:
		log.Error("failed to apply payment", sl.Err(err))
		status, body := response.FromError(err)
		if errors.Is(err, billing.ErrStorage) {
			status = http.StatusServiceUnavailable
		}
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	log.Info("webhook processed", slog.String("event", payload.Event), slog.String("status", string(res.Status)))
	render.JSON(w, r, response.StatusOKWithData(res))
}

func (h *Handler) toEvent(p Payload, outcome models.Outcome) (models.PaymentEvent, error) {
	userID, err := strconv.ParseInt(p.Object.Metadata["user_id"], 10, 64)
	if err != nil {
		return models.PaymentEvent{}, errors.New("metadata.user_id is not a number")
	}
	ev := models.PaymentEvent{
		PaymentID: p.Object.ID,
		UserID:    userID,
		SKU:       p.Object.Metadata["sku"],
		Outcome:   outcome,
	}
	if err := h.validate.Struct(ev); err != nil {
		return models.PaymentEvent{}, err
	}
	return ev, nil
}
