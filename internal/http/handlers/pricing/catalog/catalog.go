// Package catalog реализует HTTP-обработчик прайса для интерфейса бота:
// тарифы с отметкой рекомендуемого, пакеты пополнения, дополнения и стоимость функций.
package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/pricing"
)

// Source отдаёт текущий прайс.
type Source interface {
	Catalog() pricing.Catalog
}

// Handler обрабатывает GET /prices.
type Handler struct {
	log    *slog.Logger
	source Source
}

// New создаёт Handler.
func New(log *slog.Logger, source Source) *Handler {
	return &Handler{log: log, source: source}
}

// ServeHTTP godoc
// @Summary Прайс
// @Tags Pricing
// @Produce  json
// @Success 200 {object} pricing.Catalog
// @Router /prices [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := h.source.Catalog()
	h.log.Debug("price catalog served", slog.String("version", c.Version))
	render.JSON(w, r, response.StatusOKWithData(c))
}
