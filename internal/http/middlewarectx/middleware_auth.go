// Package middlewarectx содержит HTTP middleware биллинга.
//
// JWTMiddleware пропускает к административным обработчикам только запросы
// с действующим токеном оператора и кладёт идентификатор оператора в контекст.
// ServiceMiddleware так же закрывает ручки бота сервисным токеном.
// RateLimitMiddleware ограничивает частоту запросов по ключу.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/coin-billing/internal/http/response"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// Ключи контекста.
const (
	Operator Key = "operator_id"
	Client   Key = "client_id"
)

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT в заголовке Authorization.
//
// Если токен валиден, добавляет идентификатор оператора в контекст запроса,
// иначе возвращает 401 Unauthorized.
func JWTMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token, ok := bearer(r)
			if !ok {
				log.Warn("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			claims, err := parser.ParseToken(token)
			if err != nil {
				log.Warn("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), Operator, claims.OperatorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext возвращает идентификатор оператора, положенный JWTMiddleware.
func OperatorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(Operator).(string)
	return id, ok && id != ""
}

// ServiceMiddleware пропускает только запросы с действующим сервисным токеном
// и кладёт идентификатор клиента в контекст. Токен оператора не подходит.
func ServiceMiddleware(parser ServiceTokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.ServiceMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token, ok := bearer(r)
			if !ok {
				log.Warn("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			claims, err := parser.ParseServiceToken(token)
			if err != nil {
				log.Warn("invalid or expired service token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), Client, claims.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext возвращает идентификатор сервисного клиента, положенный ServiceMiddleware.
func ClientFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(Client).(string)
	return id, ok && id != ""
}

func bearer(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}
