package middlewarectx

import (
	"github.com/magabrotheeeer/coin-billing/internal/lib/jwt"
)

// TokenParser проверяет токен оператора.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.OperatorClaims, error)
}

// ServiceTokenParser проверяет токен сервисного клиента.
type ServiceTokenParser interface {
	ParseServiceToken(tokenStr string) (*jwt.ServiceClaims, error)
}
