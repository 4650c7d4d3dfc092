package jwt

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// RoleService — роль сервисного клиента, которому разрешены списания и чтение кошельков.
const RoleService = "service"

// ErrNotService — токен валиден, но выдан не сервисному клиенту.
var ErrNotService = errors.New("token is not a service token")

// ServiceClaims — данные сервисного токена.
type ServiceClaims struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateServiceToken выпускает токен для сервисного клиента clientID.
func (j *MakerImpl) GenerateServiceToken(clientID string) (string, error) {
	const op = "jwt.GenerateServiceToken"
	if clientID == "" {
		return "", fmt.Errorf("%s: empty client id", op)
	}
	now := j.now()
	signed, err := j.sign(ServiceClaims{
		ClientID: clientID,
		Role:     RoleService,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.serviceTTL)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// ParseServiceToken проверяет сервисный токен. Токен оператора здесь не принимается.
func (j *MakerImpl) ParseServiceToken(tokenStr string) (*ServiceClaims, error) {
	const op = "jwt.ParseServiceToken"
	token, err := j.parse(tokenStr, &ServiceClaims{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.Role != RoleService || claims.ClientID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotService)
	}
	return claims, nil
}
