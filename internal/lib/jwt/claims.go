package jwt

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// RoleOperator — роль, которую получает вошедший оператор.
const RoleOperator = "operator"

// ErrNotOperator — токен валиден, но выдан не оператору.
var ErrNotOperator = errors.New("token is not an operator token")

// OperatorClaims — данные, которые хранятся в токене оператора.
type OperatorClaims struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken выпускает токен для оператора operatorID.
func (j *MakerImpl) GenerateToken(operatorID string) (string, error) {
	const op = "jwt.GenerateToken"
	if operatorID == "" {
		return "", fmt.Errorf("%s: empty operator id", op)
	}
	now := j.now()
	signed, err := j.sign(OperatorClaims{
		OperatorID: operatorID,
		Role:       RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия токена и возвращает его claims.
// Токены с другим алгоритмом подписи или без роли оператора отклоняются.
func (j *MakerImpl) ParseToken(tokenStr string) (*OperatorClaims, error) {
	const op = "jwt.ParseToken"
	token, err := j.parse(tokenStr, &OperatorClaims{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.Role != RoleOperator || claims.OperatorID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotOperator)
	}
	return claims, nil
}
