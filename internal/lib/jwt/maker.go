// Package jwt выпускает и проверяет JWT токены биллинга.
//
// Токен подписывается HS256 общим секретом и несёт идентификатор владельца
// и роль. Оператор получает токен при входе в админку, сервисный клиент
// (бот) получает долгоживущий токен от оператора. Токен одной роли не
// принимается там, где ждут другую.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultServiceTokenTTL — время жизни сервисного токена по умолчанию.
const DefaultServiceTokenTTL = 30 * 24 * time.Hour

// ErrEmptySecret — секрет подписи не задан; такие токены не выпускаются и не принимаются.
var ErrEmptySecret = errors.New("jwt secret key is empty")

// Maker описывает выпуск и разбор токенов.
type Maker interface {
	GenerateToken(operatorID string) (string, error)
	ParseToken(tokenStr string) (*OperatorClaims, error)
	GenerateServiceToken(clientID string) (string, error)
	ParseServiceToken(tokenStr string) (*ServiceClaims, error)
}

// MakerImpl реализует Maker с секретным ключом и временем жизни токенов.
type MakerImpl struct {
	secretKey  string
	tokenTTL   time.Duration
	serviceTTL time.Duration
	now        func() time.Time
}

// NewJWTMaker создаёт MakerImpl на основе секретного ключа и TTL токена оператора.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey:  secretKey,
		tokenTTL:   ttl,
		serviceTTL: DefaultServiceTokenTTL,
		now:        time.Now,
	}
}

// WithServiceTTL задаёт время жизни сервисных токенов.
func (j *MakerImpl) WithServiceTTL(ttl time.Duration) *MakerImpl {
	if ttl > 0 {
		j.serviceTTL = ttl
	}
	return j
}

func (j *MakerImpl) sign(claims jwt.Claims) (string, error) {
	if j.secretKey == "" {
		return "", ErrEmptySecret
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.secretKey))
}

func (j *MakerImpl) parse(tokenStr string, claims jwt.Claims) (*jwt.Token, error) {
	if j.secretKey == "" {
		return nil, ErrEmptySecret
	}
	return jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
}
