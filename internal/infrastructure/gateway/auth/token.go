package auth

import (
	"errors"
	"time"

	"guardlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims binds a parent identity to the child devices it may view.
// Tokens are minted at pairing time and carried by every gateway call.
type Claims struct {
	RequesterID string   `json:"requester_id"`
	Devices     []string `json:"devices"`
	jwt.RegisteredClaims
}

// AllowsDevice reports whether the token grants access to deviceID. An
// empty device list means the pairing covers all of the account's devices.
func (c *Claims) AllowsDevice(deviceID domain.DeviceID) bool {
	if len(c.Devices) == 0 {
		return true
	}
	for _, d := range c.Devices {
		if d == string(deviceID) {
			return true
		}
	}
	return false
}

type TokenService interface {
	GenerateToken(requesterID string, devices []string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) TokenService {
	return &tokenService{secret: []byte(secret), ttl: ttl}
}

func (s *tokenService) GenerateToken(requesterID string, devices []string) (string, error) {
	claims := &Claims{
		RequesterID: requesterID,
		Devices:     devices,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
