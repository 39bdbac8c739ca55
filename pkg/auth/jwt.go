package auth

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/alarm-service/pkg/errors"
)

// Claims identifies the device a token was issued to.
type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

type JWTService interface {
	GenerateDeviceToken(deviceID string) (string, error)
	ValidateToken(token string) (*Claims, error)
	TTL() time.Duration
}

type jwtService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTService(secret, issuer string, ttl time.Duration) JWTService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &jwtService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *jwtService) TTL() time.Duration {
	return s.ttl
}

func (s *jwtService) GenerateDeviceToken(deviceID string) (string, error) {
	if deviceID == "" {
		return "", errors.BadRequest("device_id is required", nil)
	}
	now := s.now()
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Internal(fmt.Errorf("sign token: %w", err))
	}
	return token, nil
}

func (s *jwtService) ValidateToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Unauthorized(fmt.Errorf("token expired"))
		}
		return nil, errors.Unauthorized(err)
	}
	if !parsed.Valid || claims.DeviceID == "" {
		return nil, errors.Unauthorized(fmt.Errorf("invalid token"))
	}
	return claims, nil
}
