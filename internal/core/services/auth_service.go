package services

import (
	"context"
	"errors"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

type AuthService interface {
	ports.Authenticator
	GenerateToken(userID domain.UserID, username string, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	CheckBroadcastPermission(ctx context.Context, userID domain.UserID, streamID domain.StreamID) error
}

type Claims struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	streams   ports.StreamStore // Optional, can be nil
}

func NewAuthService(jwtSecret string, streams ports.StreamStore) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		streams:   streams,
	}
}

func (s *authService) GenerateToken(userID domain.UserID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.UserID == "" {
			claims.UserID = domain.UserID(claims.Subject)
		}
		if claims.UserID == "" {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Authenticate resolves a bearer token to the user it was issued for.
func (s *authService) Authenticate(tokenString string) (domain.UserID, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// CheckBroadcastPermission allows only the stream's registered broadcaster to
// publish. Without a stream store every authenticated user may broadcast.
func (s *authService) CheckBroadcastPermission(ctx context.Context, userID domain.UserID, streamID domain.StreamID) error {
	if s.streams == nil {
		return nil
	}

	stream, err := s.streams.Get(ctx, streamID)
	if err != nil {
		if errors.Is(err, domain.ErrStreamNotFound) {
			return nil
		}
		return err
	}

	if stream.BroadcasterID == "" || stream.BroadcasterID == userID {
		return nil
	}
	return ErrUnauthorized
}
