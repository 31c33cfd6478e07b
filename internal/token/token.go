// Package token issues and validates the short-lived access tokens that
// scope a caller to a single session.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/caremesh/telecare/internal/models"
)

// SessionClaims are the custom claims carried by a session access token.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID uuid.UUID              `json:"session_id"`
	UserID    uuid.UUID              `json:"user_id"`
	Role      models.ParticipantRole `json:"role"`
}

// Manager handles session token generation and validation.
type Manager struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewManager(secretKey string, issuer string, ttl time.Duration) *Manager {
	return &Manager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
	}
}

// Generate creates a signed token scoped to (sessionID, userID).
func (m *Manager) Generate(sessionID, userID uuid.UUID, role models.ParticipantRole) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID.String(),
		},
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Validate checks signature and expiry and returns the claims.
func (m *Manager) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse token")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
