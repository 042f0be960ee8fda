package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// TokenType distinguishes participant vs proctor tokens.
type TokenType string

const (
	TokenTypeParticipant TokenType = "participant"
	TokenTypeProctor     TokenType = "proctor"
)

// Proctor permission codes.
const (
	PermissionMonitor = "proctor:monitor"
	PermissionReview  = "proctor:review"
)

// Claims extends JWT standard claims with the certification identity.
// Tokens are issued by the certification backend with a shared secret.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	TenantID    string    `json:"tenant_id"`
	EmployeeID  string    `json:"employee_id,omitempty"` // Participant only
	Permissions []string  `json:"permissions,omitempty"` // Proctor only
}

// AuthService validates and, for tooling, issues JWTs.
type AuthService struct {
	secret []byte
	expiry time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{secret: []byte(cfg.JWTSecret), expiry: cfg.JWTExpiry}
}

// GenerateParticipantToken signs a participant token.
func (s *AuthService) GenerateParticipantToken(tenantID, employeeID string) (string, error) {
	if tenantID == "" || employeeID == "" {
		return "", errors.New("tenant and employee are required")
	}
	return s.sign(Claims{
		TokenType:  TokenTypeParticipant,
		TenantID:   tenantID,
		EmployeeID: employeeID,
	}, employeeID)
}

// GenerateProctorToken signs a proctor token carrying permissions.
func (s *AuthService) GenerateProctorToken(tenantID, subject string, permissions []string) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenant is required")
	}
	return s.sign(Claims{
		TokenType:   TokenTypeProctor,
		TenantID:    tenantID,
		Permissions: permissions,
	}, subject)
}

func (s *AuthService) sign(claims Claims, subject string) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TenantID == "" {
		return nil, errors.New("token carries no tenant")
	}
	if claims.TokenType == TokenTypeParticipant && claims.EmployeeID == "" {
		return nil, errors.New("participant token carries no employee")
	}

	return claims, nil
}

// HasPermission reports whether the claims grant code.
func (c *Claims) HasPermission(code string) bool {
	for _, p := range c.Permissions {
		if p == code {
			return true
		}
	}
	return false
}
