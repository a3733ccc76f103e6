package util

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JobClaims authorize the execution callback of one profile import.
type JobClaims struct {
	ProfileImportID uuid.UUID `json:"profile_import_id"`
	jwt.RegisteredClaims
}

// ServiceClaims identify a caller of the profile API.
type ServiceClaims struct {
	Organizations []string `json:"organizations,omitempty"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the caller may act on the organisation. Tokens
// without an organisation list are unrestricted.
func (c *ServiceClaims) CanAccess(organizationID string) bool {
	if len(c.Organizations) == 0 {
		return true
	}
	for _, org := range c.Organizations {
		if org == organizationID {
			return true
		}
	}
	return false
}

type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), ttl: ttl}
}

func (m *JWTManager) GenerateJobToken(profileImportID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := JobClaims{
		ProfileImportID: profileImportID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   profileImportID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := m.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) ParseJobToken(tokenString string) (*JobClaims, error) {
	claims := &JobClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.ProfileImportID == uuid.Nil {
		return nil, errors.New("job token missing import id")
	}
	return claims, nil
}

func (m *JWTManager) GenerateServiceToken(subject string, organizations []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := ServiceClaims{
		Organizations: organizations,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := m.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) ParseServiceToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *JWTManager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *JWTManager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
