package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the signed claim set: subject, the numeric role level at
// issuance time, and a standard expiry. Role level is not rechecked against
// storage on each request, so rotating privilege requires reissuance.
type Claims struct {
	Sub string `json:"sub"`
	RoleLevel int `json:"role_level"`
	jwt.RegisteredClaims
}

// ClampRoleLevel clamps a level to the valid [1,5] role range.
func ClampRoleLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}

// IsAdmin reports whether a clamped role level has admin capabilities
// (level >= 3).
func IsAdmin(level int) bool { return ClampRoleLevel(level) >= 3 }

// IsSuperAdmin reports the level-5 bootstrap admin.
func IsSuperAdmin(level int) bool { return ClampRoleLevel(level) == 5 }

// TokenManager issues and verifies the HMAC-signed claim set.
type TokenManager struct {
	secret []byte
	ttl time.Duration
}

// NewTokenManager builds a TokenManager from the configured jwt_secret and
// token_ttl_secs.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth: jwt secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for the given subject and role level.
func (m *TokenManager) Issue(subject string, roleLevel int) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub: subject,
		RoleLevel: ClampRoleLevel(roleLevel),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, enforcing expiry and signature, and
// clamps the decoded role level back into [1,5].
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	claims.RoleLevel = ClampRoleLevel(claims.RoleLevel)
	return claims, nil
}

// ExtractToken checks, in order: a caller-supplied override (used for HLS's
// token-in-path scheme), the ?token= query parameter, then the
// Authorization: Bearer header.
func ExtractToken(r *http.Request, override string) string {
	if override != "" {
		return override
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
