package token

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleType set member role
type RoleType string

const (
	// RoleMember is the member role
	RoleMember RoleType = "member"
	// RoleGuest is the guest role
	RoleGuest RoleType = "guest"
)

// ErrInvalidToken token parsed but carries no member
var ErrInvalidToken = errors.New("invalid token")

// Claims access token of a chat client. The raw token is forwarded with push
// requests, so it is issued by the member service and only verified here.
type Claims struct {
	MemberID string `json:"user_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var (
	// JWTSecret HMAC key shared with the issuing service, JWT_SECRET in .env
	JWTSecret       = []byte(envOr("JWT_SECRET", "secure_secret_key"))
	tokenExpiration = 60 * time.Minute
	clockSkew       = 30 * time.Second
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GenerateJWT signs an HS256 token for memberID
func GenerateJWT(memberID, role, issuer string) (string, error) {
	now := time.Now()
	claims := Claims{
		MemberID: memberID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(JWTSecret)
}

// ParseJWT verifies signature and expiry, only HS256 is accepted
func ParseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (interface{}, error) { return JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, err
	}
	if claims.MemberID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
