package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	tok, err := GenerateJWT("runner-1", string(RoleMember), "chat_service")
	require.NoError(t, err)

	claims, err := ParseJWT(tok)
	require.NoError(t, err)
	assert.Equal(t, "runner-1", claims.MemberID)
	assert.Equal(t, string(RoleMember), claims.Role)
	assert.Equal(t, "chat_service", claims.Issuer)
}

func TestParseJWT_Rejects(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		MemberID: "runner-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	expiredStr, err := expired.SignedString(JWTSecret)
	require.NoError(t, err)

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		MemberID: "runner-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("someone-else"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{MemberID: "runner-1"}).SignedString(JWTSecret)
	require.NoError(t, err)

	noMember, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(JWTSecret)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   expiredStr,
		"other key": otherKey,
		"no expiry": noExpiry,
		"garbage":   "not.a.jwt",
	} {
		_, err := ParseJWT(tok)
		assert.Error(t, err, name)
	}

	_, err = ParseJWT(noMember)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
