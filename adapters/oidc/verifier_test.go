package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://sso.example.com"
	testClientID = "bidwatch"
)

type idTokenClaims struct {
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func TestVerifier_VerifyIDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	verifier := NewStaticVerifier(testIssuer, testClientID, key.Public())
	now := time.Now()

	sign := func(claims idTokenClaims, signer *rsa.PrivateKey) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(signer)
		require.NoError(t, err)
		return tok
	}
	claims := func(mod func(*idTokenClaims)) idTokenClaims {
		c := idTokenClaims{
			Name:  "Alice Chen",
			Email: "alice@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testIssuer,
				Subject:   "sso-alice",
				Audience:  jwt.ClaimStrings{testClientID},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
		if mod != nil {
			mod(&c)
		}
		return c
	}

	tests := []struct {
		name         string
		token        string
		wantErr      bool
		wantUsername string
	}{
		{name: "valid token", token: sign(claims(nil), key), wantUsername: "Alice Chen"},
		{name: "preferred username wins", token: sign(claims(func(c *idTokenClaims) { c.PreferredUsername = "alice" }), key), wantUsername: "alice"},
		{name: "falls back to email", token: sign(claims(func(c *idTokenClaims) { c.Name = "" }), key), wantUsername: "alice@example.com"},
		{name: "wrong key", token: sign(claims(nil), otherKey), wantErr: true},
		{name: "wrong audience", token: sign(claims(func(c *idTokenClaims) { c.Audience = jwt.ClaimStrings{"other"} }), key), wantErr: true},
		{name: "wrong issuer", token: sign(claims(func(c *idTokenClaims) { c.Issuer = "https://evil.example.com" }), key), wantErr: true},
		{name: "expired", token: sign(claims(func(c *idTokenClaims) { c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour)) }), key), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := verifier.VerifyIDToken(context.Background(), tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIDToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "sso-alice", identity.Subject)
			assert.Equal(t, testIssuer, identity.Issuer)
			assert.Equal(t, tt.wantUsername, identity.Username())
		})
	}
}
