package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidwatch/adapters/oidc"
)

func TestSessionHandlers(t *testing.T) {
	s := setupServer(t)

	t.Run("anonymous viewer", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/session", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user":null}`, w.Body.String())
		assert.NotEmpty(t, w.Result().Cookies())
	})

	t.Run("invalid requests", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"token":"bad"}`)))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// 發布者的 token 不能當作觀看者登入
		body := fmt.Sprintf(`{"token":%q}`, publisherToken(t))
		w = s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("sign in and out", func(t *testing.T) {
		cookie := s.signIn(t, "user-1")

		w := s.do(httptest.NewRequest(http.MethodGet, "/session", nil), cookie)
		require.Equal(t, http.StatusOK, w.Code)
		var body sessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotNil(t, body.User)
		assert.Equal(t, "user-1", body.User.ID)
		assert.NotNil(t, body.SignedInAt)

		w = s.do(httptest.NewRequest(http.MethodDelete, "/session", nil), cookie)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = s.do(httptest.NewRequest(http.MethodGet, "/session", nil), cookie)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user":null}`, w.Body.String())
	})

	t.Run("sign in issues a new session id", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/session", nil))
		before, ok := lo.Find(w.Result().Cookies(), func(c *http.Cookie) bool { return c.Name == "bidwatch_session" })
		require.True(t, ok)

		body := fmt.Sprintf(`{"token":%q}`, token(t, "user-1", "alice"))
		w = s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body)), before)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		cookies := lo.Filter(w.Result().Cookies(), func(c *http.Cookie, _ int) bool { return c.Name == "bidwatch_session" })
		require.Len(t, cookies, 1)
		after := cookies[0]
		assert.NotEqual(t, before.Value, after.Value)

		// 登入前的 session ID 不會變成已登入
		w = s.do(httptest.NewRequest(http.MethodGet, "/session", nil), before)
		assert.JSONEq(t, `{"user":null}`, w.Body.String())
		w = s.do(httptest.NewRequest(http.MethodGet, "/session", nil), after)
		assert.Contains(t, w.Body.String(), `"id":"user-1"`)
	})
}

func TestPostSession_IDToken(t *testing.T) {
	const issuer, clientID = "https://sso.example.com", "bidwatch"
	s := setupServer(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                issuer,
		"sub":                "sso-alice",
		"aud":                clientID,
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
		"preferred_username": "alice",
	}).SignedString(key)
	require.NoError(t, err)
	body := fmt.Sprintf(`{"idToken":%q}`, idToken)

	w := s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.impl.sso = oidc.NewStaticVerifier(issuer, clientID, key.Public())
	w = s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.NotNil(t, response.User)
	assert.Equal(t, "sso-alice", response.User.ID)
	assert.Equal(t, "alice", response.Username)

	w = s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"idToken":"forged"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
