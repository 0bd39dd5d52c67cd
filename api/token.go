package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthenticated 表示請求沒有登入的使用者或登入憑證無效
var ErrUnauthenticated = errors.New("unauthenticated")

// token 的角色，觀看者的 token 不帶 role
const (
	RoleViewer    = ""
	RolePublisher = "publisher"
)

// ViewerClaims 是登入時使用的 JWT 內容，Subject 為使用者 ID
// 發布快照的服務使用同一個格式，Role 為 RolePublisher，Subject 為服務名稱
type ViewerClaims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseViewerToken 驗證觀看者登入用的 token，發布者的 token 不能用來登入
func ParseViewerToken(tokenString string, config AuthConfig) (*ViewerClaims, error) {
	return parseToken("ParseViewerToken", tokenString, RoleViewer, config)
}

// ParsePublisherToken 驗證發布商品快照的服務所使用的 token
func ParsePublisherToken(tokenString string, config AuthConfig) (*ViewerClaims, error) {
	return parseToken("ParsePublisherToken", tokenString, RolePublisher, config)
}

// parseToken 驗證 HS256 簽章、issuer/audience 以及 role，並返回 claims
func parseToken(op, tokenString, role string, config AuthConfig) (*ViewerClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &ViewerClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*ViewerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w: token claims are invalid", op, ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w: missing subject", op, ErrUnauthenticated)
	}
	if claims.Role != role {
		return nil, fmt.Errorf("%s: %w: unexpected role %q", op, ErrUnauthenticated, claims.Role)
	}
	return claims, nil
}

// SignViewerToken 簽發登入用的 JWT，主要給測試與本機工具使用
func SignViewerToken(userID, username string, ttl time.Duration, config AuthConfig) (string, error) {
	return signToken("SignViewerToken", userID, username, RoleViewer, ttl, config)
}

// SignPublisherToken 簽發發布商品快照用的 JWT
func SignPublisherToken(service string, ttl time.Duration, config AuthConfig) (string, error) {
	return signToken("SignPublisherToken", service, "", RolePublisher, ttl, config)
}

func signToken(op, subject, username, role string, ttl time.Duration, config AuthConfig) (string, error) {
	now := time.Now()
	claims := ViewerClaims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    config.Issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
		},
	}
	if config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{config.Audience}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.Secret))
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to sign JWT, err=%w", op, err)
	}
	return token, nil
}
