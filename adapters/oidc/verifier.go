package oidc

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

var ErrInvalidIDToken = errors.New("invalid id token")

// Verifier 驗證由 SSO 提供者簽發的 ID token
type Verifier struct {
	idTokenVerifier *oidc.IDTokenVerifier
}

// NewVerifier 透過 discovery 取得提供者的公鑰，issuerURL 必須可以連線
func NewVerifier(ctx context.Context, issuerURL, clientID string) (*Verifier, error) {
	const op = "NewVerifier"
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create provider, err=%w", op, err)
	}
	return &Verifier{
		idTokenVerifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewStaticVerifier 使用固定的公鑰驗證，適合沒有 discovery 端點的環境
func NewStaticVerifier(issuerURL, clientID string, keys ...crypto.PublicKey) *Verifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &Verifier{
		idTokenVerifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
	}
}

// VerifyIDToken 驗證 ID 令牌的有效性並取出使用者資料
func (v *Verifier) VerifyIDToken(ctx context.Context, rawIDToken string) (Identity, error) {
	const op = "VerifyIDToken"
	idToken, err := v.idTokenVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("[%s] %w: %w", op, ErrInvalidIDToken, err)
	}

	identity := Identity{Subject: idToken.Subject, Issuer: idToken.Issuer}
	if err := idToken.Claims(&identity.Profile); err != nil {
		return Identity{}, fmt.Errorf("[%s] Fail to parse profile claims, err=%w", op, err)
	}
	if err := idToken.Claims(&identity.Email); err != nil {
		return Identity{}, fmt.Errorf("[%s] Fail to parse email claims, err=%w", op, err)
	}
	return identity, nil
}
