package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultKeyForContext = "bidwatch-session"
	DefaultKeyForCookie  = "bidwatch_session"
)

var ErrSessionNotFound = errors.New("session not found")

// MiddlewareOptions 包含 session middleware 的設定選項
type MiddlewareOptions struct {
	keyForCookie   string
	keyForContext  string
	cookieMaxAge   time.Duration
	cookiePath     string
	cookieDomain   string
	cookieSecure   bool
	cookieHTTPOnly bool
	cookieSameSite http.SameSite
}

type MiddlewareOption func(*MiddlewareOptions)

// WithKeyForCookie 設定 session ID 在 cookie 中的名稱
func WithKeyForCookie(key string) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.keyForCookie = key
	}
}

// WithKeyForContext 設定 session 在 context 中的 key
func WithKeyForContext(key string) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.keyForContext = key
	}
}

// WithCookieMaxAge 設定 cookie 的過期時間
func WithCookieMaxAge(maxAge time.Duration) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.cookieMaxAge = maxAge
	}
}

// WithCookiePath 設定 cookie 的路徑
func WithCookiePath(path string) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.cookiePath = path
	}
}

// WithCookieDomain 設定 cookie 的域名
func WithCookieDomain(domain string) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.cookieDomain = domain
	}
}

// WithCookieSecure 設定是否只在 HTTPS 連線中傳送 cookie
func WithCookieSecure(secure bool) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.cookieSecure = secure
	}
}

// WithCookieSameSite 設定 cookie 的 SameSite 屬性
func WithCookieSameSite(sameSite http.SameSite) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.cookieSameSite = sameSite
	}
}

func defaultMiddlewareOptions() MiddlewareOptions {
	return MiddlewareOptions{
		keyForCookie:   DefaultKeyForCookie,
		keyForContext:  DefaultKeyForContext,
		cookieMaxAge:   24 * time.Hour,
		cookiePath:     "/",
		cookieSecure:   true,
		cookieHTTPOnly: true,
		cookieSameSite: http.SameSiteLaxMode,
	}
}

// GinMiddleware 建立一個 gin 的 session middleware
// 沒有 cookie 的請求會拿到新的 session ID，cookie 在 handler 寫出回應前設定。
func GinMiddleware(store IStore, opts ...MiddlewareOption) gin.HandlerFunc {
	options := defaultMiddlewareOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return func(c *gin.Context) {
		sessionID, err := c.Cookie(options.keyForCookie)
		if err != nil || uuid.Validate(sessionID) != nil {
			sessionID = uuid.NewString()
		}

		session := &sessionImpl{
			id:    sessionID,
			ctx:   c.Request.Context(),
			store: store,
			onRegenerate: func(id string) {
				setCookie(c, options, id)
			},
		}
		c.Set(options.keyForContext, ISession(session))

		// SSE 與 websocket 的 handler 會在 c.Next() 返回前就開始寫回應，所以要先設定 cookie
		setCookie(c, options, sessionID)

		c.Next()
	}
}

// setCookie 寫入 session cookie，並移除同一個回應中先前寫入的同名 cookie
func setCookie(c *gin.Context, options MiddlewareOptions, sessionID string) {
	header := c.Writer.Header()
	prefix := options.keyForCookie + "="
	kept := lo.Filter(header.Values("Set-Cookie"), func(v string, _ int) bool {
		return !strings.HasPrefix(v, prefix)
	})
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}

	c.SetSameSite(options.cookieSameSite)
	c.SetCookie(
		options.keyForCookie,
		sessionID,
		int(options.cookieMaxAge/time.Second),
		options.cookiePath,
		options.cookieDomain,
		options.cookieSecure,
		options.cookieHTTPOnly,
	)
}

// GetSession 從 context 中取得 session 並載入資料
// ctx 通常是 *gin.Context。
func GetSession(ctx context.Context, opts ...MiddlewareOption) (ISession, error) {
	const op = "session.GetSession"
	options := defaultMiddlewareOptions()
	for _, opt := range opts {
		opt(&options)
	}

	v := ctx.Value(options.keyForContext)
	if v == nil {
		return nil, ErrSessionNotFound
	}
	session, ok := v.(ISession)
	if !ok {
		return nil, fmt.Errorf("%s: invalid session type in context", op)
	}
	if err := session.Load(); err != nil {
		return nil, fmt.Errorf("%s: failed to load session: %w", op, err)
	}

	return session, nil
}
