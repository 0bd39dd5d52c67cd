package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bidwatch/adapters/session"
	"bidwatch/auction"
)

func (impl *ServerImpl) sessionOptions() []session.MiddlewareOption {
	opts := []session.MiddlewareOption{
		session.WithCookieSecure(impl.config.Session.CookieSecure),
	}
	if impl.config.Session.KeyForCookie != "" {
		opts = append(opts, session.WithKeyForCookie(impl.config.Session.KeyForCookie))
	}
	if impl.config.Session.CookieMaxAge > 0 {
		opts = append(opts, session.WithCookieMaxAge(impl.config.Session.CookieMaxAge))
	}
	return opts
}

func (impl *ServerImpl) SessionMiddleware() gin.HandlerFunc {
	return session.GinMiddleware(impl.store, impl.sessionOptions()...)
}

// currentViewer 讀取 session 以及登入的使用者，未登入時 user 為 nil
func (impl *ServerImpl) currentViewer(c *gin.Context) (session.ISession, *auction.User, error) {
	s, err := session.GetSession(c, impl.sessionOptions()...)
	if err != nil {
		return nil, nil, err
	}
	return s, impl.identity.ReadUser(s), nil
}

// postSessionRequest 需要 token (HS256) 或 idToken (SSO) 其中之一
type postSessionRequest struct {
	Token   string `json:"token"`
	IDToken string `json:"idToken"`
}

type sessionResponse struct {
	User       *auction.User `json:"user"`
	Username   string        `json:"username,omitempty"`
	SignedInAt *time.Time    `json:"signedInAt,omitempty"`
}

// Sign in with a viewer token
// (POST /session)
func (impl *ServerImpl) PostSession(c *gin.Context) {
	const op = "PostSession"

	var request postSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil || (request.Token == "" && request.IDToken == "") {
		abort(c, http.StatusBadRequest, "token is required")
		return
	}

	var userID, username string
	if request.IDToken != "" {
		if impl.sso == nil {
			abort(c, http.StatusBadRequest, "sso sign-in is not enabled")
			return
		}
		identity, err := impl.sso.VerifyIDToken(c, request.IDToken)
		if err != nil {
			impl.logger.Info("Reject id token", slog.String("op", op), slog.Any("error", err))
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, username = identity.Subject, identity.Username()
	} else {
		claims, err := ParseViewerToken(request.Token, impl.config.Auth)
		if err != nil {
			impl.logger.Info("Reject viewer token", slog.String("op", op), slog.Any("error", err))
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, username = claims.Subject, claims.Username
	}

	s, _, err := impl.currentViewer(c)
	if err != nil {
		impl.internalError(c, op, err)
		return
	}
	if err := impl.repo.UpsertUser(c, userID, username); err != nil {
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to upsert user, err=%w", op, err))
		return
	}
	user := auction.User{ID: userID}
	if err := impl.identity.WriteUser(s, user); err != nil {
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to write user into session, err=%w", op, err))
		return
	}

	signedInAt := impl.identity.SignedInAt(s)
	c.JSON(http.StatusOK, sessionResponse{
		User:       &user,
		Username:   username,
		SignedInAt: &signedInAt,
	})
}

// Current viewer
// (GET /session)
func (impl *ServerImpl) GetSession(c *gin.Context) {
	const op = "GetSession"

	s, user, err := impl.currentViewer(c)
	if err != nil {
		impl.internalError(c, op, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusOK, sessionResponse{})
		return
	}
	signedInAt := impl.identity.SignedInAt(s)
	c.JSON(http.StatusOK, sessionResponse{User: user, SignedInAt: &signedInAt})
}

// Sign out
// (DELETE /session)
func (impl *ServerImpl) DeleteSession(c *gin.Context) {
	const op = "DeleteSession"

	s, _, err := impl.currentViewer(c)
	if err != nil {
		impl.internalError(c, op, err)
		return
	}
	if err := impl.identity.ClearUser(s); err != nil {
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to clear session, err=%w", op, err))
		return
	}
	c.Status(http.StatusNoContent)
}

// requireViewer 返回登入的使用者，未登入時回應 401
func (impl *ServerImpl) requireViewer(c *gin.Context, op string) (*auction.User, bool) {
	_, user, err := impl.currentViewer(c)
	if err != nil {
		impl.internalError(c, op, err)
		return nil, false
	}
	if user == nil {
		abort(c, http.StatusUnauthorized, ErrUnauthenticated.Error())
		return nil, false
	}
	return user, true
}

// publisherClaims 驗證 Authorization header 中發布者的 token，觀看者的 token 會被拒絕
func (impl *ServerImpl) publisherClaims(c *gin.Context) (*ViewerClaims, error) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, ErrUnauthenticated
	}
	return ParsePublisherToken(token, impl.config.Auth)
}
