package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(store IStore, handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(GinMiddleware(store, WithCookieSecure(false)))
	r.GET("/", handler)
	return r
}

func TestGinMiddleware(t *testing.T) {
	existing := uuid.NewString()

	tests := []struct {
		name      string
		cookie    string
		wantReuse bool
	}{
		{name: "new visitor gets a session id"},
		{name: "valid cookie is reused", cookie: existing, wantReuse: true},
		{name: "malformed cookie is replaced", cookie: "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := NewMockIStore(ctrl)
			store.EXPECT().Load(gomock.Any(), gomock.Any()).Return(map[string]string{"userId": "user-1"}, nil)

			var seen string
			r := newRouter(store, func(c *gin.Context) {
				s, err := GetSession(c)
				require.NoError(t, err)
				seen = s.ID()
				c.String(http.StatusOK, s.Get("userId"))
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: DefaultKeyForCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "user-1", w.Body.String())
			assert.NoError(t, uuid.Validate(seen))
			if tt.wantReuse {
				assert.Equal(t, existing, seen)
			} else {
				assert.NotEqual(t, tt.cookie, seen)
			}

			cookies := w.Result().Cookies()
			require.Len(t, cookies, 1)
			assert.Equal(t, DefaultKeyForCookie, cookies[0].Name)
			assert.Equal(t, seen, cookies[0].Value)
			assert.True(t, cookies[0].HttpOnly)
			assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
		})
	}
}

func TestGinMiddleware_Regenerate(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockIStore(ctrl)
	existing := uuid.NewString()

	store.EXPECT().Load(gomock.Any(), existing).Return(map[string]string{"theme": "dark"}, nil)
	store.EXPECT().Delete(gomock.Any(), existing).Return(nil)
	store.EXPECT().Save(gomock.Any(), gomock.Not(existing), map[string]string{"theme": "dark"}).Return(nil)

	var renewed string
	r := newRouter(store, func(c *gin.Context) {
		s, err := GetSession(c)
		require.NoError(t, err)
		require.NoError(t, s.Regenerate())
		require.NoError(t, s.Save())
		renewed = s.ID()
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultKeyForCookie, Value: existing})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.NotEqual(t, existing, renewed)
	assert.NoError(t, uuid.Validate(renewed))
	// 回應中只剩下新的 session cookie
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, renewed, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestGetSession_WithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, err := GetSession(c)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
