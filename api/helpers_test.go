package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bidwatch/adapters/sse"
	"bidwatch/auction"
	"bidwatch/metrics"
	"bidwatch/models"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var testAuth = AuthConfig{Secret: "test-secret", Issuer: "bidwatch-test"}

// base 之後一天拍賣才結束
var base = time.Now().UTC().Truncate(time.Second)

// memoryStore 是存在記憶體中的 session 儲存層
type memoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]map[string]string)}
}

func (s *memoryStore) Load(_ context.Context, name string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data[name]), nil
}

func (s *memoryStore) Save(_ context.Context, name string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = maps.Clone(data)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, name)
	return nil
}

type testServer struct {
	impl   *ServerImpl
	repo   *models.Repository
	router *gin.Engine
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 共用快取的記憶體資料庫在多個連線同時寫入時會被鎖住
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := models.NewRepository(db)
	require.NoError(t, repo.AutoMigrate())

	bus, err := sse.NewConnectionManager[auction.ProductItem](sse.WithLogger[auction.ProductItem](discardLogger))
	require.NoError(t, err)

	impl := newServer(ServerConfig{
		ID:             "node-1",
		SnapshotSource: SnapshotSourceLocal,
		Auth:           testAuth,
		Session:        SessionConfig{CookieSecure: false},
	}, dependencies{
		repo:    repo,
		bus:     bus,
		store:   newMemoryStore(),
		metrics: metrics.New(),
	}, discardLogger)
	require.NoError(t, impl.Start())
	t.Cleanup(impl.Close)

	router := gin.New()
	impl.RegisterHandlers(router)
	return &testServer{impl: impl, repo: repo, router: router}
}

func (s *testServer) seed(t *testing.T, items ...auction.ProductItem) {
	t.Helper()
	for _, item := range items {
		_, err := s.repo.SaveSnapshot(context.Background(), item)
		require.NoError(t, err)
	}
}

func (s *testServer) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, userID, username string) string {
	t.Helper()
	tok, err := SignViewerToken(userID, username, time.Hour, testAuth)
	require.NoError(t, err)
	return tok
}

// publisherToken 簽發發布快照用的 token
func publisherToken(t *testing.T) string {
	t.Helper()
	tok, err := SignPublisherToken("bidding-service", time.Hour, testAuth)
	require.NoError(t, err)
	return tok
}

// signIn 登入並返回 session cookie
func (s *testServer) signIn(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	body := fmt.Sprintf(`{"token":%q}`, token(t, userID, "user "+userID))
	w := s.do(httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cookie, ok := lo.Find(w.Result().Cookies(), func(c *http.Cookie) bool { return c.Name == "bidwatch_session" })
	require.True(t, ok)
	return cookie
}

func activeItem(id string, bid *auction.Bid, updatedAt time.Time) auction.ProductItem {
	return auction.ProductItem{
		ID:        id,
		Title:     "Item " + id,
		Status:    auction.ItemStatusActive,
		ExpiresAt: base.Add(24 * time.Hour),
		UpdatedAt: lo.ToPtr(updatedAt),
		Bid:       bid,
	}
}

func newJarClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}
