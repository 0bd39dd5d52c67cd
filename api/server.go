package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	natsAdapter "bidwatch/adapters/nats"
	"bidwatch/adapters/oidc"
	redisAdapter "bidwatch/adapters/redis"
	"bidwatch/adapters/session"
	"bidwatch/adapters/sse"
	"bidwatch/auction"
	"bidwatch/metrics"
	"bidwatch/models"
	"bidwatch/watch"
)

// itemRequest 是在節點之間轉送的商品快照
type itemRequest = sse.PublishRequest[auction.ProductItem]

// IDTokenVerifier 驗證 SSO 登入使用的 ID token
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawIDToken string) (oidc.Identity, error)
}

// Repository 是 handler 需要的資料存取操作
type Repository interface {
	SnapshotWriter
	FindItem(ctx context.Context, id string) (auction.ProductItem, error)
	FindItemsByIDs(ctx context.Context, ids []string) ([]auction.ProductItem, error)
	ListUserBids(ctx context.Context, userID string) ([]auction.Bid, error)
	ListItemBids(ctx context.Context, itemID, userID string) ([]auction.Bid, error)
	UpsertUser(ctx context.Context, id, username string) error
}

type ServerImpl struct {
	repo         Repository
	bus          sse.IConnectionManager[auction.ProductItem]
	store        session.IStore
	sso          IDTokenVerifier
	identity     *session.Identity
	metrics      *metrics.Metrics
	synchronizer *SnapshotSynchronizer
	watchers     *watchRegistry
	clock        func() time.Time
	starters     []func() error
	closers      []func()
	closeOnce    sync.Once
	logger       *slog.Logger

	config ServerConfig
}

type dependencies struct {
	repo         Repository
	bus          sse.IConnectionManager[auction.ProductItem]
	store        session.IStore
	sso          IDTokenVerifier
	metrics      *metrics.Metrics
	synchronizer *SnapshotSynchronizer
	starters     []func() error
	closers      []func()
}

func NewServer(config ServerConfig, logger *slog.Logger) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	db, err := openDatabase(config.DB)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	repo := models.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}

	// 初始化OIDC驗證器
	var sso IDTokenVerifier
	if config.Auth.OIDCIssuerURL != "" {
		verifier, err := oidc.NewVerifier(context.Background(), config.Auth.OIDCIssuerURL, config.Auth.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to initial OIDC verifier, err=%w", op, err)
		}
		sso = verifier
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	deps := dependencies{
		repo:    repo,
		sso:     sso,
		store:   redisAdapter.NewStore(redisClient, redisAdapter.WithStorePrefix(config.Redis.KeyPrefix+"session:"), redisAdapter.WithStoreTTL(config.Session.CookieMaxAge)),
		metrics: metrics.New(),
		closers: []func(){func() { redisClient.Close() }},
	}

	// 初始化商品快照的傳遞方式
	var managerOpts []sse.ConnectionManagerOption[auction.ProductItem]
	switch config.SnapshotSource {
	case SnapshotSourceRedis:
		producer, consumer, synchronizer, err := newRedisSnapshotSource(redisClient, repo, deps.metrics, config, logger)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create redis snapshot source, err=%w", op, err)
		}
		managerOpts = append(managerOpts,
			sse.WithSubscriber[auction.ProductItem](consumer),
			sse.WithPublisher[auction.ProductItem](producer),
		)
		deps.synchronizer = synchronizer
		deps.starters = append(deps.starters,
			func() error { consumer.Start(); return nil },
			func() error { producer.Start(); return nil },
		)
		deps.closers = append(deps.closers, producer.Close, consumer.Close)
	case SnapshotSourceNATS:
		nc, err := nats.Connect(config.NATS.URL, nats.Name("bidwatch-"+config.ID))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to nats, err=%w", op, err)
		}
		bus, err := natsAdapter.NewBus[auction.ProductItem](nc, config.NATS.SubjectPrefix, natsAdapter.WithLogger(logger))
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("[%s] Fail to create nats bus, err=%w", op, err)
		}
		managerOpts = append(managerOpts,
			sse.WithSubscriber[auction.ProductItem](bus),
			sse.WithPublisher[auction.ProductItem](bus),
		)
		deps.starters = append(deps.starters, bus.Start)
		deps.closers = append(deps.closers, nc.Close, bus.Close)
	case SnapshotSourceLocal, "":
	default:
		return nil, fmt.Errorf("[%s] Unknown snapshot source: %s", op, config.SnapshotSource)
	}

	// 初始化SSE管理器
	managerOpts = append(managerOpts, sse.WithLogger[auction.ProductItem](logger))
	bus, err := sse.NewConnectionManager[auction.ProductItem](managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
	}
	deps.bus = bus

	return newServer(config, deps, logger), nil
}

func newServer(config ServerConfig, deps dependencies, logger *slog.Logger) *ServerImpl {
	return &ServerImpl{
		repo:         deps.repo,
		bus:          deps.bus,
		store:        deps.store,
		sso:          deps.sso,
		identity:     session.NewIdentity(),
		metrics:      deps.metrics,
		synchronizer: deps.synchronizer,
		watchers:     newWatchRegistry(),
		clock:        time.Now,
		starters:     deps.starters,
		closers:      deps.closers,
		logger:       logger.With(slog.String("caller", "Server")),
		config:       config,
	}
}

func openDatabase(config DBConfig) (*gorm.DB, error) {
	if config.Driver == "sqlite" {
		return gorm.Open(sqlite.Open(config.SQLitePath), &gorm.Config{TranslateError: true})
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.User, config.Password, config.Host, config.Port, config.Database, config.Schema)
	namingStrategy := schema.NamingStrategy{}
	if config.Schema != "" {
		namingStrategy.TablePrefix = config.Schema + "."
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: namingStrategy,
	})
}

func newRedisSnapshotSource(
	client *redis.Client,
	writer SnapshotWriter,
	m *metrics.Metrics,
	config ServerConfig,
	logger *slog.Logger,
) (*redisAdapter.Producer[itemRequest], *redisAdapter.Consumer[itemRequest], *SnapshotSynchronizer, error) {
	stream := config.Redis.StreamKeys.Snapshot

	// stream 中只保存商品快照，頻道名稱就是商品 ID
	producer, err := redisAdapter.NewProducer[itemRequest](
		client,
		stream,
		redisAdapter.WithProducerLogger[itemRequest](logger),
		redisAdapter.WithProducerMaxLen[itemRequest](config.Redis.StreamMaxLen),
		redisAdapter.WithProducerEncodeFunc(func(req itemRequest) (map[string]any, error) {
			return redisAdapter.EncodeValues(req.Message)
		}),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fail to create producer, err=%w", err)
	}

	consumer, err := redisAdapter.NewConsumer[itemRequest](
		client,
		stream,
		redisAdapter.WithConsumerLogger[itemRequest](logger),
		redisAdapter.WithConsumerDecodeFunc(func(m map[string]any) (itemRequest, error) {
			item, err := redisAdapter.DecodeValues[auction.ProductItem](m)
			if err != nil {
				return itemRequest{}, fmt.Errorf("fail to parse message to sse.PublishRequest[auction.ProductItem], err=%w", err)
			}
			return itemRequest{Channel: item.ID, Message: item}, nil
		}),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fail to create consumer, err=%w", err)
	}

	// 初始化group consumer，同一個商品的快照必須依序寫入資料庫
	groupConsumer, err := redisAdapter.NewGroupConsumer[auction.ProductItem](
		client,
		stream,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger[auction.ProductItem](logger),
		redisAdapter.WithGroupConsumerStrictOrdering[auction.ProductItem](true),
		redisAdapter.WithGroupConsumerCreateGroup[auction.ProductItem](true),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fail to create group consumer, err=%w", err)
	}

	return producer, consumer, NewSnapshotSynchronizer(groupConsumer, writer, m, logger), nil
}

// Start 依序啟動所有背景元件，subscriber 必須在 connection manager 之前啟動
func (impl *ServerImpl) Start() error {
	const op = "Server.Start"
	for _, start := range impl.starters {
		if err := start(); err != nil {
			return fmt.Errorf("[%s] Fail to start component, err=%w", op, err)
		}
	}
	impl.bus.Start()
	if impl.synchronizer != nil {
		if err := impl.synchronizer.Start(); err != nil {
			return fmt.Errorf("[%s] Fail to start snapshot synchronizer, err=%w", op, err)
		}
	}
	return nil
}

// Close 停止所有背景元件，重複呼叫不會有作用
func (impl *ServerImpl) Close() {
	impl.closeOnce.Do(func() {
		if impl.synchronizer != nil {
			impl.synchronizer.Close()
		}
		impl.bus.Done()
		for i := len(impl.closers) - 1; i >= 0; i-- {
			impl.closers[i]()
		}
	})
}

// RegisterHandlers 註冊所有路由
func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	router.GET("/healthz", impl.GetHealthz)
	router.GET("/metrics", gin.WrapH(impl.metrics.Handler()))
	router.POST("/items/:itemID/updates", impl.PostItemUpdate)
	router.GET("/items/:itemID/stats", impl.GetItemStats)

	viewer := router.Group("", impl.SessionMiddleware())
	viewer.POST("/session", impl.PostSession)
	viewer.GET("/session", impl.GetSession)
	viewer.DELETE("/session", impl.DeleteSession)
	viewer.GET("/users/me/bids", impl.GetMyBids)
	viewer.GET("/items/:itemID/status", impl.GetItemStatus)
	viewer.GET("/items/:itemID/events", impl.GetItemEvents)
	viewer.GET("/items/:itemID/ws", impl.GetItemWebSocket)
	viewer.POST("/watches/:watchID/notifications/:notificationID/dismiss", impl.PostDismissNotification)
}

func (impl *ServerImpl) GetHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type errorResponse struct {
	Message string `json:"message"`
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Message: message})
}

// internalError 記錄非預期的錯誤並返回 500
func (impl *ServerImpl) internalError(c *gin.Context, op string, err error) {
	if errors.Is(err, context.Canceled) {
		c.Abort()
		return
	}
	impl.logger.Error("Unexpected error", slog.String("op", op), slog.Any("error", err))
	abort(c, http.StatusInternalServerError, "internal server error")
}

func (impl *ServerImpl) watchOptions() []watch.SessionOption {
	reconcilerOpts := []watch.ReconcilerOption{watch.WithReconcilerClock(impl.clock)}
	// 沒有設定時使用 watch 套件的預設值
	if ttl := impl.config.Notification.OutbidTTL; ttl > 0 {
		reconcilerOpts = append(reconcilerOpts, watch.WithOutbidTTL(ttl))
	}
	if ttl := impl.config.Notification.BidPlacedTTL; ttl > 0 {
		reconcilerOpts = append(reconcilerOpts, watch.WithBidPlacedTTL(ttl))
	}

	opts := []watch.SessionOption{
		watch.WithSessionLogger(impl.logger),
		watch.WithSessionMetrics(impl.metrics),
		watch.WithReconcilerOptions(reconcilerOpts...),
	}
	if impl.config.Heartbeat > 0 {
		opts = append(opts, watch.WithHeartbeat(impl.config.Heartbeat))
	}
	return opts
}
