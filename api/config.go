package api

import "time"

// 商品快照的傳遞方式
const (
	SnapshotSourceLocal = "local"
	SnapshotSourceRedis = "redis"
	SnapshotSourceNATS  = "nats"
)

type ServerConfig struct {
	// ID 用於區分同一個 consumer group 中的不同節點
	ID             string
	SnapshotSource string
	Heartbeat      time.Duration

	Auth         AuthConfig
	Session      SessionConfig
	Notification NotificationConfig
	DB           DBConfig
	Redis        RedisConfig
	NATS         NATSConfig
}

type AuthConfig struct {
	// Secret 是 HS256 簽章使用的金鑰
	Secret   string
	Issuer   string
	Audience string

	// 設定 OIDCIssuerURL 後可以用 SSO 提供者簽發的 ID token 登入
	OIDCIssuerURL string
	OIDCClientID  string
}

type SessionConfig struct {
	KeyForCookie string
	CookieMaxAge time.Duration
	CookieSecure bool
}

type NotificationConfig struct {
	OutbidTTL    time.Duration
	BidPlacedTTL time.Duration
}

type DBConfig struct {
	// Driver 為 postgres 或 sqlite，sqlite 只用於本機開發
	Driver   string
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
	// SQLitePath 在 Driver 為 sqlite 時使用
	SQLitePath string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys    RedisStreamKeys
	ConsumerGroup string
	// StreamMaxLen 限制 stream 長度，0 表示不限制
	StreamMaxLen int64
}

type RedisStreamKeys struct {
	Snapshot string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}
