package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bidwatch/api"
	"bidwatch/watch"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "", "node id used as the consumer name, random when empty")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.String("snapshot-source", api.SnapshotSourceRedis, "redis, nats or local")
	pflag.Duration("heartbeat", watch.DefaultHeartbeat, "keep-alive interval of event streams")

	// auth config
	pflag.String("auth-secret", "", "HS256 secret of viewer tokens")
	pflag.String("auth-issuer", "", "")
	pflag.String("auth-audience", "", "")

	// oidc config
	pflag.String("oidc-issuer-url", "", "enables sign-in with id tokens of this issuer")
	pflag.String("oidc-client-id", "", "")

	// session config
	pflag.String("session-cookie-key", "bidwatch_session", "")
	pflag.Duration("session-max-age", 24*time.Hour, "")
	pflag.Bool("session-cookie-secure", true, "")

	// notification config
	pflag.Duration("notification-outbid-ttl", watch.DefaultOutbidTTL, "")
	pflag.Duration("notification-bid-placed-ttl", watch.DefaultBidPlacedTTL, "")

	// db config
	pflag.String("db-driver", "postgres", "postgres or sqlite")
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")
	pflag.String("db-sqlite-path", "bidwatch.db", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "bidwatch:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-snapshot", "bidwatch-item-snapshots", "")
	pflag.String("redis-consumer-group", "snapshot-sync", "")
	pflag.Int64("redis-stream-max-len", 100000, "")

	// nats config
	pflag.String("nats-url", "nats://127.0.0.1:4222", "")
	pflag.String("nats-subject-prefix", "bidwatch.items", "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BIDWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	serverID := viper.GetString("server-id")
	if serverID == "" {
		serverID = uuid.NewString()
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  viper.GetString("log-level"),
		ServerConfig: api.ServerConfig{
			ID:             serverID,
			SnapshotSource: viper.GetString("snapshot-source"),
			Heartbeat:      viper.GetDuration("heartbeat"),
			Auth: api.AuthConfig{
				Secret:   viper.GetString("auth-secret"),
				Issuer:   viper.GetString("auth-issuer"),
				Audience: viper.GetString("auth-audience"),

				OIDCIssuerURL: viper.GetString("oidc-issuer-url"),
				OIDCClientID:  viper.GetString("oidc-client-id"),
			},
			Session: api.SessionConfig{
				KeyForCookie: viper.GetString("session-cookie-key"),
				CookieMaxAge: viper.GetDuration("session-max-age"),
				CookieSecure: viper.GetBool("session-cookie-secure"),
			},
			Notification: api.NotificationConfig{
				OutbidTTL:    viper.GetDuration("notification-outbid-ttl"),
				BidPlacedTTL: viper.GetDuration("notification-bid-placed-ttl"),
			},
			DB: api.DBConfig{
				Driver:     viper.GetString("db-driver"),
				User:       viper.GetString("db-user"),
				Password:   viper.GetString("db-password"),
				Host:       viper.GetString("db-host"),
				Port:       viper.GetInt("db-port"),
				Database:   viper.GetString("db-database"),
				Schema:     viper.GetString("db-schema"),
				SQLitePath: viper.GetString("db-sqlite-path"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					Snapshot: viper.GetString("redis-stream-key-for-snapshot"),
				},
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamMaxLen:  viper.GetInt64("redis-stream-max-len"),
			},
			NATS: api.NATSConfig{
				URL:           viper.GetString("nats-url"),
				SubjectPrefix: viper.GetString("nats-subject-prefix"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	LogLevel     string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	config := args.ServerConfig
	if args.ServerURL == "" || config.Auth.Secret == "" || config.Redis.Addr == "" {
		return false
	}
	if config.Auth.OIDCIssuerURL != "" && config.Auth.OIDCClientID == "" {
		return false
	}
	switch config.DB.Driver {
	case "postgres":
		if config.DB.Host == "" || config.DB.Database == "" {
			return false
		}
	case "sqlite":
		if config.DB.SQLitePath == "" {
			return false
		}
	default:
		return false
	}
	switch config.SnapshotSource {
	case api.SnapshotSourceRedis:
		return config.Redis.StreamKeys.Snapshot != "" && config.Redis.ConsumerGroup != ""
	case api.SnapshotSourceNATS:
		return config.NATS.URL != "" && config.NATS.SubjectPrefix != ""
	case api.SnapshotSourceLocal:
		return true
	}
	return false
}

// Level 解析 --log-level，無法辨識時使用 info
func (args Args) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(args.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
