package redis

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"bidwatch/adapters/session"
)

// Store 以 redis hash 儲存 session 資料，實作 session.IStore
type Store struct {
	client  *redis.Client
	options StoreOptions
}

type StoreOptions struct {
	Prefix string
	TTL    time.Duration
}

type StoreOption func(*StoreOptions)

// WithStorePrefix 設定 key 前綴
func WithStorePrefix(prefix string) StoreOption {
	return func(o *StoreOptions) {
		o.Prefix = prefix
	}
}

// WithStoreTTL 設定資料的存活時間，每次 Save 都會重新計算，0 表示不過期
func WithStoreTTL(ttl time.Duration) StoreOption {
	return func(o *StoreOptions) {
		o.TTL = ttl
	}
}

func NewStore(client *redis.Client, opts ...StoreOption) session.IStore {
	options := StoreOptions{
		Prefix: "session:",
		TTL:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Store{
		client:  client,
		options: options,
	}
}

// Load 載入 session 資料，key 不存在時返回空的 map
func (s *Store) Load(ctx context.Context, name string) (map[string]string, error) {
	const op = "redis.Store.Load"

	result, err := s.client.HGetAll(ctx, s.options.Prefix+name).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get hash: %w", op, err)
	}
	return result, nil
}

// saveScript 原子性地覆寫整個 hash 並設定過期時間
// ARGV[1] 為過期毫秒數，其餘為 field/value。
var saveScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
redis.call('DEL', key)
if #ARGV > 1 then
    redis.call('HSET', key, unpack(ARGV, 2))
    if ttl > 0 then
        redis.call('PEXPIRE', key, ttl)
    end
end
return 1
`)

// Save 覆寫 session 資料，data 為空時等同於刪除
func (s *Store) Save(ctx context.Context, name string, data map[string]string) error {
	const op = "redis.Store.Save"

	fields := make([]string, 0, len(data))
	for k := range data {
		fields = append(fields, k)
	}
	slices.Sort(fields)

	args := make([]any, 0, len(data)*2+1)
	args = append(args, s.options.TTL.Milliseconds())
	for _, k := range fields {
		args = append(args, k, data[k])
	}

	if err := saveScript.Run(ctx, s.client, []string{s.options.Prefix + name}, args...).Err(); err != nil {
		return fmt.Errorf("%s: failed to execute save script: %w", op, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	const op = "redis.Store.Delete"
	if err := s.client.Del(ctx, s.options.Prefix+name).Err(); err != nil {
		return fmt.Errorf("%s: failed to delete hash: %w", op, err)
	}
	return nil
}
