//go:generate mockgen -package=session -destination=mock.go -source=interfaces.go

package session

import "context"

// IStore 是 session 資料的儲存層，name 為 session ID
type IStore interface {
	Load(ctx context.Context, name string) (map[string]string, error)
	Save(ctx context.Context, name string, data map[string]string) error
	Delete(ctx context.Context, name string) error
}

type ISession interface {
	ID() string
	Load() error
	Get(key string) string
	Set(key, value string)
	Delete(key string)
	Clear()
	Save() error
	// Regenerate 換發新的 session ID，登入時用來避免沿用登入前的 ID
	Regenerate() error
	// Destroy 清空資料並從儲存層移除整個 session
	Destroy() error
}
