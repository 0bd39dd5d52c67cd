package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// sessionImpl 實作 ISession 介面，資料在第一次 Load 時才從儲存層讀取
type sessionImpl struct {
	id    string
	ctx   context.Context
	data  map[string]string
	dirty bool
	store IStore

	// onRegenerate 在 session ID 換發後呼叫，middleware 用來更新 cookie
	onRegenerate func(id string)
}

// NewSession 建立新的 session 實例
func NewSession(ctx context.Context, id string, store IStore) ISession {
	if ctx == nil {
		ctx = context.Background()
	}
	return &sessionImpl{
		id:    id,
		ctx:   ctx,
		store: store,
	}
}

func (s *sessionImpl) ID() string {
	return s.id
}

// Load 從儲存層載入 session 資料
func (s *sessionImpl) Load() error {
	const op = "sessionImpl.Load"
	if s.data != nil {
		return nil
	}

	data, err := s.store.Load(s.ctx, s.id)
	if err != nil {
		return fmt.Errorf("%s: failed to load session: %w", op, err)
	}

	s.data = data
	if s.data == nil {
		s.data = make(map[string]string)
	}
	return nil
}

// Get 取得指定 key 的值
func (s *sessionImpl) Get(key string) string {
	if s.data == nil {
		return ""
	}
	return s.data[key]
}

// Set 設定 key-value 對
func (s *sessionImpl) Set(key string, value string) {
	if s.data == nil {
		s.data = make(map[string]string)
	}
	s.data[key] = value
	s.dirty = true
}

// Delete 刪除指定 key 的值
func (s *sessionImpl) Delete(key string) {
	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.dirty = true
	}
}

// Clear 清空 session 資料
func (s *sessionImpl) Clear() {
	s.data = make(map[string]string)
	s.dirty = true
}

// Save 只在資料有變動時寫回儲存層
func (s *sessionImpl) Save() error {
	const op = "sessionImpl.Save"
	if !s.dirty {
		return nil
	}
	if err := s.store.Save(s.ctx, s.id, s.data); err != nil {
		return fmt.Errorf("%s: failed to save session: %w", op, err)
	}
	s.dirty = false
	return nil
}

// Regenerate 換發新的 session ID 並保留資料，舊的 ID 會從儲存層移除
// 新的資料在下一次 Save 時才會寫入。
func (s *sessionImpl) Regenerate() error {
	const op = "sessionImpl.Regenerate"
	if err := s.Load(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Delete(s.ctx, s.id); err != nil {
		return fmt.Errorf("%s: failed to delete old session: %w", op, err)
	}
	s.id = uuid.NewString()
	s.dirty = true
	if s.onRegenerate != nil {
		s.onRegenerate(s.id)
	}
	return nil
}

func (s *sessionImpl) Destroy() error {
	const op = "sessionImpl.Destroy"
	s.data = make(map[string]string)
	s.dirty = false
	if err := s.store.Delete(s.ctx, s.id); err != nil {
		return fmt.Errorf("%s: failed to delete session: %w", op, err)
	}
	return nil
}
