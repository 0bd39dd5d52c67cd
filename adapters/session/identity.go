package session

import (
	"strconv"
	"time"

	"bidwatch/auction"
)

const (
	keyUserID     = "userId"
	keySignedInAt = "signedInAt"
)

// Identity 記錄 session 目前登入的使用者
// 取代把使用者存在全域變數的做法，每個請求都從自己的 session 讀取。
type Identity struct {
	now func() time.Time
}

func NewIdentity() *Identity {
	return &Identity{now: time.Now}
}

// ReadUser 返回 session 中的使用者，未登入時返回 nil
func (i *Identity) ReadUser(s ISession) *auction.User {
	id := s.Get(keyUserID)
	if id == "" {
		return nil
	}
	return &auction.User{ID: id}
}

// SignedInAt 返回登入時間，未登入時返回零值
func (i *Identity) SignedInAt(s ISession) time.Time {
	unix, err := strconv.ParseInt(s.Get(keySignedInAt), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// WriteUser 換發 session ID 後把使用者寫入 session 並保存
func (i *Identity) WriteUser(s ISession, user auction.User) error {
	if err := s.Regenerate(); err != nil {
		return err
	}
	s.Set(keyUserID, user.ID)
	s.Set(keySignedInAt, strconv.FormatInt(i.now().Unix(), 10))
	return s.Save()
}

// ClearUser 登出並移除整個 session
func (i *Identity) ClearUser(s ISession) error {
	return s.Destroy()
}
