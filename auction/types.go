package auction

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSnapshot 表示商品快照缺少必要欄位或狀態不合法
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// ItemStatus 代表拍賣商品在伺服器端的狀態
type ItemStatus string

const (
	ItemStatusActive    ItemStatus = "active"
	ItemStatusInactive  ItemStatus = "inactive"
	ItemStatusClaimed   ItemStatus = "claimed"
	ItemStatusPurchased ItemStatus = "purchased"
	ItemStatusRejected  ItemStatus = "rejected"
	ItemStatusCanceled  ItemStatus = "canceled"
)

// Valid 判斷是否為已知的商品狀態
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusActive, ItemStatusInactive, ItemStatusClaimed,
		ItemStatusPurchased, ItemStatusRejected, ItemStatusCanceled:
		return true
	}
	return false
}

// BidRecordStatus 代表出價紀錄本身的狀態
type BidRecordStatus string

const (
	BidRecordActive   BidRecordStatus = "active"
	BidRecordInactive BidRecordStatus = "inactive"
)

// User 只保留判斷出價歸屬所需的欄位
type User struct {
	ID string `json:"id" msgpack:"id"`
}

// Bid 代表一筆出價紀錄
// 作為商品快照中的目前最高出價時，只會帶有 ID、UserID 和 Amount
type Bid struct {
	ID        string          `json:"id" msgpack:"id"`
	UserID    string          `json:"userId" msgpack:"user_id"`
	ItemID    string          `json:"itemId,omitempty" msgpack:"item_id"`
	Amount    uint32          `json:"amount" msgpack:"amount"`
	Status    BidRecordStatus `json:"status,omitempty" msgpack:"status"`
	CreatedAt time.Time       `json:"createdAt,omitempty" msgpack:"created_at"`
}

// ProductItem 是某個拍賣商品在某個時間點的快照
type ProductItem struct {
	ID          string     `json:"id" msgpack:"id"`
	Title       string     `json:"title,omitempty" msgpack:"title"`
	Status      ItemStatus `json:"status" msgpack:"status"`
	ExpiresAt   time.Time  `json:"expiresAt" msgpack:"expires_at"`
	ExpiredAt   *time.Time `json:"expiredAt,omitempty" msgpack:"expired_at"`
	PurchasedAt *time.Time `json:"purchasedAt,omitempty" msgpack:"purchased_at"`
	RejectsAt   *time.Time `json:"rejectsAt,omitempty" msgpack:"rejects_at"`
	RejectedAt  *time.Time `json:"rejectedAt,omitempty" msgpack:"rejected_at"`
	CanceledAt  *time.Time `json:"canceledAt,omitempty" msgpack:"canceled_at"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty" msgpack:"updated_at"`

	// 目前最高出價，沒有人出價時為 nil
	Bid *Bid `json:"bid,omitempty" msgpack:"bid"`
}

// Validate 檢查快照能否被保存與廣播
// 最高出價必須帶有 ID 和出價者，否則無法判斷出價是否換人。
func (item ProductItem) Validate() error {
	switch {
	case item.ID == "":
		return fmt.Errorf("%w: missing item id", ErrInvalidSnapshot)
	case !item.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSnapshot, item.Status)
	case item.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing expiresAt", ErrInvalidSnapshot)
	case item.Bid != nil && item.Bid.ID == "":
		return fmt.Errorf("%w: bid without id", ErrInvalidSnapshot)
	case item.Bid != nil && item.Bid.UserID == "":
		return fmt.Errorf("%w: bid without userId", ErrInvalidSnapshot)
	}
	return nil
}

// IsExpired 判斷商品是否已結束
// 除了時間到期之外，只要狀態不是 active 也一律視為結束
func (item ProductItem) IsExpired(now time.Time) bool {
	return !item.ExpiresAt.After(now) || item.Status != ItemStatusActive
}

// WinningBidID 回傳目前最高出價的 ID，沒有出價時回傳空字串
func (item ProductItem) WinningBidID() string {
	if item.Bid == nil {
		return ""
	}
	return item.Bid.ID
}

// IsWinner 判斷 userID 是否為目前最高出價者
func (item ProductItem) IsWinner(userID string) bool {
	return userID != "" && item.Bid != nil && item.Bid.UserID == userID
}
