package models

import (
	"time"

	"gorm.io/gorm"

	"bidwatch/auction"
)

// ProductItem 代表拍賣商品目前的狀態
// UpdatedAt 由快照帶入，不使用 gorm 的自動更新時間，用來判斷快照的新舊。
type ProductItem struct {
	ID           string     `gorm:"type:varchar(64);primaryKey"`
	Title        string     `gorm:"type:varchar(255);not null"`
	Status       string     `gorm:"type:varchar(16);not null;index"`
	ExpiresAt    time.Time  `gorm:"not null"`
	ExpiredAt    *time.Time
	PurchasedAt  *time.Time
	RejectsAt    *time.Time
	RejectedAt   *time.Time
	CanceledAt   *time.Time
	CurrentBidID *string `gorm:"type:varchar(64)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false;not null"`
	DeletedAt    gorm.DeletedAt

	// 外鍵關聯
	CurrentBid *Bid `gorm:"foreignKey:CurrentBidID"`
}

func (p ProductItem) toDomain() auction.ProductItem {
	updatedAt := p.UpdatedAt
	item := auction.ProductItem{
		ID:          p.ID,
		Title:       p.Title,
		Status:      auction.ItemStatus(p.Status),
		ExpiresAt:   p.ExpiresAt,
		ExpiredAt:   p.ExpiredAt,
		PurchasedAt: p.PurchasedAt,
		RejectsAt:   p.RejectsAt,
		RejectedAt:  p.RejectedAt,
		CanceledAt:  p.CanceledAt,
		UpdatedAt:   &updatedAt,
	}
	if p.CurrentBid != nil {
		bid := p.CurrentBid.toDomain()
		item.Bid = &bid
	}
	return item
}

func productItemFromDomain(item auction.ProductItem, now time.Time) ProductItem {
	p := ProductItem{
		ID:          item.ID,
		Title:       item.Title,
		Status:      string(item.Status),
		ExpiresAt:   item.ExpiresAt,
		ExpiredAt:   item.ExpiredAt,
		PurchasedAt: item.PurchasedAt,
		RejectsAt:   item.RejectsAt,
		RejectedAt:  item.RejectedAt,
		CanceledAt:  item.CanceledAt,
		UpdatedAt:   now.UTC(),
	}
	if item.UpdatedAt != nil {
		p.UpdatedAt = item.UpdatedAt.UTC()
	}
	if item.Bid != nil {
		id := item.Bid.ID
		p.CurrentBidID = &id
	}
	return p
}
