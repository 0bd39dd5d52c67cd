package models

import (
	"time"

	"bidwatch/auction"
)

// Bid 代表拍賣商品的出價紀錄
type Bid struct {
	ID            string    `gorm:"type:varchar(64);primaryKey"`
	Amount        uint32    `gorm:"type:integer;not null;<-:create"`
	UserID        string    `gorm:"type:varchar(64);not null;index;<-:create"`
	ProductItemID string    `gorm:"type:varchar(64);not null;index;<-:create"`
	Status        string    `gorm:"type:varchar(16);not null;default:active"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

func (b Bid) toDomain() auction.Bid {
	return auction.Bid{
		ID:        b.ID,
		UserID:    b.UserID,
		ItemID:    b.ProductItemID,
		Amount:    b.Amount,
		Status:    auction.BidRecordStatus(b.Status),
		CreatedAt: b.CreatedAt,
	}
}

func bidFromDomain(itemID string, b auction.Bid) Bid {
	status := b.Status
	if status == "" {
		status = auction.BidRecordActive
	}
	return Bid{
		ID:            b.ID,
		Amount:        b.Amount,
		UserID:        b.UserID,
		ProductItemID: itemID,
		Status:        string(status),
		CreatedAt:     b.CreatedAt,
	}
}
