package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bidwatch/auction"
)

var ErrItemNotFound = errors.New("item not found")

// Repository 負責商品、出價與使用者的讀寫
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// AutoMigrate 建立或更新資料表
func (r *Repository) AutoMigrate() error {
	const op = "Repository.AutoMigrate"
	if err := r.db.AutoMigrate(&User{}, &Bid{}, &ProductItem{}); err != nil {
		return fmt.Errorf("[%s] Fail to migrate, err=%w", op, err)
	}
	return nil
}

// FindItem 讀取商品以及目前最高出價
func (r *Repository) FindItem(ctx context.Context, id string) (auction.ProductItem, error) {
	const op = "Repository.FindItem"
	var item ProductItem
	err := r.db.WithContext(ctx).Preload("CurrentBid").First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.ProductItem{}, ErrItemNotFound
	}
	if err != nil {
		return auction.ProductItem{}, fmt.Errorf("[%s] Fail to query item, err=%w", op, err)
	}
	return item.toDomain(), nil
}

// FindItemsByIDs 讀取多個商品，找不到的 ID 會被略過
func (r *Repository) FindItemsByIDs(ctx context.Context, ids []string) ([]auction.ProductItem, error) {
	const op = "Repository.FindItemsByIDs"
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return []auction.ProductItem{}, nil
	}

	var items []ProductItem
	if err := r.db.WithContext(ctx).Preload("CurrentBid").Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to query items, err=%w", op, err)
	}
	return lo.Map(items, func(item ProductItem, _ int) auction.ProductItem {
		return item.toDomain()
	}), nil
}

// ListUserBids 返回使用者的所有出價，新的在前
func (r *Repository) ListUserBids(ctx context.Context, userID string) ([]auction.Bid, error) {
	const op = "Repository.ListUserBids"
	var bids []Bid
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id").
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to query bids, err=%w", op, err)
	}
	return lo.Map(bids, func(bid Bid, _ int) auction.Bid {
		return bid.toDomain()
	}), nil
}

// ListItemBids 返回使用者在某個商品上的出價，新的在前
func (r *Repository) ListItemBids(ctx context.Context, itemID, userID string) ([]auction.Bid, error) {
	const op = "Repository.ListItemBids"
	var bids []Bid
	err := r.db.WithContext(ctx).
		Where("product_item_id = ? AND user_id = ?", itemID, userID).
		Order("created_at DESC").
		Order("id").
		Find(&bids).Error
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to query bids, err=%w", op, err)
	}
	return lo.Map(bids, func(bid Bid, _ int) auction.Bid {
		return bid.toDomain()
	}), nil
}

// UpsertUser 建立使用者，已存在時更新名稱
func (r *Repository) UpsertUser(ctx context.Context, id, username string) error {
	const op = "Repository.UpsertUser"
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(&User{ID: id, Username: username}).Error
	if err != nil {
		return fmt.Errorf("[%s] Fail to upsert user, err=%w", op, err)
	}
	return nil
}

// SaveSnapshot 寫入商品快照以及其最高出價
// 比資料庫中的資料舊的快照不會覆蓋新的資料，返回值表示快照是否被寫入。
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot auction.ProductItem) (bool, error) {
	const op = "Repository.SaveSnapshot"
	if err := snapshot.Validate(); err != nil {
		return false, fmt.Errorf("[%s] Fail to validate snapshot, err=%w", op, err)
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if snapshot.Bid != nil {
			bid := bidFromDomain(snapshot.ID, *snapshot.Bid)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"status"}),
			}).Create(&bid).Error
			if err != nil {
				return fmt.Errorf("[%s] Fail to upsert bid, err=%w", op, err)
			}
		}

		item := productItemFromDomain(snapshot, r.now())
		result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "status", "expires_at", "expired_at", "purchased_at",
				"rejects_at", "rejected_at", "canceled_at", "current_bid_id", "updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "product_items.updated_at <= excluded.updated_at"},
			}},
		}).Create(&item)
		if result.Error != nil {
			return fmt.Errorf("[%s] Fail to upsert item, err=%w", op, result.Error)
		}
		applied = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
