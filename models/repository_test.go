package models

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bidwatch/auction"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 共用快取的記憶體資料庫在多個連線同時寫入時會被鎖住
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshotAt(updatedAt time.Time, bid *auction.Bid) auction.ProductItem {
	return auction.ProductItem{
		ID:        "item-1",
		Title:     "Vintage camera",
		Status:    auction.ItemStatusActive,
		ExpiresAt: base.Add(24 * time.Hour),
		UpdatedAt: lo.ToPtr(updatedAt),
		Bid:       bid,
	}
}

func TestRepository_FindItem(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	_, err := repo.FindItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)

	bid := &auction.Bid{ID: "bid-1", UserID: "user-1", Amount: 100, CreatedAt: base}
	applied, err := repo.SaveSnapshot(ctx, snapshotAt(base, bid))
	require.NoError(t, err)
	assert.True(t, applied)

	item, err := repo.FindItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "Vintage camera", item.Title)
	assert.Equal(t, auction.ItemStatusActive, item.Status)
	assert.True(t, item.ExpiresAt.Equal(base.Add(24*time.Hour)))
	require.NotNil(t, item.Bid)
	assert.Equal(t, "bid-1", item.Bid.ID)
	assert.Equal(t, "user-1", item.Bid.UserID)
	assert.Equal(t, "item-1", item.Bid.ItemID)
	assert.Equal(t, uint32(100), item.Bid.Amount)
	assert.Equal(t, auction.BidRecordActive, item.Bid.Status)
}

func TestRepository_SaveSnapshot(t *testing.T) {
	t.Run("newer snapshot replaces the winning bid", func(t *testing.T) {
		repo := setupRepository(t)
		ctx := context.Background()

		_, err := repo.SaveSnapshot(ctx, snapshotAt(base, &auction.Bid{ID: "bid-1", UserID: "user-1", Amount: 100}))
		require.NoError(t, err)

		next := snapshotAt(base.Add(time.Minute), &auction.Bid{ID: "bid-2", UserID: "user-2", Amount: 150})
		applied, err := repo.SaveSnapshot(ctx, next)
		require.NoError(t, err)
		assert.True(t, applied)

		item, err := repo.FindItem(ctx, "item-1")
		require.NoError(t, err)
		assert.Equal(t, "bid-2", item.WinningBidID())
		assert.True(t, item.UpdatedAt.Equal(base.Add(time.Minute)))
	})

	t.Run("stale snapshot is ignored", func(t *testing.T) {
		repo := setupRepository(t)
		ctx := context.Background()

		_, err := repo.SaveSnapshot(ctx, snapshotAt(base.Add(time.Minute), &auction.Bid{ID: "bid-2", UserID: "user-2", Amount: 150}))
		require.NoError(t, err)

		applied, err := repo.SaveSnapshot(ctx, snapshotAt(base, &auction.Bid{ID: "bid-1", UserID: "user-1", Amount: 100}))
		require.NoError(t, err)
		assert.False(t, applied)

		item, err := repo.FindItem(ctx, "item-1")
		require.NoError(t, err)
		assert.Equal(t, "bid-2", item.WinningBidID())
	})

	t.Run("closing snapshot keeps timestamps", func(t *testing.T) {
		repo := setupRepository(t)
		ctx := context.Background()

		canceled := snapshotAt(base, nil)
		canceled.Status = auction.ItemStatusCanceled
		canceled.CanceledAt = lo.ToPtr(base)

		_, err := repo.SaveSnapshot(ctx, canceled)
		require.NoError(t, err)

		item, err := repo.FindItem(ctx, "item-1")
		require.NoError(t, err)
		assert.Nil(t, item.Bid)
		assert.Equal(t, auction.ItemStatusCanceled, item.Status)
		require.NotNil(t, item.CanceledAt)
		assert.True(t, item.CanceledAt.Equal(base))
	})

	t.Run("invalid snapshots", func(t *testing.T) {
		tests := []struct {
			name   string
			modify func(*auction.ProductItem)
		}{
			{"missing id", func(item *auction.ProductItem) { item.ID = "" }},
			{"unknown status", func(item *auction.ProductItem) { item.Status = "bogus" }},
			{"missing expiresAt", func(item *auction.ProductItem) { item.ExpiresAt = time.Time{} }},
			{"bid without id", func(item *auction.ProductItem) { item.Bid.ID = "" }},
			{"bid without user", func(item *auction.ProductItem) { item.Bid.UserID = "" }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := setupRepository(t)
				item := snapshotAt(base, &auction.Bid{ID: "bid-1", UserID: "user-1", Amount: 100})
				tt.modify(&item)

				applied, err := repo.SaveSnapshot(context.Background(), item)
				assert.ErrorIs(t, err, auction.ErrInvalidSnapshot)
				assert.False(t, applied)

				_, err = repo.FindItem(context.Background(), "item-1")
				assert.ErrorIs(t, err, ErrItemNotFound)
			})
		}
	})
}

func TestRepository_Bids(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	snapshots := []auction.ProductItem{
		snapshotAt(base, &auction.Bid{ID: "bid-1", UserID: "user-1", Amount: 100, CreatedAt: base}),
		snapshotAt(base.Add(time.Minute), &auction.Bid{ID: "bid-2", UserID: "user-2", Amount: 150, CreatedAt: base.Add(time.Minute)}),
		snapshotAt(base.Add(2*time.Minute), &auction.Bid{ID: "bid-3", UserID: "user-1", Amount: 200, CreatedAt: base.Add(2 * time.Minute)}),
	}
	other := snapshotAt(base, &auction.Bid{ID: "bid-4", UserID: "user-1", Amount: 10, CreatedAt: base.Add(3 * time.Minute)})
	other.ID = "item-2"
	snapshots = append(snapshots, other)

	for _, s := range snapshots {
		_, err := repo.SaveSnapshot(ctx, s)
		require.NoError(t, err)
	}

	bids, err := repo.ListUserBids(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bid-4", "bid-3", "bid-1"}, lo.Map(bids, func(b auction.Bid, _ int) string { return b.ID }))

	bids, err = repo.ListItemBids(ctx, "item-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bid-3", "bid-1"}, lo.Map(bids, func(b auction.Bid, _ int) string { return b.ID }))

	items, err := repo.FindItemsByIDs(ctx, []string{"item-2", "item-1", "item-1", "missing"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"item-1", "item-2"}, lo.Map(items, func(i auction.ProductItem, _ int) string { return i.ID }))

	items, err = repo.FindItemsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRepository_UpsertUser(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertUser(ctx, "user-1", "alice"))
	require.NoError(t, repo.UpsertUser(ctx, "user-1", "alice2"))

	var users []User
	require.NoError(t, repo.db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "alice2", users[0].Username)
}
