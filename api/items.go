package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"bidwatch/auction"
	"bidwatch/models"
	"bidwatch/watch"
)

// Bid status of an item
// (GET /items/{itemID}/status)
func (impl *ServerImpl) GetItemStatus(c *gin.Context) {
	const op = "GetItemStatus"

	_, viewer, err := impl.currentViewer(c)
	if err != nil {
		impl.internalError(c, op, err)
		return
	}
	item, err := impl.repo.FindItem(c, c.Param("itemID"))
	if err != nil {
		if errors.Is(err, models.ErrItemNotFound) {
			abort(c, http.StatusNotFound, "item not found")
			return
		}
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to find item, err=%w", op, err))
		return
	}

	// 指定 bidID 時以該筆出價判斷，否則使用觀看者最新的出價
	var userBid *auction.Bid
	bidID := c.Query("bidID")
	if viewer != nil {
		bids, err := impl.repo.ListItemBids(c, item.ID, viewer.ID)
		if err != nil {
			impl.internalError(c, op, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err))
			return
		}
		if bidID != "" {
			bid, ok := lo.Find(bids, func(b auction.Bid) bool { return b.ID == bidID })
			if !ok {
				abort(c, http.StatusNotFound, "bid not found")
				return
			}
			userBid = &bid
		} else if len(bids) > 0 {
			userBid = &bids[0]
		}
	} else if bidID != "" {
		abort(c, http.StatusUnauthorized, ErrUnauthenticated.Error())
		return
	}

	c.JSON(http.StatusOK, watch.Update{
		Item:    item,
		Display: auction.Describe(viewer, item, userBid, impl.clock()),
	})
}

type userBidResponse struct {
	Bid     auction.Bid         `json:"bid"`
	Item    auction.ProductItem `json:"item"`
	Display auction.Display     `json:"display"`
}

// Bids of the viewer with resolved status
// (GET /users/me/bids)
func (impl *ServerImpl) GetMyBids(c *gin.Context) {
	const op = "GetMyBids"

	viewer, ok := impl.requireViewer(c, op)
	if !ok {
		return
	}
	bids, err := impl.repo.ListUserBids(c, viewer.ID)
	if err != nil {
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err))
		return
	}
	// 同一個商品只保留最新的出價
	bids = lo.UniqBy(bids, func(b auction.Bid) string { return b.ItemID })

	items, err := impl.repo.FindItemsByIDs(c, lo.Map(bids, func(b auction.Bid, _ int) string { return b.ItemID }))
	if err != nil {
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to find items, err=%w", op, err))
		return
	}
	itemByID := lo.KeyBy(items, func(item auction.ProductItem) string { return item.ID })

	now := impl.clock()
	response := make([]userBidResponse, 0, len(bids))
	for _, bid := range bids {
		item, ok := itemByID[bid.ItemID]
		if !ok {
			impl.logger.Warn("Bid without item", slog.String("bidId", bid.ID), slog.String("itemId", bid.ItemID))
			continue
		}
		response = append(response, userBidResponse{
			Bid:     bid,
			Item:    item,
			Display: auction.Describe(viewer, item, &bid, now),
		})
	}
	c.JSON(http.StatusOK, response)
}

type publishResponse struct {
	ItemID  string `json:"itemId"`
	Applied bool   `json:"applied"`
}

// Publish a new snapshot of an item
// (POST /items/{itemID}/updates)
func (impl *ServerImpl) PostItemUpdate(c *gin.Context) {
	const op = "PostItemUpdate"

	if _, err := impl.publisherClaims(c); err != nil {
		abort(c, http.StatusUnauthorized, ErrUnauthenticated.Error())
		return
	}

	var item auction.ProductItem
	if err := c.ShouldBindJSON(&item); err != nil {
		abort(c, http.StatusBadRequest, "invalid snapshot")
		return
	}
	itemID := c.Param("itemID")
	if item.ID == "" {
		item.ID = itemID
	}
	if item.ID != itemID {
		abort(c, http.StatusBadRequest, "item id mismatch")
		return
	}
	if err := item.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if item.UpdatedAt == nil {
		item.UpdatedAt = lo.ToPtr(impl.clock())
	}

	// 沒有同步 worker 時直接寫入資料庫，過期的快照不會被發布
	applied := true
	if impl.synchronizer == nil {
		var err error
		applied, err = impl.repo.SaveSnapshot(c, item)
		if err != nil {
			impl.internalError(c, op, fmt.Errorf("[%s] Fail to save snapshot, err=%w", op, err))
			return
		}
		if !applied {
			c.JSON(http.StatusConflict, publishResponse{ItemID: item.ID})
			return
		}
	}

	if err := impl.bus.Publish(item.ID, item); err != nil {
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to publish snapshot, err=%w", op, err))
		return
	}
	impl.metrics.SnapshotPublished()
	c.JSON(http.StatusAccepted, publishResponse{ItemID: item.ID, Applied: applied})
}

// Number of viewers on this node
// (GET /items/{itemID}/stats)
func (impl *ServerImpl) GetItemStats(c *gin.Context) {
	itemID := c.Param("itemID")
	c.JSON(http.StatusOK, gin.H{
		"itemId":      itemID,
		"subscribers": impl.bus.Subscribers(itemID),
	})
}
