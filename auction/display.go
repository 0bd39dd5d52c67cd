package auction

import "time"

// Display 是畫面顯示出價狀態時所需的資料
type Display struct {
	ItemID   string `json:"itemId"`
	Status   Status `json:"status"`
	Expired  bool   `json:"expired"`
	WinnerID string `json:"winnerId,omitempty"`
	Amount   uint32 `json:"amount,omitempty"`

	// 距離拍賣結束的倒數，拍賣結束後為空
	TimeLeft []string `json:"timeLeft,omitempty"`
	// 拍賣結束多久
	EndedAgo string `json:"endedAgo,omitempty"`
	// 得標後需在此期限前完成購買
	RejectsIn string `json:"rejectsIn,omitempty"`
	// 完成購買多久
	PurchasedAgo string `json:"purchasedAgo,omitempty"`
	// 取消多久
	CanceledAgo string `json:"canceledAgo,omitempty"`
}

// Describe 推導出價狀態，並附上顯示用的倒數資訊
func Describe(user *User, item ProductItem, userBid *Bid, now time.Time) Display {
	display := Display{
		ItemID:  item.ID,
		Status:  ResolveBidStatus(user, item, userBid, now),
		Expired: item.IsExpired(now),
	}
	if item.Bid != nil {
		display.WinnerID = item.Bid.UserID
		display.Amount = item.Bid.Amount
	}

	if !display.Expired {
		display.TimeLeft = FormatDuration(now, item.ExpiresAt, DefaultMaxSegments, "")
	} else {
		endedAt := item.ExpiresAt
		if item.ExpiredAt != nil {
			endedAt = *item.ExpiredAt
		}
		if !endedAt.After(now) {
			display.EndedAgo = FormatSingleDuration(endedAt, now, "ago")
		}
	}

	switch display.Status {
	case StatusWon:
		if item.RejectsAt != nil && item.RejectsAt.After(now) {
			display.RejectsIn = FormatSingleDuration(now, *item.RejectsAt, "left")
		}
	case StatusPurchased:
		if item.PurchasedAt != nil {
			display.PurchasedAgo = FormatSingleDuration(*item.PurchasedAt, now, "ago")
		}
	case StatusCanceled:
		if item.CanceledAt != nil {
			display.CanceledAgo = FormatSingleDuration(*item.CanceledAt, now, "ago")
		}
	}
	return display
}
