package auction

import "time"

// Status 代表使用者對某個商品的出價狀態
type Status string

const (
	// StatusNone 表示使用者與此商品沒有任何出價關係
	StatusNone      Status = ""
	StatusCanceled  Status = "canceled"
	StatusPurchased Status = "purchased"
	StatusRejected  Status = "rejected"
	StatusWon       Status = "won"
	StatusWinning   Status = "winning"
	StatusLost      Status = "lost"
	StatusOutbid    Status = "outbid"
)

// ResolveBidStatus 推導使用者在商品上的出價狀態
//
// 判斷順序:
//   - 1. 商品已取消，直接返回 canceled
//   - 2. 決定要評估的出價: 優先使用 userBid，否則在最高出價屬於 user 時使用最高出價
//   - 3. 找不到出價，返回 StatusNone
//   - 4a. 出價就是最高出價: purchased / rejected / (claimed 或已結束 → won) / winning
//   - 4b. 商品有其他最高出價: 已結束 → lost，否則 outbid
//   - 5. 其他情況返回 StatusNone
//
// NOTE: IsExpired 包含「狀態不是 active」，和 4a 前面的分支有重疊，
//       判斷順序不能任意調整。
func ResolveBidStatus(user *User, item ProductItem, userBid *Bid, now time.Time) Status {
	if item.Status == ItemStatusCanceled {
		return StatusCanceled
	}

	bid := userBid
	if bid == nil && user != nil && item.IsWinner(user.ID) {
		bid = item.Bid
	}
	if bid == nil {
		return StatusNone
	}

	expired := item.IsExpired(now)
	if item.Bid != nil && item.Bid.ID == bid.ID {
		switch {
		case item.Status == ItemStatusPurchased:
			return StatusPurchased
		case item.Status == ItemStatusRejected:
			return StatusRejected
		case item.Status == ItemStatusClaimed || expired:
			return StatusWon
		default:
			return StatusWinning
		}
	}

	if item.Bid != nil {
		if expired {
			return StatusLost
		}
		return StatusOutbid
	}
	return StatusNone
}
