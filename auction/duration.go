package auction

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// DefaultMaxSegments 是 FormatDuration 預設輸出的單位數量
const DefaultMaxSegments = 2

// span 是兩個時間點之間以日曆計算的差距
type span struct {
	days    int
	hours   int
	minutes int
	seconds int
}

type segment struct {
	value int
	unit  string
}

// between 計算 from 到 to 的差距
// 天數以 from 所在時區逐日推進計算 (會正確處理夏令時間)，剩餘部分再拆成時分秒。
// to 早於 from 時視為沒有差距。
func between(from, to time.Time) span {
	if !to.After(from) {
		return span{}
	}
	to = to.In(from.Location())

	// 先用 24 小時估算天數，再往前後修正
	days := int(to.Sub(from) / (24 * time.Hour))
	for days > 0 && from.AddDate(0, 0, days).After(to) {
		days--
	}
	for !from.AddDate(0, 0, days+1).After(to) {
		days++
	}

	rest := to.Sub(from.AddDate(0, 0, days))
	hours := rest / time.Hour
	rest -= hours * time.Hour
	minutes := rest / time.Minute
	rest -= minutes * time.Minute

	return span{
		days:    days,
		hours:   int(hours),
		minutes: int(minutes),
		seconds: int(rest / time.Second),
	}
}

func withSuffix(s, suffix string) string {
	if suffix == "" {
		return s
	}
	return s + " " + suffix
}

// FormatDuration 將 from 到 to 的差距格式化為多個單位，由大到小排列
// 最多輸出 maxSegments 個不為零的單位 (小於等於 0 時使用 DefaultMaxSegments)，
// 每個單位格式為 "<數值> <單位>[ suffix]"，單位為 day、hr、min、sec。
func FormatDuration(from, to time.Time, maxSegments int, suffix string) []string {
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	d := between(from, to)
	segments := lo.Filter([]segment{
		{d.days, "day"},
		{d.hours, "hr"},
		{d.minutes, "min"},
		{d.seconds, "sec"},
	}, func(s segment, _ int) bool {
		return s.value >= 1
	})
	if len(segments) > maxSegments {
		segments = segments[:maxSegments]
	}
	return lo.Map(segments, func(s segment, _ int) string {
		return withSuffix(fmt.Sprintf("%d %s", s.value, s.unit), suffix)
	})
}

// FormatSingleDuration 只用最大的單位描述 from 到 to 的差距
// 差距小於一秒時返回 "Now"。
func FormatSingleDuration(from, to time.Time, suffix string) string {
	if to.Sub(from) < time.Second {
		return "Now"
	}
	d := between(from, to)
	var text string
	switch {
	case d.days >= 1:
		text = plural(d.days, "day")
	case d.hours >= 1:
		text = plural(d.hours, "hour")
	case d.minutes >= 1:
		text = plural(d.minutes, "minute")
	default:
		text = plural(d.seconds, "second")
	}
	return withSuffix(text, suffix)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
