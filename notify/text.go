package notify

import "fmt"

// Text 是通知內容，可以是固定字串或是由函式產生的字串
// 只有 Static 和 Dynamic 兩種實作。
type Text interface {
	isText()
}

// Static 是固定的通知內容
type Static string

// Dynamic 在 Center.Push 時呼叫一次以產生通知內容，之後的事件都使用同一個字串
type Dynamic func() string

func (Static) isText()  {}
func (Dynamic) isText() {}

// Render 將 Text 轉換為字串
func Render(t Text) string {
	switch v := t.(type) {
	case nil:
		return ""
	case Static:
		return string(v)
	case Dynamic:
		if v == nil {
			return ""
		}
		return v()
	default:
		panic(fmt.Sprintf("notify: unknown text variant %T", t))
	}
}
