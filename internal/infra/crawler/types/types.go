package types

import "errors"

// ErrPageGone 页面已被关闭或目标已不存在,释放时属于预期结果
var ErrPageGone = errors.New("页面已关闭")

// PageHandle 自动化宿主返回的页面句柄
type PageHandle struct {
	ID  string
	URL string
	// WindowID 宿主无法确定窗口时为0
	WindowID int64
}

// WindowHandle 页面所在窗口,供可见区域兜底截图使用
type WindowHandle struct {
	PageID   string
	WindowID int64
}

// Window 返回页面所属窗口句柄
func (h PageHandle) Window() WindowHandle {
	return WindowHandle{PageID: h.ID, WindowID: h.WindowID}
}

// LayoutMetrics 页面布局尺寸,为0表示宿主未提供
type LayoutMetrics struct {
	ContentWidth   float64
	ContentHeight  float64
	ViewportWidth  float64
	ViewportHeight float64
}

// Rect 截图裁剪区域
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}
