package chrome

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/link"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/types"
)

// ChromeCrawler 页面自动化宿主,负责打开页面、等待加载、截图与提取链接
type ChromeCrawler interface {
	OpenPage(ctx context.Context, url string) (types.PageHandle, error)
	// ActivatePage 将后台页面切到前台以便绘制
	ActivatePage(ctx context.Context, h types.PageHandle) error
	AwaitLoadComplete(ctx context.Context, h types.PageHandle, timeout time.Duration) (timedOut bool, err error)
	GetLayoutMetrics(ctx context.Context, h types.PageHandle) (types.LayoutMetrics, error)
	CaptureClippedImage(ctx context.Context, h types.PageHandle, clip types.Rect) ([]byte, error)
	CaptureViewportImage(ctx context.Context, h types.PageHandle) ([]byte, error)
	CaptureVisibleArea(ctx context.Context, w types.WindowHandle) ([]byte, error)
	ExtractLinks(ctx context.Context, h types.PageHandle, policy link.Policy) ([]string, error)
	// ClosePage 页面已不存在时返回types.ErrPageGone
	ClosePage(ctx context.Context, h types.PageHandle) error
	Close()
}

// 页面内收集所有锚点解析后的href
const collectHrefsJS = `Array.from(document.querySelectorAll('a[href]'), a => a.href)`

// visibleAreaTimeout 等待首帧的上限
const visibleAreaTimeout = 5 * time.Second

func isGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrPageGone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no target with given id") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "session with given id not found")
}
