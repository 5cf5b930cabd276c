package crawler

import (
	"context"
	"math"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/types"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/artifact"
	"go.uber.org/zap"
)

// CDP截图尺寸上限,超出时截图可能直接失败
const (
	maxCaptureWidth      = 4096
	maxCaptureHeight     = 16384
	defaultCaptureWidth  = 1280
	defaultCaptureHeight = 720
)

const (
	screenshotDir      = "screenshots"
	maxFilenameLen     = 100
	filenameTimeLayout = "2006-01-02T15-04-05"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// screenshotter 分层截图:裁剪全页 -> 视口 -> 可见区域,整体失败时退避后再试一次
type screenshotter struct {
	host       chrome.ChromeCrawler
	store      artifact.Store
	backoff    time.Duration
	paintDelay time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// capture 成功时返回保存路径
func (s *screenshotter) capture(ctx context.Context, h types.PageHandle, pageURL string) (string, bool) {
	if saved, ok := s.attempt(ctx, h, pageURL); ok {
		return saved, true
	}
	s.logger.Info("截图重试", zap.String("url", pageURL), zap.Duration("backoff", s.backoff))
	if err := sleepCtx(ctx, s.backoff); err != nil {
		return "", false
	}
	return s.attempt(ctx, h, pageURL)
}

func (s *screenshotter) attempt(ctx context.Context, h types.PageHandle, pageURL string) (string, bool) {
	// 后台页面不绘制,先切到前台
	if err := s.host.ActivatePage(ctx, h); err != nil {
		s.logger.Warn("激活页面失败", zap.String("url", pageURL), zap.Error(err))
	} else if err := sleepCtx(ctx, s.paintDelay); err != nil {
		return "", false
	}

	metrics, err := s.host.GetLayoutMetrics(ctx, h)
	if err != nil {
		s.logger.Debug("获取布局尺寸失败", zap.String("url", pageURL), zap.Error(err))
	}
	clip, source := captureRect(metrics)
	switch source {
	case "viewport":
		s.logger.Info("内容尺寸缺失,使用视口尺寸", zap.Float64("width", clip.Width), zap.Float64("height", clip.Height))
	case "default":
		s.logger.Warn("无有效布局尺寸,使用默认1280x720", zap.String("url", pageURL))
	case "capped":
		s.logger.Warn("页面过大,截图尺寸已截断", zap.Float64("width", clip.Width), zap.Float64("height", clip.Height))
	}

	data, err := s.host.CaptureClippedImage(ctx, h, clip)
	if len(data) == 0 {
		s.logger.Warn("裁剪截图无数据,改用视口截图", zap.String("url", pageURL), zap.Error(err))
		data, err = s.host.CaptureViewportImage(ctx, h)
		if len(data) > 0 {
			s.logger.Info("视口截图成功", zap.String("url", pageURL))
		}
	}
	if len(data) > 0 {
		return s.persist(ctx, data, pageURL)
	}

	s.logger.Info("尝试可见区域兜底截图", zap.String("url", pageURL), zap.NamedError("viewportError", err))
	data, err = s.host.CaptureVisibleArea(ctx, h.Window())
	if len(data) > 0 {
		s.logger.Info("可见区域截图成功", zap.String("url", pageURL))
		return s.persist(ctx, data, pageURL)
	}
	s.logger.Error("截图无数据", zap.String("url", pageURL), zap.Error(err))
	return "", false
}

func (s *screenshotter) persist(ctx context.Context, data []byte, pageURL string) (string, bool) {
	saved, err := s.store.Persist(ctx, data, screenshotFilename(pageURL, s.now()))
	if err != nil {
		s.logger.Error("保存截图失败", zap.String("url", pageURL), zap.Error(err))
		return "", false
	}
	return saved, true
}

// captureRect 内容尺寸 -> 视口尺寸 -> 默认尺寸,并截断到上限
func captureRect(m types.LayoutMetrics) (types.Rect, string) {
	source := "content"
	w, h := math.Round(m.ContentWidth), math.Round(m.ContentHeight)
	if w < 1 || h < 1 {
		if m.ViewportWidth > 0 && m.ViewportHeight > 0 {
			w, h = math.Round(m.ViewportWidth), math.Round(m.ViewportHeight)
			source = "viewport"
		}
	}
	if w < 1 || h < 1 {
		w, h = defaultCaptureWidth, defaultCaptureHeight
		source = "default"
	}
	if w > maxCaptureWidth || h > maxCaptureHeight {
		w, h = min(w, maxCaptureWidth), min(h, maxCaptureHeight)
		source = "capped"
	}
	return types.Rect{X: 0, Y: 0, Width: w, Height: h}, source
}

// screenshotFilename screenshots/<UTC时间>_<净化后的路径>.png
func screenshotFilename(pageURL string, t time.Time) string {
	name := t.UTC().Format(filenameTimeLayout) + "_" + sanitizeFilename(pageURL) + ".png"
	return path.Join(screenshotDir, name)
}

func sanitizeFilename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "page"
	}
	var name string
	if p := u.EscapedPath(); p == "" || p == "/" {
		name = "index"
	} else {
		name = strings.ReplaceAll(p, "/", "_")
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if name == "" {
		return "page"
	}
	return name
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
