package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"github.com/LouYuanbo1/snapsite/internal/domain/link"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/options"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/types"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

type rodCrawler struct {
	browser *rod.Browser
	stealth bool

	mu     sync.Mutex
	pages  map[string]*rod.Page
	logger *zap.Logger
}

// InitRodCrawler 启动浏览器并返回基于rod的宿主
func InitRodCrawler(cfg *config.Config, logger *zap.Logger) (ChromeCrawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := options.CreateLauncher(cfg.Rod.UserMode,
		options.WithBin(cfg.Rod.Bin),
		options.WithUserDataDir(cfg.Rod.UserDataDir),
		options.WithHeadless(cfg.Rod.Headless),
		options.WithDisableBlinkFeatures(cfg.Rod.DisableBlinkFeatures),
		options.WithIncognito(cfg.Rod.Incognito),
		options.WithDisableDevShmUsage(cfg.Rod.DisableDevShmUsage),
		options.WithNoSandbox(cfg.Rod.NoSandbox),
		options.WithUserAgent(cfg.Rod.UserAgent),
		options.WithLeakless(cfg.Rod.Leakless),
		options.WithDisableBackgroundNetworking(cfg.Rod.DisableBackgroundNetworking),
		options.WithDisableBackgroundTimerThrottling(cfg.Rod.DisableBackgroundTimerThrottling),
		options.WithWindowSize(cfg.Rod.WindowWidth, cfg.Rod.WindowHeight),
	)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}
	return &rodCrawler{
		browser: browser,
		stealth: cfg.Rod.Stealth,
		pages:   make(map[string]*rod.Page),
		logger:  logger.Named("rod"),
	}, nil
}

func (rc *rodCrawler) Close() {
	if err := rc.browser.Close(); err != nil {
		rc.logger.Debug("关闭浏览器失败", zap.Error(err))
	}
}

func (rc *rodCrawler) page(id string) (*rod.Page, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	p, ok := rc.pages[id]
	if !ok {
		return nil, types.ErrPageGone
	}
	return p, nil
}

func (rc *rodCrawler) OpenPage(ctx context.Context, url string) (types.PageHandle, error) {
	var p *rod.Page
	var err error
	if rc.stealth {
		p, err = stealth.Page(rc.browser)
		if err == nil {
			err = p.Context(ctx).Navigate(url)
		}
	} else {
		p, err = rc.browser.Page(proto.TargetCreateTarget{URL: url, Background: true})
	}
	if err != nil {
		if p != nil {
			_ = p.Close()
		}
		return types.PageHandle{}, fmt.Errorf("创建页面失败: %w", err)
	}

	h := types.PageHandle{ID: string(p.TargetID), URL: url}
	win, err := proto.BrowserGetWindowForTarget{TargetID: p.TargetID}.Call(rc.browser)
	if err == nil {
		h.WindowID = int64(win.WindowID)
	} else {
		rc.logger.Debug("获取窗口失败", zap.String("url", url), zap.Error(err))
	}

	rc.mu.Lock()
	rc.pages[h.ID] = p
	rc.mu.Unlock()
	return h, nil
}

func (rc *rodCrawler) ActivatePage(ctx context.Context, h types.PageHandle) error {
	p, err := rc.page(h.ID)
	if err != nil {
		return err
	}
	if _, err := p.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("激活页面失败: %w", err)
	}
	return nil
}

func (rc *rodCrawler) AwaitLoadComplete(ctx context.Context, h types.PageHandle, timeout time.Duration) (bool, error) {
	p, err := rc.page(h.ID)
	if err != nil {
		return false, err
	}
	tp := p.Context(ctx).Timeout(timeout)
	defer tp.CancelTimeout()

	err = tp.WaitLoad()
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return true, nil
	default:
		return false, fmt.Errorf("等待加载失败: %w", err)
	}
}

func (rc *rodCrawler) GetLayoutMetrics(ctx context.Context, h types.PageHandle) (types.LayoutMetrics, error) {
	var m types.LayoutMetrics
	p, err := rc.page(h.ID)
	if err != nil {
		return m, err
	}
	res, err := proto.PageGetLayoutMetrics{}.Call(p.Context(ctx))
	if err != nil {
		return m, fmt.Errorf("获取布局尺寸失败: %w", err)
	}
	size := res.CSSContentSize
	if size == nil {
		size = res.ContentSize
	}
	if size != nil {
		m.ContentWidth = size.Width
		m.ContentHeight = size.Height
	}
	if vp := res.CSSLayoutViewport; vp != nil {
		m.ViewportWidth = float64(vp.ClientWidth)
		m.ViewportHeight = float64(vp.ClientHeight)
	}
	return m, nil
}

func (rc *rodCrawler) CaptureClippedImage(ctx context.Context, h types.PageHandle, clip types.Rect) ([]byte, error) {
	p, err := rc.page(h.ID)
	if err != nil {
		return nil, err
	}
	buf, err := p.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      clip.X,
			Y:      clip.Y,
			Width:  clip.Width,
			Height: clip.Height,
			Scale:  1,
		},
		CaptureBeyondViewport: true,
	})
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return buf, nil
}

func (rc *rodCrawler) CaptureViewportImage(ctx context.Context, h types.PageHandle) ([]byte, error) {
	p, err := rc.page(h.ID)
	if err != nil {
		return nil, err
	}
	buf, err := p.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return buf, nil
}

// CaptureVisibleArea 通过screencast取窗口当前可见区域的一帧
func (rc *rodCrawler) CaptureVisibleArea(ctx context.Context, w types.WindowHandle) ([]byte, error) {
	p, err := rc.page(w.PageID)
	if err != nil {
		return nil, err
	}
	if w.WindowID != 0 {
		err := proto.BrowserSetWindowBounds{
			WindowID: proto.BrowserWindowID(w.WindowID),
			Bounds:   &proto.BrowserBounds{WindowState: proto.BrowserWindowStateNormal},
		}.Call(rc.browser)
		if err != nil {
			rc.logger.Debug("恢复窗口失败", zap.Int64("window", w.WindowID), zap.Error(err))
		}
	}
	if _, err := p.Context(ctx).Activate(); err != nil {
		return nil, fmt.Errorf("激活页面失败: %w", err)
	}

	frameCtx, cancel := context.WithTimeout(ctx, visibleAreaTimeout)
	defer cancel()
	fp := p.Context(frameCtx)

	var frame *proto.PageScreencastFrame
	wait := fp.EachEvent(func(e *proto.PageScreencastFrame) bool {
		frame = e
		return true
	})
	if err := (proto.PageStartScreencast{Format: proto.PageStartScreencastFormatPng}).Call(fp); err != nil {
		return nil, fmt.Errorf("开启screencast失败: %w", err)
	}
	defer func() {
		_ = proto.PageStopScreencast{}.Call(p)
	}()

	wait()
	if frame == nil {
		return nil, fmt.Errorf("等待画面超时: %w", frameCtx.Err())
	}
	_ = proto.PageScreencastFrameAck{SessionID: frame.SessionID}.Call(p)
	return frame.Data, nil
}

func (rc *rodCrawler) ExtractLinks(ctx context.Context, h types.PageHandle, policy link.Policy) ([]string, error) {
	p, err := rc.page(h.ID)
	if err != nil {
		return nil, err
	}
	res, err := p.Context(ctx).Eval(`() => ` + collectHrefsJS)
	if err != nil {
		return nil, fmt.Errorf("提取链接失败: %w", err)
	}
	arr := res.Value.Arr()
	hrefs := make([]string, 0, len(arr))
	for _, v := range arr {
		hrefs = append(hrefs, v.Str())
	}
	return link.Filter(hrefs, policy), nil
}

func (rc *rodCrawler) ClosePage(ctx context.Context, h types.PageHandle) error {
	rc.mu.Lock()
	p, ok := rc.pages[h.ID]
	delete(rc.pages, h.ID)
	rc.mu.Unlock()
	if !ok {
		return types.ErrPageGone
	}
	if err := p.Context(ctx).Close(); err != nil {
		if isGone(err) {
			return types.ErrPageGone
		}
		return fmt.Errorf("关闭页面失败: %w", err)
	}
	return nil
}
