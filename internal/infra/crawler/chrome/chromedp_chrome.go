package chrome

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"github.com/LouYuanbo1/snapsite/internal/domain/link"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/types"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

type chromedpTab struct {
	ctx      context.Context
	cancel   context.CancelFunc
	targetID target.ID
}

type chromedpCrawler struct {
	allocCtx      context.Context
	allocCtxFuc   context.CancelFunc
	browserCtx    context.Context
	browserCtxFuc context.CancelFunc
	timeoutCtxFuc context.CancelFunc

	mu     sync.Mutex
	tabs   map[string]*chromedpTab
	logger *zap.Logger
}

// InitChromedpCrawler 启动浏览器并返回基于chromedp的宿主
func InitChromedpCrawler(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ChromeCrawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chromedp")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Chromedp.Headless),
		chromedp.Flag("incognito", cfg.Chromedp.Incognito),
		chromedp.Flag("disable-dev-shm-usage", cfg.Chromedp.DisableDevShmUsage),
		chromedp.Flag("no-sandbox", cfg.Chromedp.NoSandbox),
	)
	if cfg.Chromedp.DisableBlinkFeatures != "" {
		opts = append(opts, chromedp.Flag("disable-blink-features", cfg.Chromedp.DisableBlinkFeatures))
	}
	if cfg.Chromedp.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.Chromedp.UserDataDir))
	}
	if cfg.Chromedp.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.Chromedp.UserAgent))
	}
	if cfg.Chromedp.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Chromedp.ExecPath))
	}
	if cfg.Chromedp.WindowWidth > 0 && cfg.Chromedp.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Chromedp.WindowWidth, cfg.Chromedp.WindowHeight))
	}

	timeoutCtx, cancelTimeout := context.WithCancel(ctx)
	if cfg.Chromedp.LifeTime > 0 {
		cancelTimeout()
		timeoutCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(cfg.Chromedp.LifeTime)*time.Second)
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(timeoutCtx, opts...)
	sugar := logger.Sugar()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	// 空Run用于真正拉起浏览器
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		cancelTimeout()
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	return &chromedpCrawler{
		allocCtx:      allocCtx,
		allocCtxFuc:   cancelAlloc,
		browserCtx:    browserCtx,
		browserCtxFuc: cancelBrowser,
		timeoutCtxFuc: cancelTimeout,
		tabs:          make(map[string]*chromedpTab),
		logger:        logger,
	}, nil
}

func (cc *chromedpCrawler) Close() {
	cc.mu.Lock()
	for id, tab := range cc.tabs {
		tab.cancel()
		delete(cc.tabs, id)
	}
	cc.mu.Unlock()
	cc.browserCtxFuc()
	cc.allocCtxFuc()
	cc.timeoutCtxFuc()
}

// browserExec 浏览器级别命令的执行上下文
func (cc *chromedpCrawler) browserExec(ctx context.Context) context.Context {
	c := chromedp.FromContext(cc.browserCtx)
	return cdp.WithExecutor(ctx, c.Browser)
}

func (cc *chromedpCrawler) tab(id string) (*chromedpTab, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	tab, ok := cc.tabs[id]
	if !ok {
		return nil, types.ErrPageGone
	}
	return tab, nil
}

// tabCtx 派生自页面上下文,同时跟随调用方ctx取消
func (cc *chromedpCrawler) tabCtx(ctx context.Context, tab *chromedpTab, timeout time.Duration) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(tab.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(tab.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (cc *chromedpCrawler) OpenPage(ctx context.Context, url string) (types.PageHandle, error) {
	bctx := cc.browserExec(ctx)
	targetID, err := target.CreateTarget(url).WithBackground(true).Do(bctx)
	if err != nil {
		return types.PageHandle{}, fmt.Errorf("创建页面失败: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(cc.browserCtx, chromedp.WithTargetID(targetID))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return types.PageHandle{}, fmt.Errorf("连接页面失败: %w", err)
	}

	h := types.PageHandle{ID: string(targetID), URL: url}
	if windowID, _, err := browser.GetWindowForTarget().WithTargetID(targetID).Do(bctx); err == nil {
		h.WindowID = int64(windowID)
	} else {
		cc.logger.Debug("获取窗口失败", zap.String("url", url), zap.Error(err))
	}

	cc.mu.Lock()
	cc.tabs[h.ID] = &chromedpTab{ctx: tabCtx, cancel: cancel, targetID: targetID}
	cc.mu.Unlock()
	return h, nil
}

func (cc *chromedpCrawler) ActivatePage(ctx context.Context, h types.PageHandle) error {
	tab, err := cc.tab(h.ID)
	if err != nil {
		return err
	}
	if err := target.ActivateTarget(tab.targetID).Do(cc.browserExec(ctx)); err != nil {
		return fmt.Errorf("激活页面失败: %w", err)
	}
	return nil
}

// AwaitLoadComplete load事件与计时器竞争,先到者胜,监听器随ctx取消注销
func (cc *chromedpCrawler) AwaitLoadComplete(ctx context.Context, h types.PageHandle, timeout time.Duration) (bool, error) {
	tab, err := cc.tab(h.ID)
	if err != nil {
		return false, err
	}
	listenCtx, cancel := cc.tabCtx(ctx, tab, 0)
	defer cancel()

	loaded := make(chan struct{}, 1)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	// 监听注册前可能已经加载完成
	var state string
	if err := chromedp.Run(listenCtx, chromedp.Evaluate(`document.readyState`, &state)); err == nil && state == "complete" {
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-loaded:
		return false, nil
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (cc *chromedpCrawler) GetLayoutMetrics(ctx context.Context, h types.PageHandle) (types.LayoutMetrics, error) {
	var m types.LayoutMetrics
	tab, err := cc.tab(h.ID)
	if err != nil {
		return m, err
	}
	runCtx, cancel := cc.tabCtx(ctx, tab, 0)
	defer cancel()

	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, contentSize, cssLayoutViewport, _, cssContentSize, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		size := cssContentSize
		if size == nil {
			size = contentSize
		}
		if size != nil {
			m.ContentWidth = size.Width
			m.ContentHeight = size.Height
		}
		if cssLayoutViewport != nil {
			m.ViewportWidth = float64(cssLayoutViewport.ClientWidth)
			m.ViewportHeight = float64(cssLayoutViewport.ClientHeight)
		}
		return nil
	}))
	if err != nil {
		return m, fmt.Errorf("获取布局尺寸失败: %w", err)
	}
	return m, nil
}

func (cc *chromedpCrawler) capture(ctx context.Context, h types.PageHandle, params *page.CaptureScreenshotParams) ([]byte, error) {
	tab, err := cc.tab(h.ID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := cc.tabCtx(ctx, tab, 0)
	defer cancel()

	var buf []byte
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return buf, nil
}

func (cc *chromedpCrawler) CaptureClippedImage(ctx context.Context, h types.PageHandle, clip types.Rect) ([]byte, error) {
	return cc.capture(ctx, h, page.CaptureScreenshot().
		WithFormat(page.CaptureScreenshotFormatPng).
		WithCaptureBeyondViewport(true).
		WithClip(&page.Viewport{
			X:      clip.X,
			Y:      clip.Y,
			Width:  clip.Width,
			Height: clip.Height,
			Scale:  1,
		}))
}

func (cc *chromedpCrawler) CaptureViewportImage(ctx context.Context, h types.PageHandle) ([]byte, error) {
	return cc.capture(ctx, h, page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng))
}

// CaptureVisibleArea 通过screencast取窗口当前可见区域的一帧,不经过captureScreenshot
func (cc *chromedpCrawler) CaptureVisibleArea(ctx context.Context, w types.WindowHandle) ([]byte, error) {
	tab, err := cc.tab(w.PageID)
	if err != nil {
		return nil, err
	}
	bctx := cc.browserExec(ctx)
	if w.WindowID != 0 {
		bounds := &browser.Bounds{WindowState: browser.WindowStateNormal}
		if err := browser.SetWindowBounds(browser.WindowID(w.WindowID), bounds).Do(bctx); err != nil {
			cc.logger.Debug("恢复窗口失败", zap.Int64("window", w.WindowID), zap.Error(err))
		}
	}
	if err := target.ActivateTarget(tab.targetID).Do(bctx); err != nil {
		return nil, fmt.Errorf("激活页面失败: %w", err)
	}

	frameCtx, cancel := cc.tabCtx(ctx, tab, visibleAreaTimeout)
	defer cancel()

	frames := make(chan *page.EventScreencastFrame, 1)
	chromedp.ListenTarget(frameCtx, func(ev any) {
		if f, ok := ev.(*page.EventScreencastFrame); ok {
			select {
			case frames <- f:
			default:
			}
		}
	})
	if err := chromedp.Run(frameCtx, page.StartScreencast().WithFormat(page.ScreencastFormatPng)); err != nil {
		return nil, fmt.Errorf("开启screencast失败: %w", err)
	}
	defer func() {
		_ = chromedp.Run(tab.ctx, page.StopScreencast())
	}()

	select {
	case f := <-frames:
		_ = chromedp.Run(tab.ctx, page.ScreencastFrameAck(f.SessionID))
		buf, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, fmt.Errorf("解码画面失败: %w", err)
		}
		return buf, nil
	case <-frameCtx.Done():
		return nil, fmt.Errorf("等待画面超时: %w", frameCtx.Err())
	}
}

func (cc *chromedpCrawler) ExtractLinks(ctx context.Context, h types.PageHandle, policy link.Policy) ([]string, error) {
	tab, err := cc.tab(h.ID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := cc.tabCtx(ctx, tab, 0)
	defer cancel()

	var hrefs []string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(collectHrefsJS, &hrefs)); err != nil {
		return nil, fmt.Errorf("提取链接失败: %w", err)
	}
	return link.Filter(hrefs, policy), nil
}

func (cc *chromedpCrawler) ClosePage(ctx context.Context, h types.PageHandle) error {
	cc.mu.Lock()
	tab, ok := cc.tabs[h.ID]
	delete(cc.tabs, h.ID)
	cc.mu.Unlock()
	if !ok {
		return types.ErrPageGone
	}
	defer tab.cancel()

	if err := target.CloseTarget(tab.targetID).Do(cc.browserExec(ctx)); err != nil {
		if isGone(err) {
			return types.ErrPageGone
		}
		return fmt.Errorf("关闭页面失败: %w", err)
	}
	return nil
}
