// Package collector 提供基于colly的静态宿主:只下载HTML并解析链接,不渲染页面
package collector

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"github.com/LouYuanbo1/snapsite/internal/domain/link"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/types"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

type staticPage struct {
	hrefs []string
}

type collyCrawler struct {
	colly  *colly.Collector
	nextID atomic.Int64

	mu     sync.Mutex
	pages  map[string]*staticPage
	logger *zap.Logger
}

// InitCollyCrawler 返回不产生截图的宿主,所有截图调用都返回空
func InitCollyCrawler(cfg *config.Config, logger *zap.Logger) (chrome.ChromeCrawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
	}
	if cfg.Colly.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.Colly.UserAgent))
	}
	if cfg.Colly.IgnoreRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	c := colly.NewCollector(opts...)
	if cfg.Colly.RequestTimeout > 0 {
		c.SetRequestTimeout(time.Duration(cfg.Colly.RequestTimeout) * time.Second)
	}
	if cfg.Colly.Delay > 0 || cfg.Colly.RandomDelay > 0 {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Delay:       time.Duration(cfg.Colly.Delay) * time.Second,
			RandomDelay: time.Duration(cfg.Colly.RandomDelay) * time.Second,
		}); err != nil {
			return nil, fmt.Errorf("设置限速失败: %w", err)
		}
	}
	if cfg.Colly.EnableCookieJar {
		jar, err := cookiejar.New(cfg.Colly.CookieJarOptions)
		if err != nil {
			return nil, fmt.Errorf("创建cookiejar失败: %w", err)
		}
		c.SetCookieJar(jar)
	}
	logger.Named("colly").Info("InitCollyCrawler",
		zap.Int("delay", cfg.Colly.Delay),
		zap.Int("randomDelay", cfg.Colly.RandomDelay),
		zap.Bool("ignoreRobotsTxt", cfg.Colly.IgnoreRobotsTxt))
	return &collyCrawler{
		colly:  c,
		pages:  make(map[string]*staticPage),
		logger: logger.Named("colly"),
	}, nil
}

func (cc *collyCrawler) Close() {
	cc.mu.Lock()
	clear(cc.pages)
	cc.mu.Unlock()
}

// OpenPage 同步抓取HTML并收集锚点;每次使用克隆的collector,回调互不干扰
func (cc *collyCrawler) OpenPage(ctx context.Context, url string) (types.PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return types.PageHandle{}, err
	}
	page := &staticPage{}
	c := cc.colly.Clone()
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		page.hrefs = append(page.hrefs, e.Request.AbsoluteURL(e.Attr("href")))
	})
	if err := c.Visit(url); err != nil {
		return types.PageHandle{}, fmt.Errorf("访问URL失败: %w", err)
	}
	c.Wait()

	id := strconv.FormatInt(cc.nextID.Add(1), 10)
	cc.mu.Lock()
	cc.pages[id] = page
	cc.mu.Unlock()
	return types.PageHandle{ID: id, URL: url}, nil
}

func (cc *collyCrawler) ActivatePage(ctx context.Context, h types.PageHandle) error {
	return nil
}

// AwaitLoadComplete OpenPage返回时响应已完整读取
func (cc *collyCrawler) AwaitLoadComplete(ctx context.Context, h types.PageHandle, timeout time.Duration) (bool, error) {
	return false, nil
}

func (cc *collyCrawler) GetLayoutMetrics(ctx context.Context, h types.PageHandle) (types.LayoutMetrics, error) {
	return types.LayoutMetrics{}, nil
}

func (cc *collyCrawler) CaptureClippedImage(ctx context.Context, h types.PageHandle, clip types.Rect) ([]byte, error) {
	return nil, nil
}

func (cc *collyCrawler) CaptureViewportImage(ctx context.Context, h types.PageHandle) ([]byte, error) {
	return nil, nil
}

func (cc *collyCrawler) CaptureVisibleArea(ctx context.Context, w types.WindowHandle) ([]byte, error) {
	return nil, nil
}

func (cc *collyCrawler) ExtractLinks(ctx context.Context, h types.PageHandle, policy link.Policy) ([]string, error) {
	cc.mu.Lock()
	page, ok := cc.pages[h.ID]
	cc.mu.Unlock()
	if !ok {
		return nil, types.ErrPageGone
	}
	return link.Filter(page.hrefs, policy), nil
}

func (cc *collyCrawler) ClosePage(ctx context.Context, h types.PageHandle) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if _, ok := cc.pages[h.ID]; !ok {
		return types.ErrPageGone
	}
	delete(cc.pages, h.ID)
	return nil
}
