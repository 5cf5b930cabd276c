package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/link"
	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/types"
	"go.uber.org/zap"
)

const releaseTimeout = 10 * time.Second

// pageSink 单页处理过程中回写控制器
type pageSink interface {
	policy() link.Policy
	enqueueLinks(links []string, parentDepth int) int
	screenshotSaved()
	record(res model.PageResult)
}

// processor 单页流水线:打开 -> 等待加载 -> 等待稳定 -> 截图 -> 提取链接 -> 记录 -> 释放
type processor struct {
	host        chrome.ChromeCrawler
	shots       *screenshotter
	loadTimeout time.Duration
	skipCapture bool
	now         func() time.Time
	logger      *zap.Logger
}

// process 一旦开始就运行到底;任何步骤的失败都只影响本页
func (p *processor) process(ctx context.Context, pageURL string, depth int, waitForLoad time.Duration, sink pageSink) model.PageResult {
	res := model.PageResult{URL: pageURL}
	var h types.PageHandle
	opened := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("访问页面异常", zap.String("url", pageURL), zap.Any("panic", r))
				res.Success = false
			}
		}()
		if err := p.run(ctx, pageURL, depth, waitForLoad, sink, &h, &opened, &res); err != nil {
			p.logger.Error("访问页面失败", zap.String("url", pageURL), zap.Error(err))
			res.Success = false
		}
	}()

	res.Timestamp = p.now()
	sink.record(res)
	if opened {
		p.release(ctx, h, pageURL)
	}
	return res
}

func (p *processor) run(ctx context.Context, pageURL string, depth int, waitForLoad time.Duration, sink pageSink, h *types.PageHandle, opened *bool, res *model.PageResult) error {
	var err error
	*h, err = p.host.OpenPage(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("打开页面失败: %w", err)
	}
	*opened = true
	p.logger.Info("页面已创建,等待加载", zap.String("url", pageURL), zap.String("page", h.ID))

	timedOut, err := p.host.AwaitLoadComplete(ctx, *h, p.loadTimeout)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		p.logger.Warn("等待加载失败,继续处理", zap.String("url", pageURL), zap.Error(err))
	case timedOut:
		p.logger.Warn("页面加载超时,继续处理", zap.String("url", pageURL), zap.Duration("timeout", p.loadTimeout))
	}

	if err := sleepCtx(ctx, waitForLoad); err != nil {
		return err
	}

	if p.skipCapture {
		res.Success = true
	} else if saved, ok := p.shots.capture(ctx, *h, pageURL); ok {
		sink.screenshotSaved()
		res.Success = true
		res.Screenshot = saved
	}

	links, err := p.host.ExtractLinks(ctx, *h, sink.policy())
	if err != nil {
		p.logger.Error("提取链接失败", zap.String("url", pageURL), zap.Error(err))
	} else {
		added := sink.enqueueLinks(links, depth)
		p.logger.Info("链接已提取", zap.String("url", pageURL), zap.Int("count", len(links)), zap.Int("enqueued", added))
	}

	if !res.Success {
		p.logger.Warn("页面截图失败", zap.String("url", pageURL))
	}
	return nil
}

// release 页面已不存在是预期结果,不记录
func (p *processor) release(ctx context.Context, h types.PageHandle, pageURL string) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := p.host.ClosePage(closeCtx, h); err != nil && !errors.Is(err, types.ErrPageGone) {
		p.logger.Warn("关闭页面失败", zap.String("url", pageURL), zap.String("page", h.ID), zap.Error(err))
	}
}
