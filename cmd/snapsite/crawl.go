package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/collector"
	"github.com/LouYuanbo1/snapsite/internal/infra/metrics"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/artifact"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/es"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/sqlite"
	"github.com/LouYuanbo1/snapsite/internal/service/crawler"
	"github.com/LouYuanbo1/snapsite/internal/service/crawler/param"
	"github.com/LouYuanbo1/snapsite/internal/service/index"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	backendChromedp = "chromedp"
	backendRod      = "rod"
	backendColly    = "colly"
)

type crawlFlags struct {
	backend      string
	dryRun       bool
	output       string
	metricsAddr  string
	index        bool
	resetIndex   bool
	options      string
	maxPages     int
	maxDepth     int
	delayMs      int
	waitForLoad  int
	exclude      []string
	followSubs   bool
	ignoreQuery  bool
	publicSuffix bool
	keepRecent   bool
}

func newCrawlCmd(a *app) *cobra.Command {
	f := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "从url开始广度优先爬取同站页面并逐页截图",
		Long: "从url开始广度优先爬取同站页面并逐页截图。\n" +
			"SIGINT/SIGTERM 停止, SIGUSR1 暂停, SIGUSR2 恢复。",
		Args: cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			return a.crawl(cmd, f, args[0])
		}),
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.backend, "backend", "b", backendChromedp, "浏览器后端: chromedp | rod | colly(只抓HTML,不截图)")
	fl.BoolVar(&f.dryRun, "dry-run", false, "只遍历链接,不截图")
	fl.StringVarP(&f.output, "output", "o", "", "截图根目录(覆盖 storage.dir)")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus指标监听地址(覆盖 metrics.addr)")
	fl.BoolVar(&f.index, "index", false, "把页面结果写入Elasticsearch(覆盖 elasticsearch.enabled)")
	fl.BoolVar(&f.resetIndex, "reset-index", false, "写入前删除已有的页面索引")
	fl.StringVar(&f.options, "options", "", `JSON格式的爬取参数,如 {"maxPages":"20","excludePatterns":"/logout"};单独的flag优先`)
	fl.IntVar(&f.maxPages, "max-pages", 0, "最多访问的页面数")
	fl.IntVar(&f.maxDepth, "max-depth", 0, "最大链接深度")
	fl.IntVar(&f.delayMs, "delay", 0, "页面之间的间隔(毫秒)")
	fl.IntVar(&f.waitForLoad, "wait-for-load", 0, "加载后等待页面稳定的时间(毫秒)")
	fl.StringSliceVar(&f.exclude, "exclude", nil, "URL包含任一子串时跳过,可重复")
	fl.BoolVar(&f.followSubs, "follow-subdomains", false, "同时爬取子域名")
	fl.BoolVar(&f.ignoreQuery, "ignore-query-params", true, "比较URL时忽略查询参数")
	fl.BoolVar(&f.publicSuffix, "public-suffix", false, "按公共后缀表计算可注册域名")
	fl.BoolVar(&f.keepRecent, "keep-recent", false, "保留之前的最近页面记录")
	return cmd
}

// crawlOptions 以--options为基础,显式设置的flag再覆盖;都未设置的字段使用配置文件中的默认值
func (f *crawlFlags) crawlOptions(cmd *cobra.Command) (param.CrawlOptions, error) {
	var o param.CrawlOptions
	if f.options != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(f.options), &raw); err != nil {
			return o, fmt.Errorf("解析--options失败: %w", err)
		}
		o = param.OptionsFromMap(raw)
	}
	changed := cmd.Flags().Changed
	if changed("max-pages") {
		o.MaxPages = &f.maxPages
	}
	if changed("max-depth") {
		o.MaxDepth = &f.maxDepth
	}
	if changed("delay") {
		o.DelayMs = &f.delayMs
	}
	if changed("wait-for-load") {
		o.WaitForLoadMs = &f.waitForLoad
	}
	if changed("exclude") {
		o.ExcludePatterns = f.exclude
	}
	if changed("follow-subdomains") {
		o.FollowSubdomains = &f.followSubs
	}
	if changed("ignore-query-params") {
		o.IgnoreQueryParams = &f.ignoreQuery
	}
	if changed("public-suffix") {
		o.UsePublicSuffix = &f.publicSuffix
	}
	if changed("keep-recent") {
		o.KeepRecentPages = &f.keepRecent
	}
	return o, nil
}

func (a *app) openHost(ctx context.Context, backend string) (chrome.ChromeCrawler, error) {
	switch backend {
	case backendChromedp:
		return chrome.InitChromedpCrawler(ctx, a.cfg, a.logger)
	case backendRod:
		return chrome.InitRodCrawler(a.cfg, a.logger)
	case backendColly:
		return collector.InitCollyCrawler(a.cfg, a.logger)
	}
	return nil, fmt.Errorf("未知的后端: %q", backend)
}

func (a *app) crawl(cmd *cobra.Command, f *crawlFlags, startURL string) error {
	ctx := cmd.Context()
	cfg := a.cfg
	if f.output != "" {
		cfg.Storage.Dir = f.output
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if cmd.Flags().Changed("index") {
		cfg.Elasticsearch.Enabled = f.index
	}
	crawlOpts, err := f.crawlOptions(cmd)
	if err != nil {
		return err
	}

	host, err := a.openHost(ctx, f.backend)
	if err != nil {
		return err
	}
	defer host.Close()

	var client es.TypedEsClient[*model.PageDoc]
	if cfg.Elasticsearch.Enabled {
		if client, err = es.InitTypedEsClient[*model.PageDoc](cfg, a.logger); err != nil {
			return err
		}
	}

	opts := crawler.DefaultOptions()
	opts.Defaults = param.FromConfig(cfg.Crawl)
	opts.LoadTimeout = time.Duration(cfg.Crawl.LoadTimeoutMs) * time.Millisecond
	opts.RetryBackoff = time.Duration(cfg.Crawl.RetryBackoffMs) * time.Millisecond
	opts.PaintDelay = time.Duration(cfg.Crawl.PaintDelayMs) * time.Millisecond
	opts.SkipCapture = f.dryRun || f.backend == backendColly

	svcCtx, cancelSvc := context.WithCancel(ctx)
	defer cancelSvc()
	svc := crawler.InitCrawlService(svcCtx, host, artifact.InitOsStore(cfg.Storage.Dir), opts, a.logger)

	// 指标与索引服务在爬取结束后才取消,它们出错只记录日志,不影响爬取
	sideCtx, cancelSide := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSide()
	var side errgroup.Group
	runSide := func(name string, run func(context.Context) error) {
		side.Go(func() error {
			if err := run(sideCtx); err != nil {
				a.logger.Error("辅助服务退出", zap.String("service", name), zap.Error(err))
			}
			return nil
		})
	}

	svc.Subscribe(sqlite.RecentPagesSubscriber(a.state, a.logger))
	svc.Subscribe(pagePrinter(cmd.OutOrStdout()))
	if cfg.Metrics.Addr != "" {
		m := metrics.InitCrawlMetrics()
		svc.Subscribe(m.Observe)
		runSide("metrics", func(ctx context.Context) error {
			return m.Serve(ctx, cfg.Metrics.Addr, a.logger)
		})
	}
	if client != nil {
		idx := index.InitIndexService(client, cfg.Elasticsearch.BatchSize,
			time.Duration(cfg.Elasticsearch.FlushIntervalMs)*time.Millisecond, a.logger)
		svc.Subscribe(idx.Observe)
		runSide("index", func(ctx context.Context) error {
			if f.resetIndex {
				if err := client.DeleteIndex(ctx); err != nil {
					return err
				}
			}
			return idx.Run(ctx)
		})
	}

	if err := svc.Start(startURL, crawlOpts); err != nil {
		cancelSide()
		_ = side.Wait()
		return err
	}

	err = controlLoop(ctx, svc, a.logger)
	cancelSide()
	_ = side.Wait()

	st := svc.State()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "会话: %s\n", st.SessionID)
	fmt.Fprintf(out, "%s: 访问%d页, 截图%d张, 剩余队列%d\n",
		st.Status, st.Visited, st.ScreenshotCount, st.QueueSize)
	return err
}

// controlLoop 把信号转换为暂停/恢复/停止,直到爬取结束
func controlLoop(ctx context.Context, svc crawler.CrawlService, logger *zap.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, controlSignals()...)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	waitCtx, cancelWait := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWait()
	go func() {
		_ = svc.Wait(waitCtx)
		close(done)
	}()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			svc.Stop()
			ctx = context.WithoutCancel(ctx)
		case s := <-sigCh:
			switch {
			case s == pauseSignal:
				if err := svc.Pause(); err != nil {
					logger.Warn("暂停失败", zap.Error(err))
				}
			case s == resumeSignal:
				if err := svc.Resume(); err != nil {
					logger.Warn("恢复失败", zap.Error(err))
				}
			default:
				svc.Stop()
			}
		}
	}
}

func pagePrinter(w io.Writer) func(model.ProgressEvent) error {
	return func(ev model.ProgressEvent) error {
		if ev.Page == nil {
			return nil
		}
		_, err := fmt.Fprintln(w, formatPageLine(*ev.Page))
		return err
	}
}

func formatPageLine(p model.PageResult) string {
	mark := "ok  "
	if !p.Success {
		mark = "FAIL"
	}
	line := fmt.Sprintf("%s  %s  %s", p.Timestamp.Local().Format(time.DateTime), mark, p.URL)
	if p.Screenshot != "" {
		line += "  -> " + p.Screenshot
	}
	return line
}
