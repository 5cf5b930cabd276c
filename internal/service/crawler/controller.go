// Package crawler 单站点广度优先截图爬取:队列、状态机、单页流水线与分层截图
package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/link"
	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/artifact"
	"github.com/LouYuanbo1/snapsite/internal/service/crawler/param"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const recentPagesCap = 50

var (
	ErrInvalidStartURL = errors.New("起始URL无效")
	ErrNotRunning      = errors.New("爬取未在运行")
	ErrNotPaused       = errors.New("爬取未暂停")
)

// CrawlService 爬取控制器。同一时刻只有一个页面在流水线中,
// 暂停与停止只在取下一个URL之前生效,不会打断正在处理的页面
type CrawlService interface {
	// Start 总是重新初始化;URL无效时返回ErrInvalidStartURL且不改变任何状态
	Start(startURL string, opts param.CrawlOptions) error
	Pause() error
	Resume() error
	// Stop 立即清空待访问队列,正在处理的页面仍会完成
	Stop()
	State() model.Snapshot
	Subscribe(fn ProgressFunc) (unsubscribe func())
	RecentPages() []model.PageResult
	ClearRecentPages()
	// Wait 阻塞到当前爬取进入终止阶段且驱动循环退出
	Wait(ctx context.Context) error
}

// Options 控制器级别的参数,对所有爬取生效
type Options struct {
	Defaults     param.Crawl
	LoadTimeout  time.Duration
	RetryBackoff time.Duration
	// PaintDelay 页面切到前台后等待绘制的时间
	PaintDelay  time.Duration
	SkipCapture bool
	Now         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Defaults:     param.Defaults(),
		LoadTimeout:  30 * time.Second,
		RetryBackoff: time.Second,
		PaintDelay:   800 * time.Millisecond,
		Now:          time.Now,
	}
}

// crawlRun 一次爬取的全部可变状态,每次Start新建
type crawlRun struct {
	id         string
	cfg        param.Crawl
	policy     link.Policy
	frontier   *frontier
	phase      model.Phase
	reason     model.CompletionReason
	currentURL string
	shots      int
	startTime  time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	looping bool
	done    chan struct{}
	closed  bool
}

type crawlService struct {
	ctx      context.Context
	proc     *processor
	reporter *reporter
	defaults param.Crawl
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	run    *crawlRun
	recent []model.PageResult
}

// InitCrawlService ctx为服务生命周期,取消后正在处理的页面会尽快结束
func InitCrawlService(ctx context.Context, host chrome.ChromeCrawler, store artifact.Store, opts Options, logger *zap.Logger) CrawlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("crawler")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}

	idle := &crawlRun{
		frontier: newFrontier(),
		phase:    model.PhaseIdle,
		ctx:      ctx,
		cancel:   func() {},
		done:     make(chan struct{}),
		closed:   true,
	}
	close(idle.done)

	return &crawlService{
		ctx: ctx,
		proc: &processor{
			host: host,
			shots: &screenshotter{
				host:       host,
				store:      store,
				backoff:    opts.RetryBackoff,
				paintDelay: opts.PaintDelay,
				now:        opts.Now,
				logger:     logger.Named("screenshot"),
			},
			loadTimeout: opts.LoadTimeout,
			skipCapture: opts.SkipCapture,
			now:         opts.Now,
			logger:      logger,
		},
		reporter: newReporter(logger),
		defaults: opts.Defaults,
		now:      opts.Now,
		logger:   logger,
		run:      idle,
	}
}

func (c *crawlService) Start(startURL string, opts param.CrawlOptions) error {
	cfg := opts.Resolve(c.defaults)
	u, err := link.Parse(startURL)
	if err != nil {
		c.logger.Error("起始URL无效", zap.String("url", startURL), zap.Error(err))
		c.mu.Lock()
		ev := c.progressLocked(c.run)
		c.mu.Unlock()
		ev.Progress.Status = statusInvalidURL
		c.reporter.publish(ev)
		return ErrInvalidStartURL
	}
	start, err := link.Normalize(startURL, cfg.IgnoreQueryParams)
	if err != nil {
		return ErrInvalidStartURL
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	r := &crawlRun{
		id:        uuid.NewString(),
		cfg:       cfg,
		policy:    link.NewPolicy(u, cfg.FollowSubdomains, cfg.IgnoreQueryParams, cfg.UsePublicSuffix),
		frontier:  newFrontier(),
		phase:     model.PhaseRunning,
		startTime: c.now(),
		ctx:       runCtx,
		cancel:    cancel,
		looping:   true,
		done:      make(chan struct{}),
	}
	r.frontier.reset(start)

	c.mu.Lock()
	prev := c.run
	c.supersedeLocked(prev)
	if !cfg.KeepRecentPages {
		c.recent = nil
	}
	c.run = r
	ev := c.progressLocked(r)
	c.mu.Unlock()

	c.logger.Info("爬取开始",
		zap.String("session", r.id),
		zap.String("url", start),
		zap.Int("maxPages", cfg.MaxPages),
		zap.Int("maxDepth", cfg.MaxDepth),
		zap.Duration("delay", cfg.Delay),
		zap.Duration("waitForLoad", cfg.WaitForLoad))
	c.reporter.publish(ev)

	go func() {
		// 上一轮正在处理的页面结束后才开始,保证单页流水线
		<-prev.done
		c.drive(r)
	}()
	return nil
}

// supersedeLocked 新的Start替换旧爬取
func (c *crawlService) supersedeLocked(r *crawlRun) {
	if !r.phase.Terminal() && r.phase != model.PhaseIdle {
		r.phase = model.PhaseStopped
	}
	r.frontier.clearQueue()
	r.cancel()
	if !r.looping {
		c.closeDoneLocked(r)
	}
}

func (c *crawlService) closeDoneLocked(r *crawlRun) {
	if r.closed {
		return
	}
	r.closed = true
	r.cancel()
	close(r.done)
}

func (c *crawlService) Pause() error {
	c.mu.Lock()
	r := c.run
	if r.phase != model.PhaseRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	r.phase = model.PhasePaused
	ev := c.progressLocked(r)
	c.mu.Unlock()

	c.logger.Info("爬取已暂停", zap.String("session", r.id))
	c.reporter.publish(ev)
	return nil
}

func (c *crawlService) Resume() error {
	c.mu.Lock()
	r := c.run
	if r.phase != model.PhasePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	r.phase = model.PhaseRunning
	// 暂停期间页面仍在处理时,原循环会继续,不能再起一个
	restart := !r.looping
	if restart {
		r.looping = true
	}
	ev := c.progressLocked(r)
	c.mu.Unlock()

	c.logger.Info("爬取已恢复", zap.String("session", r.id))
	c.reporter.publish(ev)
	if restart {
		go c.drive(r)
	}
	return nil
}

func (c *crawlService) Stop() {
	c.mu.Lock()
	r := c.run
	r.frontier.clearQueue()
	r.phase = model.PhaseStopped
	r.cancel()
	if !r.looping {
		c.closeDoneLocked(r)
	}
	ev := c.progressLocked(r)
	c.mu.Unlock()

	c.logger.Info("爬取已被停止", zap.String("session", r.id))
	c.reporter.publish(ev)
}

func (c *crawlService) State() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.run
	return model.Snapshot{
		SessionID:       r.id,
		Phase:           r.phase,
		Reason:          r.reason,
		Visited:         r.frontier.visitedCount(),
		QueueSize:       r.frontier.queueLen(),
		ScreenshotCount: r.shots,
		CurrentURL:      r.currentURL,
		Status:          statusFor(r.phase, r.reason, r.currentURL),
		StartTime:       r.startTime,
	}
}

func (c *crawlService) Subscribe(fn ProgressFunc) func() {
	return c.reporter.subscribe(fn)
}

func (c *crawlService) RecentPages() []model.PageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.PageResult(nil), c.recent...)
}

func (c *crawlService) ClearRecentPages() {
	c.mu.Lock()
	c.recent = nil
	ev := c.progressLocked(c.run)
	c.mu.Unlock()

	ev.RecentCleared = true
	ev.Recent = []model.PageResult{}
	c.reporter.publish(ev)
}

func (c *crawlService) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.run.done
	c.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive 迭代式驱动循环,直到暂停、停止或完成
func (c *crawlService) drive(r *crawlRun) {
	for {
		pageURL, depth, ok := c.next(r)
		if !ok {
			c.finish(r)
			return
		}
		c.proc.process(c.ctx, pageURL, depth, r.cfg.WaitForLoad, &runSink{c: c, r: r})
		_ = sleepCtx(r.ctx, r.cfg.Delay)
	}
}

// next 按固定顺序检查:阶段 -> 页数上限 -> 队列为空 -> 取出URL(跳过已访问与超深度)
func (c *crawlService) next(r *crawlRun) (string, int, bool) {
	c.mu.Lock()
	for {
		if r.phase != model.PhaseRunning {
			r.looping = false
			c.mu.Unlock()
			return "", 0, false
		}
		if r.frontier.atCapacity(r.cfg.MaxPages) {
			c.completeLocked(r, model.ReasonMaxPagesReached)
			return "", 0, false
		}
		if r.frontier.isEmpty() {
			c.completeLocked(r, model.ReasonQueueEmpty)
			return "", 0, false
		}

		u, _ := r.frontier.dequeueNext()
		if r.frontier.isVisited(u) {
			c.logger.Info("跳过(已访问)", zap.String("url", u))
			continue
		}
		depth := r.frontier.depth(u)
		if depth > r.cfg.MaxDepth {
			c.logger.Info("跳过(超过最大深度)", zap.String("url", u), zap.Int("depth", depth), zap.Int("maxDepth", r.cfg.MaxDepth))
			continue
		}

		r.frontier.markVisited(u)
		r.currentURL = u
		queue := r.frontier.queueLen()
		ev := c.progressLocked(r)
		current := c.run == r
		c.mu.Unlock()

		c.logger.Info("处理页面", zap.String("url", u), zap.Int("depth", depth), zap.Int("queueRemaining", queue))
		if current {
			c.reporter.publish(ev)
		}
		return u, depth, true
	}
}

// finish 循环退出后,终止阶段的爬取才算结束;暂停期间被Resume接管时不做任何事
func (c *crawlService) finish(r *crawlRun) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.phase.Terminal() && !r.looping {
		c.closeDoneLocked(r)
	}
}

// completeLocked 进入完成阶段并释放锁
func (c *crawlService) completeLocked(r *crawlRun, reason model.CompletionReason) {
	r.phase = model.PhaseCompleted
	r.reason = reason
	r.looping = false
	visited, shots := r.frontier.visitedCount(), r.shots
	ev := c.progressLocked(r)
	current := c.run == r
	c.mu.Unlock()

	c.logger.Info("爬取完成", zap.String("session", r.id), zap.String("reason", string(reason)),
		zap.Int("visited", visited), zap.Int("screenshots", shots))
	if current {
		c.reporter.publish(ev)
	}
}

func (c *crawlService) progressLocked(r *crawlRun) model.ProgressEvent {
	visited := r.frontier.visitedCount()
	return model.ProgressEvent{Progress: model.Progress{
		SessionID:   r.id,
		Phase:       r.phase,
		Crawled:     visited,
		Screenshots: r.shots,
		Queue:       r.frontier.queueLen(),
		Percent:     progressPercent(visited, r.cfg.MaxPages),
		CurrentURL:  r.currentURL,
		Status:      statusFor(r.phase, r.reason, r.currentURL),
	}}
}

// runSink 把流水线结果写回所属的那一轮爬取
type runSink struct {
	c *crawlService
	r *crawlRun
}

func (s *runSink) policy() link.Policy {
	return s.r.policy
}

// enqueueLinks 已停止的爬取不再扩充队列
func (s *runSink) enqueueLinks(links []string, parentDepth int) int {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.r.phase == model.PhaseStopped {
		return 0
	}
	added := 0
	for _, l := range links {
		if link.Excluded(l, s.r.cfg.ExcludePatterns) {
			continue
		}
		if s.r.frontier.tryEnqueue(l, parentDepth) {
			added++
		}
	}
	return added
}

func (s *runSink) screenshotSaved() {
	s.c.mu.Lock()
	s.r.shots++
	ev := s.c.progressLocked(s.r)
	current := s.c.run == s.r
	s.c.mu.Unlock()
	if current {
		s.c.reporter.publish(ev)
	}
}

func (s *runSink) record(res model.PageResult) {
	s.c.mu.Lock()
	current := s.c.run == s.r
	if !current {
		s.c.mu.Unlock()
		return
	}
	recent := make([]model.PageResult, 0, min(len(s.c.recent)+1, recentPagesCap))
	recent = append(recent, res)
	recent = append(recent, s.c.recent...)
	if len(recent) > recentPagesCap {
		recent = recent[:recentPagesCap]
	}
	s.c.recent = recent
	ev := s.c.progressLocked(s.r)
	ev.Page = &res
	ev.Recent = append([]model.PageResult(nil), recent...)
	s.c.mu.Unlock()

	s.c.reporter.publish(ev)
}
