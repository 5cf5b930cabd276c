package crawler

import (
	"fmt"
	"sync"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"go.uber.org/zap"
)

const (
	statusMaxURLLen     = 50
	statusInvalidURL    = "Error: Invalid URL"
	statusMaxPagesShown = "Completed (max pages reached)"
)

// ProgressFunc 进度订阅回调;返回的错误只记录日志
type ProgressFunc func(ev model.ProgressEvent) error

// reporter 订阅者列表,推送是尽力而为的
type reporter struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]ProgressFunc
	logger *zap.Logger
}

func newReporter(logger *zap.Logger) *reporter {
	return &reporter{subs: make(map[int]ProgressFunc), logger: logger}
}

func (r *reporter) subscribe(fn ProgressFunc) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *reporter) publish(ev model.ProgressEvent) {
	r.mu.Lock()
	subs := make([]ProgressFunc, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		r.deliver(fn, ev)
	}
}

func (r *reporter) deliver(fn ProgressFunc, ev model.ProgressEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("进度订阅者panic", zap.Any("panic", p))
		}
	}()
	if err := fn(ev); err != nil {
		r.logger.Debug("进度推送失败", zap.Error(err))
	}
}

// progressPercent min(100, 100*visited/maxPages),maxPages<=0时为0
func progressPercent(visited, maxPages int) float64 {
	if maxPages <= 0 {
		return 0
	}
	return min(100, float64(visited)*100/float64(maxPages))
}

func truncateURL(u string, maxLen int) string {
	if len(u) <= maxLen {
		return u
	}
	return u[:maxLen-3] + "..."
}

func statusFor(phase model.Phase, reason model.CompletionReason, currentURL string) string {
	switch phase {
	case model.PhaseIdle:
		return "Idle"
	case model.PhasePaused:
		return "Paused"
	case model.PhaseRunning:
		if currentURL != "" {
			return fmt.Sprintf("Crawling: %s", truncateURL(currentURL, statusMaxURLLen))
		}
		return "Running"
	case model.PhaseCompleted:
		if reason == model.ReasonMaxPagesReached {
			return statusMaxPagesShown
		}
		return "Completed"
	case model.PhaseStopped:
		return "Stopped"
	}
	return string(phase)
}
