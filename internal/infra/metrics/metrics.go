// Package metrics 把爬取进度导出为Prometheus指标
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "snapsite"

type CrawlMetrics struct {
	registry    *prometheus.Registry
	crawled     prometheus.Gauge
	screenshots prometheus.Gauge
	queue       prometheus.Gauge
	percent     prometheus.Gauge
	results     *prometheus.CounterVec
}

// InitCrawlMetrics 使用独立的registry,附带进程与Go运行时指标
func InitCrawlMetrics() *CrawlMetrics {
	registry := prometheus.NewRegistry()
	m := &CrawlMetrics{
		registry: registry,
		crawled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pages_crawled",
			Help: "当前爬取已访问的页面数",
		}),
		screenshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "screenshots_total",
			Help: "当前爬取已保存的截图数",
		}),
		queue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_length",
			Help: "待访问队列长度",
		}),
		percent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "progress_percent",
			Help: "按页数上限计算的进度",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "page_results_total",
			Help: "页面处理结果",
		}, []string{"success"}),
	}
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.crawled, m.screenshots, m.queue, m.percent, m.results,
	)
	return m
}

// Observe 进度订阅者
func (m *CrawlMetrics) Observe(ev model.ProgressEvent) error {
	m.crawled.Set(float64(ev.Progress.Crawled))
	m.screenshots.Set(float64(ev.Progress.Screenshots))
	m.queue.Set(float64(ev.Progress.Queue))
	m.percent.Set(ev.Progress.Percent)
	if ev.Page != nil {
		m.results.WithLabelValues(strconv.FormatBool(ev.Page.Success)).Inc()
	}
	return nil
}

func (m *CrawlMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *CrawlMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在addr上提供/metrics,ctx取消后优雅退出
func (m *CrawlMetrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("指标服务已启动", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
