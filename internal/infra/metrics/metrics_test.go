package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestObserveUpdatesGauges(t *testing.T) {
	m := InitCrawlMetrics()
	ok := model.PageResult{URL: "https://a.test/", Success: true}
	failed := model.PageResult{URL: "https://a.test/x", Success: false}

	require.NoError(t, m.Observe(model.ProgressEvent{Progress: model.Progress{Crawled: 1, Screenshots: 1, Queue: 4, Percent: 10}, Page: &ok}))
	require.NoError(t, m.Observe(model.ProgressEvent{Progress: model.Progress{Crawled: 2, Screenshots: 1, Queue: 3, Percent: 20}, Page: &failed}))
	require.NoError(t, m.Observe(model.ProgressEvent{Progress: model.Progress{Crawled: 2, Screenshots: 1, Queue: 0, Percent: 20}}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.crawled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.screenshots))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queue))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.percent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("false")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := InitCrawlMetrics()
	require.NoError(t, m.Observe(model.ProgressEvent{Progress: model.Progress{Crawled: 3}}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "snapsite_pages_crawled 3")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	m := InitCrawlMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, addr, zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "snapsite_queue_length")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
