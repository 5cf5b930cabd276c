package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/es"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClient struct {
	es.TypedEsClient[*model.PageDoc]
	mu        sync.Mutex
	createErr error
	bulkErr   error
	batches   [][]*model.PageDoc
}

func (f *fakeClient) CreateIndexWithMapping(ctx context.Context) error {
	return f.createErr
}

func (f *fakeClient) BulkIndexDocsWithID(ctx context.Context, docs []*model.PageDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]*model.PageDoc(nil), docs...))
	return f.bulkErr
}

func (f *fakeClient) indexed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var urls []string
	for _, b := range f.batches {
		for _, d := range b {
			urls = append(urls, d.URL)
		}
	}
	return urls
}

func pageEvent(session, url string) model.ProgressEvent {
	return model.ProgressEvent{
		Progress: model.Progress{SessionID: session},
		Page:     &model.PageResult{URL: url, Success: true, Timestamp: time.Now()},
	}
}

func TestBatchesBySizeAndFlushesOnExit(t *testing.T) {
	client := &fakeClient{}
	svc := InitIndexService(client, 2, time.Hour, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.NoError(t, svc.Observe(model.ProgressEvent{Progress: model.Progress{Status: "Running"}}))
	for _, u := range []string{"https://a.test/", "https://a.test/1", "https://a.test/2"} {
		require.NoError(t, svc.Observe(pageEvent("s1", u)))
	}
	require.Eventually(t, func() bool { return len(client.indexed()) == 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"https://a.test/", "https://a.test/1", "https://a.test/2"}, client.indexed())

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.batches, 2)
	doc := client.batches[0][0]
	assert.Equal(t, "s1", doc.SessionID)
	assert.Equal(t, "a.test", doc.Host)
	assert.Equal(t, model.NewPageDoc("s1", "a.test", model.PageResult{URL: "https://a.test/"}).ID, doc.ID)
}

func TestFlushesOnInterval(t *testing.T) {
	client := &fakeClient{bulkErr: errors.New("cluster red")}
	svc := InitIndexService(client, 100, 10*time.Millisecond, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.NoError(t, svc.Observe(pageEvent("s1", "https://a.test/")))
	require.Eventually(t, func() bool { return len(client.indexed()) == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunFailsWhenIndexCannotBeCreated(t *testing.T) {
	client := &fakeClient{createErr: errors.New("unauthorized")}
	svc := InitIndexService(client, 1, time.Second, zaptest.NewLogger(t))
	assert.EqualError(t, svc.Run(context.Background()), "unauthorized")
}

func TestObserveDropsWhenQueueFull(t *testing.T) {
	svc := InitIndexService(&fakeClient{}, 1, time.Second, zaptest.NewLogger(t))
	for range 4 {
		require.NoError(t, svc.Observe(pageEvent("s1", "https://a.test/")))
	}
	assert.ErrorIs(t, svc.Observe(pageEvent("s1", "https://a.test/")), ErrQueueFull)
}
