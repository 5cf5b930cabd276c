package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T) StateStore {
	t.Helper()
	s, err := InitStateStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecentPagesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.LoadRecentPages(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	ts := time.Date(2024, 5, 1, 8, 30, 0, 123, time.UTC)
	pages := []model.PageResult{
		{URL: "https://a.test/p1", Success: false, Timestamp: ts.Add(time.Second)},
		{URL: "https://a.test/", Success: true, Timestamp: ts, Screenshot: "/out/screenshots/x_index.png"},
	}
	require.NoError(t, s.SaveRecentPages(ctx, pages))
	got, err := s.LoadRecentPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, pages, got)

	require.NoError(t, s.SaveRecentPages(ctx, pages[1:]))
	got, err = s.LoadRecentPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, pages[1:], got)

	require.NoError(t, s.ClearRecentPages(ctx))
	got, err = s.LoadRecentPages(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLogTailSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := InitStateStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveLogTail(ctx, []string{"[10:00:00.000] [INFO] a", "[10:00:01.000] [WARN] b"}))
	require.NoError(t, s.SaveLogTail(ctx, []string{"[10:00:02.000] [ERROR] c"}))
	require.NoError(t, s.Close())

	s, err = InitStateStore(path)
	require.NoError(t, err)
	defer s.Close()
	lines, err := s.LoadLogTail(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"[10:00:02.000] [ERROR] c"}, lines)
}

type failingStore struct {
	StateStore
	saved   [][]model.PageResult
	cleared int
	err     error
}

func (f *failingStore) SaveRecentPages(ctx context.Context, pages []model.PageResult) error {
	f.saved = append(f.saved, pages)
	return f.err
}

func (f *failingStore) ClearRecentPages(ctx context.Context) error {
	f.cleared++
	return f.err
}

func TestRecentPagesSubscriber(t *testing.T) {
	store := &failingStore{}
	sub := RecentPagesSubscriber(store, zaptest.NewLogger(t))

	page := model.PageResult{URL: "https://a.test/", Success: true}
	require.NoError(t, sub(model.ProgressEvent{Progress: model.Progress{Status: "Running"}}))
	require.NoError(t, sub(model.ProgressEvent{Page: &page, Recent: []model.PageResult{page}}))
	require.NoError(t, sub(model.ProgressEvent{RecentCleared: true, Recent: []model.PageResult{}}))

	assert.Equal(t, [][]model.PageResult{{page}}, store.saved)
	assert.Equal(t, 1, store.cleared)

	store.err = errors.New("disk full")
	assert.Error(t, sub(model.ProgressEvent{Page: &page, Recent: []model.PageResult{page}}))
}
