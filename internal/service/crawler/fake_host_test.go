package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/domain/link"
	"github.com/LouYuanbo1/snapsite/internal/infra/crawler/types"
)

// fakePage 脚本化的页面行为;零值表示一个能正常裁剪截图且没有链接的页面
type fakePage struct {
	links         []string
	openErr       error
	loadTimedOut  bool
	metrics       types.LayoutMetrics
	noClipped     bool
	noViewport    bool
	visible       []byte
	extractErr    error
	extractPanics bool
	closeErr      error
	// block 非nil时AwaitLoadComplete会一直等到它被关闭
	block chan struct{}
}

type fakeHost struct {
	mu      sync.Mutex
	pages   map[string]*fakePage
	handles map[string]string
	nextID  int

	opened   []string
	closed   []string
	clips    []types.Rect
	calls    map[string]int
	entered  chan string
	inFlight int
	maxPar   int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		pages:   make(map[string]*fakePage),
		handles: make(map[string]string),
		calls:   make(map[string]int),
		entered: make(chan string, 64),
	}
}

func (f *fakeHost) set(url string, p *fakePage) *fakeHost {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = p
	return f
}

func (f *fakeHost) page(url string) *fakePage {
	if p, ok := f.pages[url]; ok {
		return p
	}
	return &fakePage{}
}

func (f *fakeHost) pageFor(h types.PageHandle) (*fakePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.handles[h.ID]
	if !ok {
		return nil, types.ErrPageGone
	}
	return f.page(url), nil
}

func (f *fakeHost) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeHost) openedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func (f *fakeHost) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

func (f *fakeHost) maxParallel() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPar
}

func (f *fakeHost) OpenPage(ctx context.Context, url string) (types.PageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["open"]++
	f.opened = append(f.opened, url)
	p := f.page(url)
	if p.openErr != nil {
		return types.PageHandle{}, p.openErr
	}
	f.nextID++
	id := fmt.Sprintf("page-%d", f.nextID)
	f.handles[id] = url
	f.inFlight++
	f.maxPar = max(f.maxPar, f.inFlight)
	return types.PageHandle{ID: id, URL: url, WindowID: 1}, nil
}

func (f *fakeHost) ActivatePage(ctx context.Context, h types.PageHandle) error {
	_, err := f.pageFor(h)
	return err
}

func (f *fakeHost) AwaitLoadComplete(ctx context.Context, h types.PageHandle, timeout time.Duration) (bool, error) {
	p, err := f.pageFor(h)
	if err != nil {
		return false, err
	}
	select {
	case f.entered <- h.URL:
	default:
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return p.loadTimedOut, nil
}

func (f *fakeHost) GetLayoutMetrics(ctx context.Context, h types.PageHandle) (types.LayoutMetrics, error) {
	p, err := f.pageFor(h)
	if err != nil {
		return types.LayoutMetrics{}, err
	}
	return p.metrics, nil
}

func (f *fakeHost) CaptureClippedImage(ctx context.Context, h types.PageHandle, clip types.Rect) ([]byte, error) {
	p, err := f.pageFor(h)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls["clipped"]++
	f.clips = append(f.clips, clip)
	f.mu.Unlock()
	if p.noClipped {
		return nil, nil
	}
	return []byte("clipped"), nil
}

func (f *fakeHost) CaptureViewportImage(ctx context.Context, h types.PageHandle) ([]byte, error) {
	p, err := f.pageFor(h)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls["viewport"]++
	f.mu.Unlock()
	if p.noViewport {
		return nil, errors.New("viewport capture unavailable")
	}
	return []byte("viewport"), nil
}

func (f *fakeHost) CaptureVisibleArea(ctx context.Context, w types.WindowHandle) ([]byte, error) {
	p, err := f.pageFor(types.PageHandle{ID: w.PageID})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls["visible"]++
	f.mu.Unlock()
	return p.visible, nil
}

func (f *fakeHost) ExtractLinks(ctx context.Context, h types.PageHandle, policy link.Policy) ([]string, error) {
	p, err := f.pageFor(h)
	if err != nil {
		return nil, err
	}
	if p.extractPanics {
		panic("extract exploded")
	}
	if p.extractErr != nil {
		return nil, p.extractErr
	}
	return link.Filter(p.links, policy), nil
}

func (f *fakeHost) ClosePage(ctx context.Context, h types.PageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.handles[h.ID]
	if !ok {
		return types.ErrPageGone
	}
	delete(f.handles, h.ID)
	f.inFlight--
	f.closed = append(f.closed, url)
	return f.page(url).closeErr
}

func (f *fakeHost) Close() {}
