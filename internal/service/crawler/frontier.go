package crawler

// frontier 已访问集合、FIFO待访问队列与发现深度,只由控制器在持锁时操作
type frontier struct {
	visited   map[string]struct{}
	toVisit   []string
	pending   map[string]struct{}
	urlDepths map[string]int
}

func newFrontier() *frontier {
	return &frontier{
		visited:   make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		urlDepths: make(map[string]int),
	}
}

// reset 清空并以深度0放入起始URL
func (f *frontier) reset(startURL string) {
	f.visited = make(map[string]struct{})
	f.pending = make(map[string]struct{})
	f.urlDepths = make(map[string]int)
	f.toVisit = f.toVisit[:0]
	f.toVisit = append(f.toVisit, startURL)
	f.pending[startURL] = struct{}{}
	f.urlDepths[startURL] = 0
}

func (f *frontier) dequeueNext() (string, bool) {
	if len(f.toVisit) == 0 {
		return "", false
	}
	u := f.toVisit[0]
	f.toVisit[0] = ""
	f.toVisit = f.toVisit[1:]
	delete(f.pending, u)
	return u, true
}

func (f *frontier) markVisited(u string) {
	f.visited[u] = struct{}{}
}

func (f *frontier) isVisited(u string) bool {
	_, ok := f.visited[u]
	return ok
}

// tryEnqueue 已访问或已在队列中时不做任何事;深度只在首次入队时写入
func (f *frontier) tryEnqueue(u string, parentDepth int) bool {
	if _, ok := f.visited[u]; ok {
		return false
	}
	if _, ok := f.pending[u]; ok {
		return false
	}
	f.toVisit = append(f.toVisit, u)
	f.pending[u] = struct{}{}
	if _, ok := f.urlDepths[u]; !ok {
		f.urlDepths[u] = parentDepth + 1
	}
	return true
}

func (f *frontier) depth(u string) int {
	return f.urlDepths[u]
}

func (f *frontier) atCapacity(maxPages int) bool {
	return len(f.visited) >= maxPages
}

func (f *frontier) isEmpty() bool {
	return len(f.toVisit) == 0
}

// clearQueue stop时立即清空待访问队列
func (f *frontier) clearQueue() {
	for _, u := range f.toVisit {
		delete(f.pending, u)
	}
	f.toVisit = nil
}

func (f *frontier) visitedCount() int {
	return len(f.visited)
}

func (f *frontier) queueLen() int {
	return len(f.toVisit)
}
