package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontierFIFOAndDedupe(t *testing.T) {
	f := newFrontier()
	f.reset("https://a.test/")

	assert.False(t, f.tryEnqueue("https://a.test/", 0), "start URL is already pending")
	assert.True(t, f.tryEnqueue("https://a.test/1", 0))
	assert.True(t, f.tryEnqueue("https://a.test/2", 0))
	assert.False(t, f.tryEnqueue("https://a.test/1", 3))
	assert.Equal(t, 3, f.queueLen())

	u, ok := f.dequeueNext()
	require.True(t, ok)
	assert.Equal(t, "https://a.test/", u)
	f.markVisited(u)
	assert.False(t, f.tryEnqueue("https://a.test/", 1), "visited URLs are never queued again")

	u, _ = f.dequeueNext()
	assert.Equal(t, "https://a.test/1", u)
	assert.Equal(t, 1, f.depth(u))
	u, _ = f.dequeueNext()
	assert.Equal(t, "https://a.test/2", u)

	_, ok = f.dequeueNext()
	assert.False(t, ok)
	assert.True(t, f.isEmpty())
}

func TestFrontierDepthWrittenOnce(t *testing.T) {
	f := newFrontier()
	f.reset("https://a.test/")
	require.True(t, f.tryEnqueue("https://a.test/deep", 4))
	u, _ := f.dequeueNext()
	require.Equal(t, "https://a.test/", u)
	u, _ = f.dequeueNext()
	require.Equal(t, "https://a.test/deep", u)

	// 出队后未标记访问时可以再次入队,但深度保持首次发现的值
	require.True(t, f.tryEnqueue("https://a.test/deep", 0))
	assert.Equal(t, 5, f.depth("https://a.test/deep"))
	assert.Equal(t, 0, f.depth("https://a.test/"))
}

func TestFrontierCapacityAndClear(t *testing.T) {
	f := newFrontier()
	f.reset("https://a.test/")
	f.tryEnqueue("https://a.test/a", 0)
	f.tryEnqueue("https://a.test/b", 0)

	u, _ := f.dequeueNext()
	f.markVisited(u)
	assert.False(t, f.atCapacity(2))
	assert.True(t, f.atCapacity(1))
	assert.True(t, f.atCapacity(0))

	f.clearQueue()
	assert.Equal(t, 0, f.queueLen())
	assert.Equal(t, 1, f.visitedCount())
	assert.True(t, f.tryEnqueue("https://a.test/a", 0), "cleared entries are no longer pending")

	f.reset("https://b.test/")
	assert.Equal(t, 0, f.visitedCount())
	assert.Equal(t, 1, f.queueLen())
	assert.False(t, f.isVisited("https://a.test/"))
}
