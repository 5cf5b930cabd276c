package observability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type memTailStore struct {
	mu      sync.Mutex
	saved   [][]string
	loaded  []string
	loadErr error
	saveErr error
}

func (m *memTailStore) SaveLogTail(ctx context.Context, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, lines)
	return m.saveErr
}

func (m *memTailStore) LoadLogTail(ctx context.Context) ([]string, error) {
	return m.loaded, m.loadErr
}

func (m *memTailStore) last() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil
	}
	return m.saved[len(m.saved)-1]
}

func TestInitializeWritesConsoleFileAndRing(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "snapsite.log")
	ring := NewLogRing(10, 5, nil)
	Initialize(config.LoggerConfig{
		ServiceName: "snapsite",
		Level:       "debug",
		Format:      "json",
		LogFile:     logFile,
		MaxSize:     1,
	}, zapcore.AddSync(&buf), ring)

	GetLogger().Named("crawler").Info("爬取开始", zap.String("url", "https://a.test/"))
	Sync()

	assert.Contains(t, buf.String(), `"msg":"爬取开始"`)
	assert.Contains(t, buf.String(), `"logger":"snapsite.crawler"`)
	lines := ring.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `[INFO] snapsite.crawler: 爬取开始 {"url":"https://a.test/"}`)

	// 第二次Initialize不生效
	var other bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info"}, zapcore.AddSync(&other), nil)
	GetLogger().Info("again")
	assert.Empty(t, other.String())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{Level: "loud", Format: "console"}, zapcore.AddSync(&buf), nil)
	GetLogger().Debug("hidden")
	GetLogger().Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}

func TestRingKeepsNewestLines(t *testing.T) {
	ring := NewLogRing(3, 2, nil)
	logger := zap.New(NewRingCore(ring, zapcore.DebugLevel))
	for i := range 5 {
		logger.Info(fmt.Sprintf("line %d", i))
	}
	lines := ring.Lines()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "line 2")
	assert.Contains(t, lines[2], "line 4")
}

func TestRingLineFormat(t *testing.T) {
	ent := zapcore.Entry{
		Level:   zapcore.WarnLevel,
		Time:    time.Date(2024, 1, 1, 9, 5, 7, 42*int(time.Millisecond), time.Local),
		Message: "页面加载超时,继续处理",
	}
	assert.Equal(t, "[09:05:07.042] [WARN] 页面加载超时,继续处理", formatRingLine(ent, "{}"))
	assert.Equal(t, `[09:05:07.042] [WARN] 页面加载超时,继续处理 {"timeout":"30s"}`, formatRingLine(ent, `{"timeout":"30s"}`))
}

func TestRingPersistsTailOnWarn(t *testing.T) {
	store := &memTailStore{}
	ring := NewLogRing(100, 2, store)
	logger := zap.New(NewRingCore(ring, zapcore.InfoLevel)).With(zap.String("session", "s1"))

	logger.Info("a")
	logger.Info("b")
	assert.Nil(t, store.last(), "info lines are not persisted")

	logger.Warn("c")
	tail := store.last()
	require.Len(t, tail, 2)
	assert.Contains(t, tail[0], "[INFO] b")
	assert.Contains(t, tail[1], `[WARN] c {"session":"s1"}`)

	store.saveErr = errors.New("locked")
	logger.Error("d")
	assert.Len(t, ring.Lines(), 4)
}

func TestRingRestore(t *testing.T) {
	store := &memTailStore{loaded: []string{"old 1", "old 2"}}
	ring := NewLogRing(3, 2, store)
	ring.Restore(context.Background())
	zap.New(NewRingCore(ring, zapcore.InfoLevel)).Info("new")

	lines := ring.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "old 1", lines[0])
	assert.Contains(t, lines[2], "new")

	failing := NewLogRing(3, 2, &memTailStore{loadErr: errors.New("no table")})
	failing.Restore(context.Background())
	assert.Empty(t, failing.Lines())
}
