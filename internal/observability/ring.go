package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	DefaultRingSize    = 100
	DefaultPersistTail = 50
	ringTimeLayout     = "15:04:05.000"
	persistTimeout     = 2 * time.Second
)

// TailStore 持久化日志尾部,供下次启动恢复
type TailStore interface {
	SaveLogTail(ctx context.Context, lines []string) error
	LoadLogTail(ctx context.Context) ([]string, error)
}

// LogRing 最近若干行格式化日志,警告及以上级别时把尾部写入TailStore
type LogRing struct {
	mu    sync.Mutex
	lines []string
	size  int
	tail  int
	store TailStore
}

// NewLogRing store可以为nil
func NewLogRing(size, tail int, store TailStore) *LogRing {
	if size <= 0 {
		size = DefaultRingSize
	}
	if tail <= 0 || tail > size {
		tail = min(DefaultPersistTail, size)
	}
	return &LogRing{size: size, tail: tail, store: store}
}

// Restore 载入上次持久化的尾部,失败时保持为空
func (r *LogRing) Restore(ctx context.Context) {
	if r.store == nil {
		return
	}
	lines, err := r.store.LoadLogTail(ctx)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(lines, r.lines...)
	r.trimLocked()
}

// Lines 旧的在前
func (r *LogRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *LogRing) add(line string, persist bool) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.trimLocked()
	var tail []string
	if persist && r.store != nil {
		tail = append([]string(nil), r.lines[max(0, len(r.lines)-r.tail):]...)
	}
	r.mu.Unlock()

	if tail != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		// 持久化失败不能再写日志,否则会递归
		_ = r.store.SaveLogTail(ctx, tail)
	}
}

func (r *LogRing) trimLocked() {
	if over := len(r.lines) - r.size; over > 0 {
		r.lines = append(r.lines[:0], r.lines[over:]...)
	}
}

// ringCore 把日志格式化为 [HH:MM:SS.mmm] [LEVEL] message {fields} 写入LogRing
type ringCore struct {
	zapcore.LevelEnabler
	ring *LogRing
	enc  zapcore.Encoder
}

func NewRingCore(ring *LogRing, enab zapcore.LevelEnabler) zapcore.Core {
	return &ringCore{LevelEnabler: enab, ring: ring, enc: newFieldsEncoder()}
}

// newFieldsEncoder 只输出字段的JSON编码器
func newFieldsEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		SkipLineEnding: true,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	})
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &ringCore{LevelEnabler: c.LevelEnabler, ring: c.ring, enc: enc}
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	c.ring.add(formatRingLine(ent, buf.String()), ent.Level >= zapcore.WarnLevel)
	return nil
}

func (c *ringCore) Sync() error {
	return nil
}

func formatRingLine(ent zapcore.Entry, fields string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] ", ent.Time.Format(ringTimeLayout), ent.Level.CapitalString())
	if ent.LoggerName != "" {
		b.WriteString(ent.LoggerName)
		b.WriteString(": ")
	}
	b.WriteString(ent.Message)
	if fields != "" && fields != "{}" {
		b.WriteByte(' ')
		b.WriteString(fields)
	}
	return b.String()
}
