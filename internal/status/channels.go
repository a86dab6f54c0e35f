package status

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"options-trader/infrastructure/logger"
)

// LoggerChannel 把状态消息写入 zap 日志
type LoggerChannel struct {
	log *logger.Logger
}

func NewLoggerChannel(log *logger.Logger) *LoggerChannel {
	return &LoggerChannel{log: log}
}

func (c *LoggerChannel) Send(e Event) error {
	fields := []zap.Field{zap.String("kind", string(e.Kind)), zap.String("message", e.Message)}
	switch e.Kind {
	case KindPrice:
		c.log.Debug("status", fields...)
	case KindError:
		c.log.Warn("status", fields...)
	default:
		c.log.Info("status", fields...)
	}
	return nil
}

func (c *LoggerChannel) Name() string { return "logger" }

const (
	dailyFileLayout = "2006-01-02"
	dailyLineLayout = "2006-01-02 15:04:05"
)

// DailyFileChannel 按日期追加写入 <dir>/<YYYY-MM-DD>.txt。
// 价格事件不落盘。
type DailyFileChannel struct {
	dir   string
	kinds map[Kind]bool

	mu   sync.Mutex
	day  string
	file *os.File
}

func NewDailyFileChannel(dir string) *DailyFileChannel {
	return &DailyFileChannel{
		dir:   dir,
		kinds: map[Kind]bool{KindLog: true, KindError: true, KindState: true},
	}
}

func (c *DailyFileChannel) Send(e Event) error {
	if !c.kinds[e.Kind] {
		return nil
	}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.rotate(ts.Format(dailyFileLayout)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.file, "[%s] %s\n", ts.Format(dailyLineLayout), e.Message)
	return err
}

func (c *DailyFileChannel) rotate(day string) error {
	if c.file != nil && c.day == day {
		return nil
	}
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.Path(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	c.file = f
	c.day = day
	return nil
}

// Path 返回某天的日志文件路径
func (c *DailyFileChannel) Path(day string) string {
	return filepath.Join(c.dir, day+".txt")
}

func (c *DailyFileChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func (c *DailyFileChannel) Name() string { return "daily_file" }

// Ring 保留最近的事件，供 API 查询和测试断言。
type Ring struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{events: make([]Event, size)}
}

func (r *Ring) Send(e Event) error {
	r.mu.Lock()
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return nil
}

func (r *Ring) Name() string { return "ring" }

// Recent 按时间顺序返回最近 n 条事件，n<=0 返回全部。
func (r *Ring) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []Event
	if r.full {
		all = append(all, r.events[r.next:]...)
	}
	all = append(all, r.events[:r.next]...)
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Messages 返回最近事件中指定类别的消息文本。
func (r *Ring) Messages(kind Kind) []string {
	var out []string
	for _, e := range r.Recent(0) {
		if e.Kind == kind {
			out = append(out, e.Message)
		}
	}
	return out
}

// FuncChannel 把事件交给任意函数，面板通道用它投递到控制协程。
type FuncChannel struct {
	name string
	fn   func(Event)
}

func NewFuncChannel(name string, fn func(Event)) *FuncChannel {
	return &FuncChannel{name: name, fn: fn}
}

func (c *FuncChannel) Send(e Event) error {
	c.fn(e)
	return nil
}

func (c *FuncChannel) Name() string { return c.name }
