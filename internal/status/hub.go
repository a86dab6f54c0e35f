package status

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"options-trader/infrastructure/logger"
)

// Kind 状态事件类别
type Kind string

const (
	KindPrice    Kind = "price"    // 最新价格，只进面板
	KindLog      Kind = "log"      // 交易日志行
	KindContract Kind = "contract" // 合约详情
	KindError    Kind = "error"    // 用户可见的错误提示
	KindState    Kind = "state"    // 会话状态变化
)

// Event 一条状态消息
type Event struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Channel 状态输出通道
type Channel interface {
	Send(e Event) error
	Name() string
}

// Observer 丢弃计数，*monitor.Monitor 实现该接口。
type Observer interface {
	RecordStatusDropped()
}

// Config Hub 配置
type Config struct {
	QueueSize      int           // 积压达到该值后价格事件开始丢弃
	PublishTimeout time.Duration // 积压满时价格事件 Publish 最长等待
}

func DefaultConfig() Config {
	return Config{QueueSize: 256, PublishTimeout: 50 * time.Millisecond}
}

// Hub 按发布顺序把事件逐个投递给所有通道，投递在单独协程里完成。
// 只有价格事件可以被丢弃：积压满时最多等待 PublishTimeout。
// 其他事件（日志、错误、状态、合约）总是入队，保证至少投递一次。
type Hub struct {
	cfg      Config
	log      *logger.Logger
	obs      Observer
	mu       sync.RWMutex
	channels []Channel

	qmu     sync.Mutex
	pending []Event
	closed  bool
	space   chan struct{} // 投递协程每取走一批就关闭并替换
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	start   sync.Once
	stop    sync.Once
	dropped atomic.Uint64
}

func NewHub(cfg Config, log *logger.Logger, obs Observer, channels ...Channel) *Hub {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		log:      log,
		obs:      obs,
		channels: channels,
		space:    make(chan struct{}),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// AddChannel 注册通道，之后发布的事件才会投递到它。
func (h *Hub) AddChannel(c Channel) {
	h.mu.Lock()
	h.channels = append(h.channels, c)
	h.mu.Unlock()
}

// Channels 返回已注册通道名称
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.channels))
	for i, c := range h.channels {
		names[i] = c.Name()
	}
	return names
}

// Start 启动投递协程，重复调用无效。
func (h *Hub) Start() {
	h.start.Do(func() { go h.run() })
}

// Close 停止接收新事件，投递完积压事件后返回。
func (h *Hub) Close() {
	h.stop.Do(func() {
		h.qmu.Lock()
		h.closed = true
		h.qmu.Unlock()
		close(h.quit)
		h.signal()
	})
	h.Start()
	<-h.done
}

// Publish 入队一条事件。已关闭，或价格事件等待超时，丢弃并返回 false。
func (h *Hub) Publish(e Event) bool {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	var timer *time.Timer
	for {
		h.qmu.Lock()
		if h.closed {
			h.qmu.Unlock()
			h.drop(e, "closed")
			return false
		}
		if e.Kind != KindPrice || len(h.pending) < h.cfg.QueueSize {
			h.pending = append(h.pending, e)
			h.qmu.Unlock()
			h.signal()
			return true
		}
		space := h.space
		h.qmu.Unlock()

		if timer == nil {
			timer = time.NewTimer(h.cfg.PublishTimeout)
			defer timer.Stop()
		}
		select {
		case <-space:
		case <-h.quit:
		case <-timer.C:
			h.drop(e, "timeout")
			return false
		}
	}
}

// Dropped 返回累计丢弃数量
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) drop(e Event, reason string) {
	h.dropped.Add(1)
	if h.obs != nil {
		h.obs.RecordStatusDropped()
	}
	h.log.Warn("status event dropped",
		zap.String("kind", string(e.Kind)),
		zap.String("reason", reason))
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		h.qmu.Lock()
		batch := h.pending
		h.pending = nil
		closed := h.closed
		if len(batch) > 0 {
			close(h.space)
			h.space = make(chan struct{})
		}
		h.qmu.Unlock()

		for _, e := range batch {
			h.deliver(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-h.wake
	}
}

func (h *Hub) deliver(e Event) {
	h.mu.RLock()
	channels := h.channels
	h.mu.RUnlock()
	for _, c := range channels {
		if err := c.Send(e); err != nil {
			h.log.Error("status channel send failed",
				zap.String("channel", c.Name()),
				zap.String("kind", string(e.Kind)),
				zap.Error(err))
		}
	}
}
