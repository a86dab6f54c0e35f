package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"options-trader/gateway"
	"options-trader/infrastructure/logger"
	"options-trader/internal/status"
	"options-trader/market"
	"options-trader/order"
	"options-trader/strategy"
)

// StatusSink 接收会话状态消息，*status.Hub 实现该接口。
type StatusSink interface {
	Publish(e status.Event) bool
}

// Metrics 会话指标，*monitor.Monitor 实现该接口。
type Metrics interface {
	order.Observer
	RecordTick()
	RecordTickDropped()
	RecordTickNoPrice()
	UpdateLastPrice(p float64)
	RecordDecision(action string)
	RecordDecisionSkipped()
	UpdateSessionState(state int)
}

// Config 会话配置
type Config struct {
	Option       market.OptionSpec
	Thresholds   strategy.Thresholds
	TickBuffer   int           // 行情回调到执行协程的缓冲
	PollInterval time.Duration // 订单终态轮询兜底
	DrainTimeout time.Duration // 停止时等待在途订单的上限
}

// Components 会话依赖组件
type Components struct {
	Gateway    gateway.Client
	Status     StatusSink
	Logger     *logger.Logger
	Metrics    Metrics
	MarketData *market.Service
}

// Session 单标的期权阈值交易会话。
//
// 控制侧方法（Connect/Start/Stop/Disconnect/SetThresholds）可以在任意协程调用；
// 行情处理和下单只发生在会话自己的执行协程里。
type Session struct {
	cfg     Config
	gw      gateway.Client
	status  StatusSink
	log     *logger.Logger
	metrics Metrics
	market  *market.Service
	exec    *order.Executor

	thresholds atomic.Pointer[strategy.Thresholds]

	opMu     sync.Mutex // 串行化生命周期操作
	mu       sync.RWMutex
	state    State
	run      *run
	starting *startAttempt
}

// startAttempt 进行中的 Start；Stop 可以在进入 Active 之前中止它。
type startAttempt struct {
	cancel  context.CancelFunc
	aborted bool
}

// run 一次 Active 会话的运行期资源
type run struct {
	params     Params
	underlying market.Contract
	option     market.Contract
	sub        gateway.Subscription

	ticks      chan market.Tick
	ctx        context.Context
	cancel     context.CancelFunc
	workerDone chan struct{}

	orderCtx     context.Context
	cancelOrders context.CancelFunc
	gate         sync.Mutex // 停止请求与下单决策互斥
	inflight     atomic.Bool
	orders       sync.WaitGroup

	stopOnce sync.Once
	cleaned  chan struct{}
}

func New(cfg Config, c Components) (*Session, error) {
	if c.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if c.Status == nil {
		return nil, errors.New("status sink is required")
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = 64
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Option == (market.OptionSpec{}) {
		cfg.Option = market.DefaultOptionSpec()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	if c.MarketData == nil {
		c.MarketData = market.NewService()
	}

	s := &Session{
		cfg:     cfg,
		gw:      c.Gateway,
		status:  c.Status,
		log:     c.Logger,
		metrics: c.Metrics,
		market:  c.MarketData,
		state:   StateDisconnected,
	}
	s.exec = order.NewExecutor(c.Gateway, order.ExecutorConfig{PollInterval: cfg.PollInterval}, c.Metrics)
	th := cfg.Thresholds
	if th == (strategy.Thresholds{}) {
		th = strategy.DefaultThresholds()
	}
	s.thresholds.Store(&th)
	s.metrics.UpdateSessionState(int(StateDisconnected))
	return s, nil
}

// State 返回当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Thresholds 返回当前阈值
func (s *Session) Thresholds() strategy.Thresholds {
	return *s.thresholds.Load()
}

// SetThresholds 原子替换阈值，下一笔 tick 起生效。
func (s *Session) SetThresholds(t strategy.Thresholds) {
	s.thresholds.Store(&t)
	s.log.LogSession("thresholds_updated", map[string]interface{}{
		"buy":  t.Buy,
		"sell": t.Sell,
	})
}

// Option 返回当前会话的已确认期权合约，没有运行中的会话时返回 false。
func (s *Session) Option() (market.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return market.Contract{}, false
	}
	return s.run.option, true
}

// Params 返回当前会话参数
func (s *Session) Params() (Params, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return Params{}, false
	}
	return s.run.params, true
}

// LastPrice 最近一笔有效成交价
func (s *Session) LastPrice() (float64, bool) {
	p, ok := s.Params()
	if !ok {
		return 0, false
	}
	return s.market.Last(p.Symbol)
}

// Connect 连接网关。非 Disconnected 状态下调用无效。
func (s *Session) Connect(ctx context.Context, host string, port, clientID int) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.State() != StateDisconnected {
		return nil
	}
	if err := s.gw.Connect(ctx, host, port, clientID); err != nil {
		s.publish(status.KindError, "Connection failed: %v", err)
		s.log.LogError(err, map[string]interface{}{"host": host, "port": port, "client_id": clientID})
		return err
	}
	s.setState(StateConnected)
	s.publish(status.KindState, "Connected to IB Gateway!")
	return nil
}

// Disconnect 停止运行中的会话并断开网关。在途订单最多等待到 ctx 结束，
// 调用方应先 Stop 再 WaitStopped，避免在控制协程上等待。
func (s *Session) Disconnect(ctx context.Context) error {
	s.abortStart()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.State() == StateDisconnected {
		return nil
	}
	s.mu.RLock()
	r := s.run
	s.mu.RUnlock()
	if r != nil {
		s.stopRun(r, "disconnect")
		select {
		case <-r.cleaned:
		case <-ctx.Done():
			r.cancelOrders()
			<-r.cleaned
		}
	}
	err := s.gw.Disconnect()
	s.setState(StateDisconnected)
	s.publish(status.KindState, "Disconnected")
	return err
}

// Start 确认合约、订阅行情并进入 Active。合约确认期间可以被 Stop 中止，
// 此时返回 ErrStartAborted。
func (s *Session) Start(ctx context.Context, p Params) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	at := &startAttempt{cancel: cancel}
	s.mu.Lock()
	if s.starting != nil {
		s.mu.Unlock()
		return ErrAlreadyTrading
	}
	s.starting = at
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.starting == at {
			s.starting = nil
		}
		s.mu.Unlock()
	}()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.State() {
	case StateDisconnected:
		return ErrNotConnected
	case StateActive:
		return ErrAlreadyTrading
	case StateStopping:
		return ErrStopping
	}
	if err := p.Validate(); err != nil {
		return err
	}

	underlying, err := s.gw.Qualify(ctx, s.cfg.Option.Stock(p.Symbol))
	if err != nil {
		return s.startFailed(at, err)
	}
	s.logQualified(underlying)

	opt, err := s.gw.Qualify(ctx, s.cfg.Option.Option(p.Symbol, p.Expiration, p.ContractSize))
	if err != nil {
		return s.startFailed(at, err)
	}
	s.logQualified(opt)
	p.Symbol = underlying.Symbol
	s.publishContract(ctx, opt, p.ContractSize)

	r := s.newRun(p, underlying, opt)
	sub, err := s.gw.SubscribeTicks(ctx, underlying, r.offer(s.metrics))
	if err != nil {
		r.cancel()
		r.cancelOrders()
		return s.startFailed(at, err)
	}
	r.sub = sub

	s.mu.Lock()
	if at.aborted {
		s.mu.Unlock()
		r.cancel()
		r.cancelOrders()
		if err := s.gw.Unsubscribe(sub); err != nil {
			s.log.Warn("unsubscribe failed", zap.Error(err))
		}
		return s.startAborted()
	}
	s.run = r
	from := s.state
	s.state = StateActive
	s.mu.Unlock()
	s.stateChanged(from, StateActive)

	go s.worker(r)

	s.log.LogSession("trading_started", map[string]interface{}{
		"symbol":       p.Symbol,
		"expiration":   opt.Expiration,
		"contractSize": p.ContractSize,
	})
	s.publish(status.KindState, "Trading started for stock: %s.", p.Symbol)
	return nil
}

func (s *Session) startFailed(at *startAttempt, err error) error {
	s.mu.RLock()
	aborted := at.aborted
	s.mu.RUnlock()
	if aborted {
		return s.startAborted()
	}
	s.publish(status.KindError, "Trading error: %v", err)
	s.log.LogError(err, map[string]interface{}{"op": "start"})
	return err
}

func (s *Session) startAborted() error {
	s.log.Info("start aborted by stop request")
	s.publish(status.KindState, "Trading stopped.")
	return ErrStartAborted
}

// abortStart 中止进行中的 Start，返回是否存在这样的 Start。
func (s *Session) abortStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting == nil || s.run != nil {
		return false
	}
	s.starting.aborted = true
	s.starting.cancel()
	return true
}

func (s *Session) logQualified(c market.Contract) {
	s.log.LogSession("contract_qualified", map[string]interface{}{
		"symbol":  c.Symbol,
		"conId":   c.ConID,
		"secType": string(c.SecType),
	})
}

func (s *Session) publishContract(ctx context.Context, opt market.Contract, size int) {
	details, err := s.gw.ContractDetails(ctx, opt)
	if err != nil {
		s.log.Warn("contract details failed", zap.Error(err))
	}
	if err != nil || details == nil {
		s.publish(status.KindContract, "Unable to retrieve contract details.")
		return
	}
	s.publish(status.KindContract, "%s", market.Describe(opt, size))
}

func (s *Session) newRun(p Params, underlying, opt market.Contract) *run {
	ctx, cancel := context.WithCancel(context.Background())
	orderCtx, cancelOrders := context.WithCancel(context.Background())
	return &run{
		params:       p,
		underlying:   underlying,
		option:       opt,
		ticks:        make(chan market.Tick, s.cfg.TickBuffer),
		ctx:          ctx,
		cancel:       cancel,
		workerDone:   make(chan struct{}),
		orderCtx:     orderCtx,
		cancelOrders: cancelOrders,
		cleaned:      make(chan struct{}),
	}
}

// offer 返回行情回调，回调永不阻塞，缓冲满时丢弃。
func (r *run) offer(m Metrics) func(market.Tick) {
	return func(t market.Tick) {
		select {
		case r.ticks <- t:
		default:
			m.RecordTickDropped()
		}
	}
}

// Stop 请求停止交易并立即返回；清理在后台完成，WaitStopped 可等待。
// 进行中的 Start 会被中止；其他非 Active 状态下调用无效。
func (s *Session) Stop() error {
	if s.abortStart() {
		return nil
	}
	s.mu.RLock()
	r := s.run
	st := s.state
	s.mu.RUnlock()
	if r == nil || st != StateActive {
		return nil
	}
	s.stopRun(r, "requested")
	return nil
}

// WaitStopped 等待最近一次停止的清理完成。
func (s *Session) WaitStopped(ctx context.Context) error {
	s.mu.RLock()
	r := s.run
	s.mu.RUnlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.cleaned:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) stopRun(r *run, reason string) {
	r.stopOnce.Do(func() {
		s.mu.Lock()
		if s.run != r {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.setState(StateStopping)
		s.log.Info("stopping trading", zap.String("symbol", r.params.Symbol), zap.String("reason", reason))

		// 先关闭决策闸门，退订期间到达的 tick 不再下单
		r.gate.Lock()
		r.cancel()
		r.gate.Unlock()

		if r.sub != nil {
			if err := s.gw.Unsubscribe(r.sub); err != nil {
				s.log.Warn("unsubscribe failed", zap.Error(err))
			}
		}
		go s.cleanup(r)
	})
}

// cleanup 等待执行协程和在途订单结束后回到 Connected。
func (s *Session) cleanup(r *run) {
	<-r.workerDone

	drained := make(chan struct{})
	go func() {
		r.orders.Wait()
		close(drained)
	}()
	timer := time.NewTimer(s.cfg.DrainTimeout)
	select {
	case <-drained:
	case <-timer.C:
		s.log.Warn("in-flight order still pending, abandoning wait",
			zap.String("symbol", r.params.Symbol),
			zap.Duration("timeout", s.cfg.DrainTimeout))
		r.cancelOrders()
		<-drained
	}
	timer.Stop()
	r.cancelOrders()

	s.market.Reset(r.underlying.Symbol)
	s.publish(status.KindState, "Trading stopped.")

	s.mu.Lock()
	if s.run == r {
		s.run = nil
	}
	from := s.state
	if from == StateStopping {
		s.state = StateConnected
	}
	s.mu.Unlock()
	if from == StateStopping {
		s.stateChanged(from, StateConnected)
	}
	close(r.cleaned)
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.stateChanged(from, to)
}

func (s *Session) stateChanged(from, to State) {
	if from == to {
		return
	}
	s.metrics.UpdateSessionState(int(to))
	s.log.LogSession("state_change", map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (s *Session) publish(kind status.Kind, format string, args ...interface{}) {
	s.status.Publish(status.Event{Kind: kind, Message: fmt.Sprintf(format, args...), Time: time.Now()})
}

type nopMetrics struct{}

func (nopMetrics) RecordOrderSubmitted(string)          {}
func (nopMetrics) RecordOrderCompleted(string, float64) {}
func (nopMetrics) RecordTick()                          {}
func (nopMetrics) RecordTickDropped()                   {}
func (nopMetrics) RecordTickNoPrice()                   {}
func (nopMetrics) UpdateLastPrice(float64)              {}
func (nopMetrics) RecordDecision(string)                {}
func (nopMetrics) RecordDecisionSkipped()               {}
func (nopMetrics) UpdateSessionState(int)               {}
