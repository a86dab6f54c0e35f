package control

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"options-trader/infrastructure/logger"
	"options-trader/internal/session"
	"options-trader/internal/status"
	"options-trader/market"
	"options-trader/strategy"
)

const (
	MsgMissingFields     = "Please enter all required fields: Symbol, Expiration, and Contract Size."
	MsgInvalidSize       = "Contract size must be a valid number."
	MsgInvalidThresholds = "Please enter valid numeric values for thresholds."
	MsgParamsUpdated     = "Parameters updated successfully!"
	MsgInvertedWarning   = "Buy threshold is not below sell threshold; BUY takes precedence."
)

// ValidationError 用户输入无法解析，未改变任何状态。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation 判断是否是输入校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Trader 控制器依赖的会话能力，*session.Session 实现该接口。
type Trader interface {
	Connect(ctx context.Context, host string, port, clientID int) error
	Disconnect(ctx context.Context) error
	Start(ctx context.Context, p session.Params) error
	Stop() error
	WaitStopped(ctx context.Context) error
	SetThresholds(t strategy.Thresholds)
	Thresholds() strategy.Thresholds
	State() session.State
	Params() (session.Params, bool)
	Option() (market.Contract, bool)
	LastPrice() (float64, bool)
}

// StatusSink 接收控制侧提示，*status.Hub 实现该接口。
type StatusSink interface {
	Publish(e status.Event) bool
}

// GatewayAddr 网关地址
type GatewayAddr struct {
	Host     string
	Port     int
	ClientID int
}

// Panel 控制域持有的面板文本，只在调度协程里修改。
type Panel struct {
	Status   string
	Contract string
	Price    string
	Notice   string
	Updated  time.Time
}

// Snapshot 面板和会话的只读视图
type Snapshot struct {
	State         string   `json:"state"`
	Symbol        string   `json:"symbol,omitempty"`
	Expiration    string   `json:"expiration,omitempty"`
	ContractSize  int      `json:"contractSize,omitempty"`
	ConID         int64    `json:"conId,omitempty"`
	BuyThreshold  float64  `json:"buyThreshold"`
	SellThreshold float64  `json:"sellThreshold"`
	LastPrice     *float64 `json:"lastPrice,omitempty"`
	Status        string   `json:"status"`
	Contract      string   `json:"contract"`
	Price         string   `json:"price"`
	Notice        string   `json:"notice"`
}

// Controller 解析控制输入并在调度协程里驱动会话。
// 合约确认和在途订单等待这类网关往返不占用调度协程。
type Controller struct {
	d      *Dispatcher
	trader Trader
	status StatusSink
	addr   GatewayAddr
	log    *logger.Logger
	panel  Panel
}

func NewController(d *Dispatcher, trader Trader, sink StatusSink, addr GatewayAddr, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{
		d:      d,
		trader: trader,
		status: sink,
		addr:   addr,
		log:    log,
		panel:  Panel{Status: "Not Connected"},
	}
}

// PanelChannel 返回把状态事件投递到面板的通道。
func (c *Controller) PanelChannel() status.Channel {
	return status.NewFuncChannel("panel", func(e status.Event) {
		c.d.Post(func() { c.applyEvent(e) })
	})
}

func (c *Controller) applyEvent(e status.Event) {
	switch e.Kind {
	case status.KindPrice:
		c.panel.Price = e.Message
	case status.KindContract:
		c.panel.Contract = e.Message
	case status.KindError:
		c.panel.Notice = e.Message
		c.panel.Status = e.Message
	default:
		c.panel.Status = e.Message
	}
	c.panel.Updated = e.Time
}

// Connect 连接配置中的网关地址
func (c *Controller) Connect(ctx context.Context) error {
	return c.d.Do(ctx, func() error {
		return c.trader.Connect(ctx, c.addr.Host, c.addr.Port, c.addr.ClientID)
	})
}

// Disconnect 停止交易并断开网关。在途订单在调度协程之外等待，
// ctx 结束时放弃等待，照常断开。
func (c *Controller) Disconnect(ctx context.Context) error {
	if err := c.d.Do(ctx, c.trader.Stop); err != nil {
		return err
	}
	if err := c.trader.WaitStopped(ctx); err != nil {
		c.log.Warn("disconnecting before in-flight order completed", zap.Error(err))
	}
	return c.d.Do(context.WithoutCancel(ctx), func() error { return c.trader.Disconnect(ctx) })
}

// StartTrading 校验输入后启动会话
func (c *Controller) StartTrading(ctx context.Context, symbol, expiration, sizeText string) error {
	p, err := ParseStartParams(symbol, expiration, sizeText)
	if err != nil {
		c.notice(err)
		return err
	}
	// 会话自身串行化启动，这里不经过调度协程；StopTrading 可以中止它。
	return c.trader.Start(ctx, p)
}

// StopTrading 请求停止，清理在后台完成。
func (c *Controller) StopTrading(ctx context.Context) error {
	return c.d.Do(ctx, func() error { return c.trader.Stop() })
}

// SetParameters 解析并发布新的阈值
func (c *Controller) SetParameters(ctx context.Context, buyText, sellText string) error {
	t, err := ParseThresholds(buyText, sellText)
	if err != nil {
		c.notice(err)
		return err
	}
	return c.d.Do(ctx, func() error {
		c.applyThresholds(t)
		return nil
	})
}

// ApplyThresholds 由配置热加载调用，在调度协程里异步生效。
func (c *Controller) ApplyThresholds(t strategy.Thresholds) {
	c.d.Post(func() { c.applyThresholds(t) })
}

func (c *Controller) applyThresholds(t strategy.Thresholds) {
	c.trader.SetThresholds(t)
	c.publish(status.KindLog, MsgParamsUpdated)
	if t.Inverted() {
		c.log.Warn("inverted thresholds", zap.Float64("buy", t.Buy), zap.Float64("sell", t.Sell))
		c.publish(status.KindError, MsgInvertedWarning)
	}
}

// Snapshot 在调度协程里读取面板和会话
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.d.Do(ctx, func() error {
		snap = c.snapshot()
		return nil
	})
	return snap, err
}

func (c *Controller) snapshot() Snapshot {
	th := c.trader.Thresholds()
	snap := Snapshot{
		State:         c.trader.State().String(),
		BuyThreshold:  th.Buy,
		SellThreshold: th.Sell,
		Status:        c.panel.Status,
		Contract:      c.panel.Contract,
		Price:         c.panel.Price,
		Notice:        c.panel.Notice,
	}
	if p, ok := c.trader.Params(); ok {
		snap.Symbol = p.Symbol
		snap.Expiration = p.Expiration
		snap.ContractSize = p.ContractSize
	}
	if opt, ok := c.trader.Option(); ok {
		snap.Expiration = opt.Expiration
		snap.ConID = opt.ConID
	}
	if last, ok := c.trader.LastPrice(); ok {
		snap.LastPrice = &last
	}
	return snap
}

func (c *Controller) notice(err error) {
	c.publish(status.KindError, err.Error())
}

func (c *Controller) publish(kind status.Kind, msg string) {
	if c.status == nil {
		return
	}
	c.status.Publish(status.Event{Kind: kind, Message: msg, Time: time.Now()})
}

// ParseStartParams 校验启动输入：三项必填，合约数量必须是正整数。
func ParseStartParams(symbol, expiration, sizeText string) (session.Params, error) {
	symbol = strings.TrimSpace(symbol)
	expiration = strings.TrimSpace(expiration)
	sizeText = strings.TrimSpace(sizeText)
	if symbol == "" || expiration == "" || sizeText == "" {
		return session.Params{}, &ValidationError{Field: "params", Message: MsgMissingFields}
	}
	size, err := strconv.Atoi(sizeText)
	if err != nil || size <= 0 {
		return session.Params{}, &ValidationError{Field: "contractSize", Message: MsgInvalidSize}
	}
	return session.Params{Symbol: symbol, Expiration: expiration, ContractSize: size}, nil
}

// ParseThresholds 解析买卖阈值。不检查顺序。
func ParseThresholds(buyText, sellText string) (strategy.Thresholds, error) {
	buy, err := decimal.NewFromString(strings.TrimSpace(buyText))
	if err != nil {
		return strategy.Thresholds{}, &ValidationError{Field: "buy", Message: MsgInvalidThresholds}
	}
	sell, err := decimal.NewFromString(strings.TrimSpace(sellText))
	if err != nil {
		return strategy.Thresholds{}, &ValidationError{Field: "sell", Message: MsgInvalidThresholds}
	}
	b, _ := buy.Float64()
	s, _ := sell.Float64()
	return strategy.Thresholds{Buy: b, Sell: s}, nil
}
