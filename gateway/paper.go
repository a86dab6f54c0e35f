package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"options-trader/market"
	"options-trader/order"
)

// FillMode controls how the paper broker completes orders.
type FillMode string

const (
	FillImmediate FillMode = "immediate"
	FillDelayed   FillMode = "delayed"
	FillManual    FillMode = "manual"
)

// FeedConfig drives the optional random-walk tick feed.
type FeedConfig struct {
	StartPrice float64
	StepPct    float64
	Interval   time.Duration
	Seed       int64
}

// PaperConfig configures PaperClient.
type PaperConfig struct {
	FillMode       FillMode
	FillDelay      time.Duration
	UnknownSymbols []string
	TickBuffer     int
	Feed           FeedConfig
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

// PaperClient is an in-memory broker used for dry runs and tests. Orders
// never leave the process.
type PaperClient struct {
	cfg PaperConfig
	pub *market.Publisher

	mu         sync.Mutex
	connected  bool
	conIDs     map[string]int64
	qualified  map[int64]market.Contract
	subs       map[string]*paperSub
	orders     map[string]*order.Handle
	submitted  []order.Order
	rejectNext string
	failNext   error
	feedStop   context.CancelFunc
	wg         sync.WaitGroup
}

type paperSub struct {
	*subscription
	ch <-chan market.Tick
}

func NewPaperClient(cfg PaperConfig) *PaperClient {
	if cfg.FillMode == "" {
		cfg.FillMode = FillImmediate
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = 64
	}
	return &PaperClient{
		cfg:       cfg,
		pub:       market.NewPublisher(),
		conIDs:    make(map[string]int64),
		qualified: make(map[int64]market.Contract),
		subs:      make(map[string]*paperSub),
		orders:    make(map[string]*order.Handle),
	}
}

func (p *PaperClient) Connect(ctx context.Context, host string, port, clientID int) error {
	if strings.TrimSpace(host) == "" || port <= 0 {
		return &ConnectionError{Addr: addr(host, port), Err: errors.New("invalid gateway address")}
	}
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Addr: addr(host, port), Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}
	p.connected = true
	if p.cfg.Feed.Interval > 0 {
		feedCtx, cancel := context.WithCancel(context.Background())
		p.feedStop = cancel
		p.wg.Add(1)
		go p.runFeed(feedCtx)
	}
	return nil
}

func (p *PaperClient) Disconnect() error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	for id, s := range p.subs {
		p.pub.Unsubscribe(s.symbol, s.ch)
		s.finish(ErrNotConnected)
		delete(p.subs, id)
	}
	stop := p.feedStop
	p.feedStop = nil
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	p.wg.Wait()
	return nil
}

func (p *PaperClient) Qualify(ctx context.Context, c market.Contract) (market.Contract, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return c, &QualificationError{Contract: c, Err: ErrNotConnected}
	}
	if err := p.checkContract(c); err != nil {
		return c, &QualificationError{Contract: c, Err: err}
	}
	key := contractKey(c)
	id, ok := p.conIDs[key]
	if !ok {
		id = int64(1000 + len(p.conIDs))
		p.conIDs[key] = id
	}
	c.ConID = id
	p.qualified[id] = c
	return c, nil
}

func (p *PaperClient) checkContract(c market.Contract) error {
	if !symbolPattern.MatchString(c.Symbol) {
		return fmt.Errorf("invalid symbol %q", c.Symbol)
	}
	for _, s := range p.cfg.UnknownSymbols {
		if strings.EqualFold(s, c.Symbol) {
			return fmt.Errorf("no security definition for %s", c.Symbol)
		}
	}
	switch c.SecType {
	case market.SecTypeStock:
		return nil
	case market.SecTypeOption:
		if _, err := market.ParseExpiration(c.Expiration); err != nil {
			return err
		}
		if c.Strike <= 0 {
			return fmt.Errorf("invalid strike %v", c.Strike)
		}
		if c.Right != market.RightCall && c.Right != market.RightPut {
			return fmt.Errorf("invalid right %q", c.Right)
		}
		return nil
	default:
		return fmt.Errorf("unsupported security type %q", c.SecType)
	}
}

func contractKey(c market.Contract) string {
	return fmt.Sprintf("%s|%s|%s|%s|%v|%s|%d", c.SecType, c.Symbol, c.Exchange, c.Expiration, c.Strike, c.Right, c.Multiplier)
}

func (p *PaperClient) ContractDetails(ctx context.Context, c market.Contract) (*market.ContractDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ErrNotConnected
	}
	q, ok := p.qualified[c.ConID]
	if !ok {
		return nil, nil
	}
	return &market.ContractDetails{
		Contract:   q,
		LongName:   q.Symbol + " paper contract",
		MarketName: q.Symbol,
		MinTick:    0.01,
	}, nil
}

func (p *PaperClient) SubscribeTicks(ctx context.Context, c market.Contract, onTick func(market.Tick)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ErrNotConnected
	}
	if _, ok := p.qualified[c.ConID]; !ok {
		return nil, ErrUnknownContract
	}
	ch := p.pub.SubscribeTicks(c.Symbol, p.cfg.TickBuffer)
	s := &paperSub{subscription: newSubscription(uuid.NewString(), c), ch: ch}
	p.subs[s.id] = s
	go func() {
		for t := range ch {
			onTick(t)
		}
	}()
	return s, nil
}

func (p *PaperClient) Unsubscribe(sub Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.subs[sub.ID()]
	if !ok {
		return nil
	}
	delete(p.subs, s.id)
	p.pub.Unsubscribe(s.symbol, s.ch)
	s.finish(nil)
	return nil
}

// Subscriptions returns the number of live tick subscriptions.
func (p *PaperClient) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// PushTick delivers a tick to every subscriber of t.Symbol.
func (p *PaperClient) PushTick(t market.Tick) {
	if t.Time.IsZero() {
		t.Time = time.Now()
	}
	p.pub.PublishTick(t)
}

// DropStream ends all subscriptions with err, as a lost market-data
// connection would.
func (p *PaperClient) DropStream(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.subs {
		p.pub.Unsubscribe(s.symbol, s.ch)
		s.finish(err)
		delete(p.subs, id)
	}
}

func (p *PaperClient) SubmitOrder(ctx context.Context, c market.Contract, req order.Request) (*order.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ErrNotConnected
	}
	if _, ok := p.qualified[c.ConID]; !ok {
		return nil, ErrUnknownContract
	}
	if err := p.failNext; err != nil {
		p.failNext = nil
		return nil, err
	}
	o := order.Order{ID: uuid.NewString(), Symbol: c.Symbol, Request: req, Status: order.StatusSubmitted}
	h := order.NewHandle(o)
	p.orders[o.ID] = h
	p.submitted = append(p.submitted, o)

	if reason := p.rejectNext; reason != "" {
		p.rejectNext = ""
		_ = h.Update(order.StatusRejected, reason)
		return h, nil
	}
	switch p.cfg.FillMode {
	case FillImmediate:
		_ = h.Update(order.StatusFilled, "")
	case FillDelayed:
		time.AfterFunc(p.cfg.FillDelay, func() { _ = h.Update(order.StatusFilled, "") })
	}
	return h, nil
}

func (p *PaperClient) PollStatus(ctx context.Context, h *order.Handle) (order.Status, error) {
	p.mu.Lock()
	stored, ok := p.orders[h.ID()]
	p.mu.Unlock()
	if !ok {
		return "", ErrUnknownOrder
	}
	return stored.Status(), nil
}

// Complete drives a manual-mode order to st.
func (p *PaperClient) Complete(orderID string, st order.Status, reason string) error {
	p.mu.Lock()
	h, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownOrder
	}
	return h.Update(st, reason)
}

// RejectNext makes the next submitted order come back REJECTED.
func (p *PaperClient) RejectNext(reason string) {
	p.mu.Lock()
	p.rejectNext = reason
	p.mu.Unlock()
}

// FailNextSubmit makes the next SubmitOrder call fail with err.
func (p *PaperClient) FailNextSubmit(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// Orders returns the orders submitted so far, in order.
func (p *PaperClient) Orders() []order.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]order.Order, len(p.submitted))
	copy(out, p.submitted)
	return out
}

// runFeed 随机游走行情；每个 symbol 的第一笔 tick 不带价格，模拟尚未成交。
func (p *PaperClient) runFeed(ctx context.Context) {
	defer p.wg.Done()
	fc := p.cfg.Feed
	if fc.StartPrice <= 0 {
		fc.StartPrice = 100
	}
	if fc.StepPct <= 0 {
		fc.StepPct = 0.005
	}
	rng := rand.New(rand.NewSource(fc.Seed))
	prices := make(map[string]float64)
	ticker := time.NewTicker(fc.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sym := range p.pub.Symbols() {
				last, seen := prices[sym]
				if !seen {
					prices[sym] = fc.StartPrice
					p.pub.PublishTick(market.Tick{Symbol: sym, Time: now})
					continue
				}
				next := last * (1 + fc.StepPct*(rng.Float64()*2-1))
				next = float64(int64(next*100+0.5)) / 100
				prices[sym] = next
				p.pub.PublishTick(market.NewTick(sym, next, now))
			}
		}
	}
}
