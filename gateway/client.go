package gateway

import (
	"context"
	"errors"
	"fmt"

	"options-trader/market"
	"options-trader/order"
)

// Client 券商网关能力。会话开始后交易调用只来自执行协程，
// 控制协程只做连接/断开和只读查询。
type Client interface {
	Connect(ctx context.Context, host string, port, clientID int) error
	Qualify(ctx context.Context, c market.Contract) (market.Contract, error)
	SubscribeTicks(ctx context.Context, c market.Contract, onTick func(market.Tick)) (Subscription, error)
	Unsubscribe(sub Subscription) error
	SubmitOrder(ctx context.Context, c market.Contract, req order.Request) (*order.Handle, error)
	PollStatus(ctx context.Context, h *order.Handle) (order.Status, error)
	// ContractDetails 返回 nil, nil 表示券商没有该合约的详情。
	ContractDetails(ctx context.Context, c market.Contract) (*market.ContractDetails, error)
	Disconnect() error
}

// Subscription 一条行情订阅。Done 在退订或流异常结束时关闭，
// 异常结束时 Err 非空。
type Subscription interface {
	ID() string
	Done() <-chan struct{}
	Err() error
}

// Observer 网关指标回调，*monitor.Monitor 实现该接口。
type Observer interface {
	RecordWSConnection()
	RecordWSDisconnect()
	RecordRESTRequest(action string)
	RecordRESTError(action string)
	RecordRESTLatency(action string, seconds float64)
}

var (
	ErrNotConnected    = errors.New("gateway not connected")
	ErrUnknownOrder    = errors.New("unknown order")
	ErrUnknownContract = errors.New("contract not qualified")
)

// ConnectionError 网关不可达或认证失败。
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QualificationError 合约无法解析为唯一可交易合约。
type QualificationError struct {
	Contract market.Contract
	Err      error
}

func (e *QualificationError) Error() string {
	return fmt.Sprintf("qualify %s: %v", e.Contract, e.Err)
}

func (e *QualificationError) Unwrap() error { return e.Err }

func addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// subscription 通用的订阅句柄实现。
type subscription struct {
	id     string
	conID  int64
	symbol string
	done   chan struct{}
	err    error
	closed bool
}

func newSubscription(id string, c market.Contract) *subscription {
	return &subscription{id: id, conID: c.ConID, symbol: c.Symbol, done: make(chan struct{})}
}

func (s *subscription) ID() string            { return s.id }
func (s *subscription) Done() <-chan struct{} { return s.done }
func (s *subscription) Err() error            { return s.err }

// finish 由持有网关锁的调用方执行。
func (s *subscription) finish(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}
