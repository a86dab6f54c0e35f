package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"options-trader/market"
)

// Gateway 券商下单能力；由 gateway.Client 实现。
type Gateway interface {
	SubmitOrder(ctx context.Context, c market.Contract, req Request) (*Handle, error)
	PollStatus(ctx context.Context, h *Handle) (Status, error)
}

// Observer 接收执行指标，可为 nil。
type Observer interface {
	RecordOrderSubmitted(action string)
	RecordOrderCompleted(status string, seconds float64)
}

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	PollInterval time.Duration    // 终态轮询兜底间隔
	Clock        func() time.Time // 测试可注入
}

// Executor 提交限价单并等待终态，产出 ExecutionRecord。
type Executor struct {
	gw  Gateway
	cfg ExecutorConfig
	obs Observer
}

func NewExecutor(gw Gateway, cfg ExecutorConfig, obs Observer) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Executor{gw: gw, cfg: cfg, obs: obs}
}

// Execute 同步执行一笔订单。失败只体现在记录里，不返回 error。
// ctx 取消会放弃等待，但不会撤单。
func (e *Executor) Execute(ctx context.Context, underlying string, c market.Contract, req Request) ExecutionRecord {
	rec := ExecutionRecord{
		Action:         req.Action,
		Symbol:         underlying,
		Quantity:       req.Quantity,
		SubmittedPrice: req.LimitPrice,
		Benefit:        PendingBenefit,
	}
	rec.StartTime = e.cfg.Clock()

	if err := req.Validate(); err != nil {
		rec.EndTime = e.cfg.Clock()
		rec.Status = StatusRejected
		rec.Err = &Error{Action: req.Action, Symbol: underlying, Err: err}
		return rec
	}

	h, err := e.gw.SubmitOrder(ctx, c, req)
	if err != nil {
		rec.EndTime = e.cfg.Clock()
		rec.Status = StatusRejected
		rec.Err = &Error{Action: req.Action, Symbol: underlying, Status: StatusRejected, Err: err}
		e.observeCompleted(rec)
		return rec
	}
	rec.OrderID = h.ID()
	if e.obs != nil {
		e.obs.RecordOrderSubmitted(string(req.Action))
	}

	st, err := e.await(ctx, h)
	rec.EndTime = e.cfg.Clock()
	rec.Status = st
	switch {
	case err != nil:
		rec.Err = &Error{Action: req.Action, Symbol: underlying, OrderID: rec.OrderID, Status: st, Err: err}
	case st == StatusRejected:
		rec.Err = &Error{Action: req.Action, Symbol: underlying, OrderID: rec.OrderID, Status: st, Err: withReason(ErrRejected, h)}
	case st == StatusCanceled:
		rec.Err = &Error{Action: req.Action, Symbol: underlying, OrderID: rec.OrderID, Status: st, Err: withReason(ErrCanceled, h)}
	}
	e.observeCompleted(rec)
	return rec
}

// await 等待 Done 通知；轮询只作兜底，防止漏掉推送。
func (e *Executor) await(ctx context.Context, h *Handle) (Status, error) {
	if h.IsDone() {
		return h.Status(), nil
	}
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-h.Done():
			return h.Status(), nil
		case <-ctx.Done():
			if lastErr != nil {
				return h.Status(), fmt.Errorf("%w: %v (last poll error: %v)", ErrWaitAborted, ctx.Err(), lastErr)
			}
			return h.Status(), fmt.Errorf("%w: %v", ErrWaitAborted, ctx.Err())
		case <-ticker.C:
			st, err := e.gw.PollStatus(ctx, h)
			if err != nil {
				lastErr = err
				continue
			}
			// 表外的转换只记录，终态仍然结束等待
			if err := h.Update(st, ""); err != nil {
				lastErr = err
			}
			if IsTerminal(st) {
				return st, nil
			}
		}
	}
}

func (e *Executor) observeCompleted(rec ExecutionRecord) {
	if e.obs == nil {
		return
	}
	e.obs.RecordOrderCompleted(string(rec.Status), rec.Duration().Seconds())
}

func withReason(base error, h *Handle) error {
	if reason := h.Order().LastError; reason != "" {
		return fmt.Errorf("%w: %s", base, reason)
	}
	return base
}

// IsOrderError 判断是否是单笔执行错误。
func IsOrderError(err error) bool {
	var oe *Error
	return errors.As(err, &oe)
}
