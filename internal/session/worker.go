package session

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"options-trader/internal/status"
	"options-trader/market"
	"options-trader/order"
	"options-trader/strategy"
)

// worker 执行域：逐个处理 tick，直到会话停止或行情流异常结束。
func (s *Session) worker(r *run) {
	defer close(r.workerDone)
	defer func() {
		if rec := recover(); rec != nil {
			s.fail(r, fmt.Errorf("panic in tick loop: %v", rec), debug.Stack())
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.sub.Done():
			if err := r.sub.Err(); err != nil {
				s.fail(r, err, nil)
			}
			return
		case t := <-r.ticks:
			s.onTick(r, t)
		}
	}
}

// fail 执行域不可恢复错误：记录、提示并进入 Stopping。
func (s *Session) fail(r *run, err error, stack []byte) {
	fields := []zap.Field{zap.String("symbol", r.params.Symbol), zap.Error(err)}
	if stack != nil {
		fields = append(fields, zap.ByteString("stack", stack))
	}
	s.log.Error("trading session failed", fields...)
	s.publish(status.KindError, "Trading error: %v", err)
	s.stopRun(r, "error")
}

func (s *Session) onTick(r *run, t market.Tick) {
	// 停止请求之后缓冲里剩下的 tick 直接丢弃
	if r.ctx.Err() != nil {
		return
	}
	price, ok := t.LastPrice()
	if !ok {
		s.metrics.RecordTickNoPrice()
		return
	}
	s.metrics.RecordTick()
	s.market.OnTick(t)
	s.metrics.UpdateLastPrice(price)
	s.publish(status.KindPrice, "Current Price: %s", order.FormatPrice(price))

	d := strategy.Decide(price, s.Thresholds())
	if d.None() {
		return
	}
	s.metrics.RecordDecision(string(d.Action))

	req, err := order.NewRequest(d.Action, d.Price, r.params.ContractSize)
	if err != nil {
		s.publish(status.KindError, "Failed to place %s order for stock %s: %v", d.Action, r.params.Symbol, err)
		return
	}

	r.gate.Lock()
	defer r.gate.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	// 单槽：已有在途订单时跳过本次决策，不排队。
	if !r.inflight.CompareAndSwap(false, true) {
		s.metrics.RecordDecisionSkipped()
		s.log.LogExecution("decision_skipped", map[string]interface{}{
			"symbol": r.params.Symbol,
			"action": string(d.Action),
			"price":  d.Price,
		})
		return
	}
	r.orders.Add(1)
	go s.execute(r, req)
}

// execute 在独立协程里提交并等待终态，不阻塞 tick 处理。
func (s *Session) execute(r *run, req order.Request) {
	defer r.orders.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.inflight.Store(false)
			s.log.Error("order execution panicked",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			s.publish(status.KindError, "Failed to place %s order for stock %s: %v", req.Action, r.params.Symbol, rec)
		}
	}()

	rec := s.exec.Execute(r.orderCtx, r.params.Symbol, r.option, req)
	r.inflight.Store(false)
	s.report(rec)
}

func (s *Session) report(rec order.ExecutionRecord) {
	s.log.LogExecution("order_completed", map[string]interface{}{
		"symbol":   rec.Symbol,
		"action":   string(rec.Action),
		"price":    rec.SubmittedPrice,
		"status":   string(rec.Status),
		"orderId":  rec.OrderID,
		"quantity": rec.Quantity,
		"latency":  rec.Duration().Seconds(),
	})
	if rec.Failed() {
		s.log.Warn("order failed", zap.String("order_id", rec.OrderID), zap.Error(rec.Err))
	}
	s.publish(status.KindLog, "%s", rec.String())
}
