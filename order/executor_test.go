package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-trader/market"
)

// fakeGateway 按脚本返回轮询状态
type fakeGateway struct {
	mu        sync.Mutex
	submitted []Request
	polls     []Status
	pollCalls int
	submitErr error
	initial   Status
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, c market.Contract, req Request) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	st := f.initial
	if st == "" {
		st = StatusSubmitted
	}
	return NewHandle(Order{ID: "ord-1", Symbol: c.Symbol, Request: req, Status: st}), nil
}

func (f *fakeGateway) PollStatus(ctx context.Context, h *Handle) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if len(f.polls) == 0 {
		return h.Status(), nil
	}
	st := f.polls[0]
	f.polls = f.polls[1:]
	return st, nil
}

type countingObserver struct {
	mu        sync.Mutex
	submitted int
	completed []string
}

func (o *countingObserver) RecordOrderSubmitted(string) {
	o.mu.Lock()
	o.submitted++
	o.mu.Unlock()
}

func (o *countingObserver) RecordOrderCompleted(status string, _ float64) {
	o.mu.Lock()
	o.completed = append(o.completed, status)
	o.mu.Unlock()
}

func option() market.Contract {
	c := market.DefaultOptionSpec().Option("AAPL", "20250119", 1)
	c.ConID = 42
	return c
}

func TestExecutorWaitsForTerminalPoll(t *testing.T) {
	gw := &fakeGateway{polls: []Status{StatusSubmitted, StatusFilled}}
	obs := &countingObserver{}
	ex := NewExecutor(gw, ExecutorConfig{PollInterval: 5 * time.Millisecond}, obs)

	req, err := NewRequest(ActionBuy, 99, 1)
	require.NoError(t, err)
	rec := ex.Execute(context.Background(), "AAPL", option(), req)

	require.False(t, rec.Failed(), "unexpected failure: %v", rec.Err)
	assert.Equal(t, StatusFilled, rec.Status)
	assert.Equal(t, "ord-1", rec.OrderID)
	assert.Equal(t, 99.0, rec.SubmittedPrice)
	assert.Equal(t, 1, rec.Quantity)
	assert.False(t, rec.EndTime.Before(rec.StartTime))
	assert.Equal(t, PendingBenefit, rec.Benefit)
	assert.Len(t, gw.submitted, 1)
	assert.GreaterOrEqual(t, gw.pollCalls, 2)
	assert.Equal(t, 1, obs.submitted)
	assert.Equal(t, []string{"FILLED"}, obs.completed)
}

func TestExecutorWakesOnDoneNotification(t *testing.T) {
	var handle *Handle
	gw := &pushGateway{onSubmit: func(h *Handle) { handle = h }}
	ex := NewExecutor(gw, ExecutorConfig{PollInterval: time.Hour}, nil)

	go func() {
		for {
			gw.mu.Lock()
			h := handle
			gw.mu.Unlock()
			if h != nil {
				_ = h.Update(StatusFilled, "")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	req, _ := NewRequest(ActionSell, 115, 1)
	done := make(chan ExecutionRecord, 1)
	go func() { done <- ex.Execute(context.Background(), "AAPL", option(), req) }()

	select {
	case rec := <-done:
		assert.Equal(t, StatusFilled, rec.Status)
		assert.False(t, rec.Failed())
	case <-time.After(time.Second):
		t.Fatal("executor did not wake on terminal notification")
	}
}

type pushGateway struct {
	mu       sync.Mutex
	onSubmit func(*Handle)
}

func (p *pushGateway) SubmitOrder(ctx context.Context, c market.Contract, req Request) (*Handle, error) {
	h := NewHandle(Order{ID: "push-1", Request: req, Status: StatusSubmitted})
	p.mu.Lock()
	p.onSubmit(h)
	p.mu.Unlock()
	return h, nil
}

func (p *pushGateway) PollStatus(ctx context.Context, h *Handle) (Status, error) {
	return h.Status(), nil
}

func TestExecutorSubmitFailure(t *testing.T) {
	gw := &fakeGateway{submitErr: errors.New("gateway down")}
	obs := &countingObserver{}
	ex := NewExecutor(gw, ExecutorConfig{PollInterval: time.Millisecond}, obs)

	req, _ := NewRequest(ActionBuy, 95, 1)
	rec := ex.Execute(context.Background(), "AAPL", option(), req)

	require.True(t, rec.Failed())
	assert.True(t, IsOrderError(rec.Err))
	assert.Equal(t, StatusRejected, rec.Status)
	assert.Equal(t, "Failed to place BUY order for stock AAPL: BUY AAPL: gateway down", rec.String())
	assert.Equal(t, 0, obs.submitted)
	assert.Equal(t, []string{"REJECTED"}, obs.completed)
}

func TestExecutorRejectedStatus(t *testing.T) {
	gw := &fakeGateway{polls: []Status{StatusRejected}}
	ex := NewExecutor(gw, ExecutorConfig{PollInterval: time.Millisecond}, nil)

	req, _ := NewRequest(ActionSell, 120, 2)
	rec := ex.Execute(context.Background(), "AAPL", option(), req)

	require.True(t, rec.Failed())
	assert.ErrorIs(t, rec.Err, ErrRejected)
	assert.Len(t, gw.submitted, 1, "rejected orders are not resubmitted")
}

func TestExecutorPartialThenRejected(t *testing.T) {
	gw := &fakeGateway{polls: []Status{StatusPartial, StatusRejected}}
	ex := NewExecutor(gw, ExecutorConfig{PollInterval: time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req, _ := NewRequest(ActionBuy, 95, 1)
	begin := time.Now()
	rec := ex.Execute(ctx, "AAPL", option(), req)

	assert.Less(t, time.Since(begin), 250*time.Millisecond, "terminal poll must end the wait")
	assert.Equal(t, StatusRejected, rec.Status)
	assert.ErrorIs(t, rec.Err, ErrRejected)
	assert.NotErrorIs(t, rec.Err, ErrWaitAborted)
}

func TestExecutorWaitAborted(t *testing.T) {
	gw := &fakeGateway{}
	ex := NewExecutor(gw, ExecutorConfig{PollInterval: time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := NewRequest(ActionBuy, 95, 1)
	rec := ex.Execute(ctx, "AAPL", option(), req)

	require.True(t, rec.Failed())
	assert.ErrorIs(t, rec.Err, ErrWaitAborted)
	assert.Equal(t, StatusSubmitted, rec.Status)
}

func TestExecutorInvalidRequest(t *testing.T) {
	gw := &fakeGateway{}
	ex := NewExecutor(gw, ExecutorConfig{}, nil)
	rec := ex.Execute(context.Background(), "AAPL", option(), Request{Action: ActionBuy, Quantity: 0, LimitPrice: 95})
	require.True(t, rec.Failed())
	assert.ErrorIs(t, rec.Err, ErrInvalidRequest)
	assert.Empty(t, gw.submitted)
}

func TestRecordString(t *testing.T) {
	start := time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC)
	rec := ExecutionRecord{
		Action:         ActionBuy,
		Symbol:         "AAPL",
		SubmittedPrice: 95.5,
		StartTime:      start,
		EndTime:        start.Add(2 * time.Second),
		Status:         StatusFilled,
		Benefit:        PendingBenefit,
	}
	want := "BUY order completed for stock AAPL at 95.5. Start: 2025-01-10 09:30:00, End: 2025-01-10 09:30:02, Benefit: TBD"
	assert.Equal(t, want, rec.String())
	assert.Equal(t, 2*time.Second, rec.Duration())
}
