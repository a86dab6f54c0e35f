package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-trader/market"
	"options-trader/order"
)

func connectedPaper(t *testing.T, cfg PaperConfig) *PaperClient {
	t.Helper()
	p := NewPaperClient(cfg)
	require.NoError(t, p.Connect(context.Background(), "127.0.0.1", 7497, 1))
	t.Cleanup(func() { _ = p.Disconnect() })
	return p
}

func qualifiedOption(t *testing.T, p *PaperClient) market.Contract {
	t.Helper()
	c, err := p.Qualify(context.Background(), market.DefaultOptionSpec().Option("AAPL", "20251219", 1))
	require.NoError(t, err)
	return c
}

func TestPaperConnectValidatesAddress(t *testing.T) {
	p := NewPaperClient(PaperConfig{})
	err := p.Connect(context.Background(), "", 7497, 1)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ":7497", ce.Addr)

	require.NoError(t, p.Connect(context.Background(), "127.0.0.1", 7497, 1))
	require.NoError(t, p.Connect(context.Background(), "127.0.0.1", 7497, 1))
	require.NoError(t, p.Disconnect())
	require.NoError(t, p.Disconnect())
}

func TestPaperQualify(t *testing.T) {
	p := connectedPaper(t, PaperConfig{UnknownSymbols: []string{"ZZZZ"}})
	spec := market.DefaultOptionSpec()

	stk, err := p.Qualify(context.Background(), spec.Stock("AAPL"))
	require.NoError(t, err)
	assert.True(t, stk.Qualified())

	opt := qualifiedOption(t, p)
	assert.True(t, opt.Qualified())
	assert.NotEqual(t, stk.ConID, opt.ConID)

	again := qualifiedOption(t, p)
	assert.Equal(t, opt.ConID, again.ConID, "conId is stable per contract")

	cases := []market.Contract{
		spec.Option("ZZZZ", "20251219", 1),
		spec.Option("AAPL", "abcd", 1),
		spec.Stock("not a symbol"),
	}
	for _, c := range cases {
		_, err := p.Qualify(context.Background(), c)
		var qe *QualificationError
		assert.ErrorAs(t, err, &qe, c.String())
	}
}

func TestPaperQualifyRequiresConnection(t *testing.T) {
	p := NewPaperClient(PaperConfig{})
	_, err := p.Qualify(context.Background(), market.DefaultOptionSpec().Stock("AAPL"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPaperContractDetails(t *testing.T) {
	p := connectedPaper(t, PaperConfig{})
	c := qualifiedOption(t, p)

	d, err := p.ContractDetails(context.Background(), c)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, c, d.Contract)

	missing := c
	missing.ConID = 42
	d, err = p.ContractDetails(context.Background(), missing)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestPaperTickSubscription(t *testing.T) {
	p := connectedPaper(t, PaperConfig{})
	c := qualifiedOption(t, p)

	var mu sync.Mutex
	var got []market.Tick
	sub, err := p.SubscribeTicks(context.Background(), c, func(tk market.Tick) {
		mu.Lock()
		got = append(got, tk)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Subscriptions())

	p.PushTick(market.NewTick("AAPL", 101.5, time.Now()))
	p.PushTick(market.NewTick("MSFT", 300, time.Now()))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Unsubscribe(sub))
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not finished")
	}
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, p.Subscriptions())
	require.NoError(t, p.Unsubscribe(sub))
}

func TestPaperDropStreamFailsSubscriptions(t *testing.T) {
	p := connectedPaper(t, PaperConfig{})
	c := qualifiedOption(t, p)
	sub, err := p.SubscribeTicks(context.Background(), c, func(market.Tick) {})
	require.NoError(t, err)

	lost := errors.New("socket closed")
	p.DropStream(lost)
	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), lost)
}

func TestPaperFillModes(t *testing.T) {
	req, err := order.NewRequest(order.ActionBuy, 95, 1)
	require.NoError(t, err)

	t.Run("immediate", func(t *testing.T) {
		p := connectedPaper(t, PaperConfig{FillMode: FillImmediate})
		h, err := p.SubmitOrder(context.Background(), qualifiedOption(t, p), req)
		require.NoError(t, err)
		assert.True(t, h.IsDone())
		assert.Equal(t, order.StatusFilled, h.Status())
	})

	t.Run("delayed", func(t *testing.T) {
		p := connectedPaper(t, PaperConfig{FillMode: FillDelayed, FillDelay: 10 * time.Millisecond})
		h, err := p.SubmitOrder(context.Background(), qualifiedOption(t, p), req)
		require.NoError(t, err)
		assert.Equal(t, order.StatusSubmitted, h.Status())
		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatal("order not filled")
		}
		st, err := p.PollStatus(context.Background(), h)
		require.NoError(t, err)
		assert.Equal(t, order.StatusFilled, st)
	})

	t.Run("manual", func(t *testing.T) {
		p := connectedPaper(t, PaperConfig{FillMode: FillManual})
		h, err := p.SubmitOrder(context.Background(), qualifiedOption(t, p), req)
		require.NoError(t, err)
		assert.False(t, h.IsDone())
		require.NoError(t, p.Complete(h.ID(), order.StatusCanceled, "user"))
		assert.Equal(t, order.StatusCanceled, h.Status())
		assert.ErrorIs(t, p.Complete("nope", order.StatusFilled, ""), ErrUnknownOrder)
	})

	t.Run("reject next", func(t *testing.T) {
		p := connectedPaper(t, PaperConfig{})
		p.RejectNext("insufficient margin")
		c := qualifiedOption(t, p)
		h, err := p.SubmitOrder(context.Background(), c, req)
		require.NoError(t, err)
		assert.Equal(t, order.StatusRejected, h.Status())
		assert.Equal(t, "insufficient margin", h.Order().LastError)

		h, err = p.SubmitOrder(context.Background(), c, req)
		require.NoError(t, err)
		assert.Equal(t, order.StatusFilled, h.Status())
	})

	t.Run("fail next", func(t *testing.T) {
		p := connectedPaper(t, PaperConfig{})
		boom := errors.New("boom")
		p.FailNextSubmit(boom)
		_, err := p.SubmitOrder(context.Background(), qualifiedOption(t, p), req)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, p.Orders())
	})
}

func TestPaperSubmitRequiresQualifiedContract(t *testing.T) {
	p := connectedPaper(t, PaperConfig{})
	req, _ := order.NewRequest(order.ActionSell, 115, 2)
	_, err := p.SubmitOrder(context.Background(), market.DefaultOptionSpec().Option("AAPL", "20251219", 2), req)
	assert.ErrorIs(t, err, ErrUnknownContract)
}

func TestPaperOrdersRecorded(t *testing.T) {
	p := connectedPaper(t, PaperConfig{})
	c := qualifiedOption(t, p)
	buy, _ := order.NewRequest(order.ActionBuy, 95, 3)
	sell, _ := order.NewRequest(order.ActionSell, 115, 3)
	_, err := p.SubmitOrder(context.Background(), c, buy)
	require.NoError(t, err)
	_, err = p.SubmitOrder(context.Background(), c, sell)
	require.NoError(t, err)

	orders := p.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, order.ActionBuy, orders[0].Action)
	assert.Equal(t, 3, orders[0].Quantity)
	assert.Equal(t, 95.0, orders[0].LimitPrice)
	assert.Equal(t, order.ActionSell, orders[1].Action)
	assert.NotEqual(t, orders[0].ID, orders[1].ID)
}

func TestPaperFeed(t *testing.T) {
	p := connectedPaper(t, PaperConfig{Feed: FeedConfig{StartPrice: 100, Interval: 5 * time.Millisecond, Seed: 7}})
	c := qualifiedOption(t, p)

	var mu sync.Mutex
	var priced, unpriced int
	_, err := p.SubscribeTicks(context.Background(), c, func(tk market.Tick) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := tk.LastPrice(); ok {
			priced++
		} else {
			unpriced++
		}
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return priced >= 3
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, unpriced)
	mu.Unlock()
}
