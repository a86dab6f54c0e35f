package market

import "time"

// Tick is a last-trade update for one instrument. HasPrice is false while
// the instrument has not traded yet; Price is meaningless in that case.
type Tick struct {
	Symbol   string
	Price    float64
	HasPrice bool
	Time     time.Time
}

// NewTick builds a tick carrying a last price.
func NewTick(symbol string, price float64, ts time.Time) Tick {
	return Tick{Symbol: symbol, Price: price, HasPrice: true, Time: ts}
}

// LastPrice returns the traded price and whether one is present.
func (t Tick) LastPrice() (float64, bool) {
	if !t.HasPrice {
		return 0, false
	}
	return t.Price, true
}
