package strategy

import "options-trader/order"

// Thresholds are the operator's buy/sell price bounds on the underlying.
type Thresholds struct {
	Buy  float64
	Sell float64
}

// DefaultThresholds matches the bot's start-up bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{Buy: 100, Sell: 110}
}

// Inverted reports Buy >= Sell, where both sides can fire on one price.
func (t Thresholds) Inverted() bool { return t.Buy >= t.Sell }

// Decision is the outcome of one evaluation. A zero Decision means no action.
type Decision struct {
	Action order.Action
	Price  float64
}

// None reports whether no order should be placed.
func (d Decision) None() bool { return d.Action == "" }

// Decide evaluates a price against the bounds. Both comparisons are strict
// and BUY is checked first, so an inverted configuration resolves to BUY.
func Decide(price float64, t Thresholds) Decision {
	switch {
	case price < t.Buy:
		return Decision{Action: order.ActionBuy, Price: price}
	case price > t.Sell:
		return Decision{Action: order.ActionSell, Price: price}
	default:
		return Decision{}
	}
}
