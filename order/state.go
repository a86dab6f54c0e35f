package order

import "fmt"

// Action is the order direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCanceled  Status = "CANCELED"
	StatusRejected  Status = "REJECTED"
)

// Request is a limit order derived from a tick price and the session's
// contract size.
type Request struct {
	Action     Action
	Quantity   int
	LimitPrice float64
}

// NewRequest builds the limit order for a decided action. The limit price is
// the tick price as received.
func NewRequest(action Action, price float64, contractSize int) (Request, error) {
	r := Request{Action: action, Quantity: contractSize, LimitPrice: price}
	return r, r.Validate()
}

// Validate checks action, quantity and price.
func (r Request) Validate() error {
	if r.Action != ActionBuy && r.Action != ActionSell {
		return fmt.Errorf("%w: action %q", ErrInvalidRequest, r.Action)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d must be > 0", ErrInvalidRequest, r.Quantity)
	}
	if r.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price %v must be > 0", ErrInvalidRequest, r.LimitPrice)
	}
	return nil
}

// Order holds a simplified order view.
type Order struct {
	ID        string
	Symbol    string
	Request
	Status    Status
	LastError string
}
