package order

import "sync"

// Handle wraps a submitted order until it reaches a terminal status. Done is
// closed exactly once, on the first terminal update.
type Handle struct {
	mu    sync.RWMutex
	order Order
	done  chan struct{}
}

// NewHandle wraps o; an empty status starts as PENDING.
func NewHandle(o Order) *Handle {
	if o.Status == "" {
		o.Status = StatusPending
	}
	h := &Handle{order: o, done: make(chan struct{})}
	if IsTerminal(o.Status) {
		close(h.done)
	}
	return h
}

func (h *Handle) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.order.ID
}

// Order returns a copy of the current order view.
func (h *Handle) Order() Order {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.order
}

func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.order.Status
}

// Done is closed once the order is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsDone reports whether the order is terminal.
func (h *Handle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Update applies a broker status report. Illegal transitions are refused and
// leave the handle unchanged; repeating the current status is a no-op.
func (h *Handle) Update(st Status, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := defaultMachine.ValidateTransition(h.order.Status, st); err != nil {
		return err
	}
	if h.order.Status == st {
		return nil
	}
	h.order.Status = st
	if reason != "" {
		h.order.LastError = reason
	}
	if IsTerminal(st) {
		close(h.done)
	}
	return nil
}
