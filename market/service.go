package market

import (
	"sync"
	"time"
)

// Service 维护各 symbol 的最新成交价。
type Service struct {
	mu    sync.RWMutex
	price map[string]float64
	last  map[string]time.Time
}

func NewService() *Service {
	return &Service{
		price: make(map[string]float64),
		last:  make(map[string]time.Time),
	}
}

// OnTick 记录带价格的 tick，缺价 tick 被忽略。
func (s *Service) OnTick(t Tick) bool {
	p, ok := t.LastPrice()
	if !ok {
		return false
	}
	ts := t.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	s.mu.Lock()
	s.price[t.Symbol] = p
	s.last[t.Symbol] = ts
	s.mu.Unlock()
	return true
}

// Last 返回最新价；无数据时第二个返回值为 false。
func (s *Service) Last(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.price[symbol]
	return p, ok
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (s *Service) Staleness(symbol string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.last[symbol]
	if !ok {
		return time.Hour * 24 * 365
	}
	return time.Since(ts)
}

// Reset 清除 symbol 的数据，会话结束时调用。
func (s *Service) Reset(symbol string) {
	s.mu.Lock()
	delete(s.price, symbol)
	delete(s.last, symbol)
	s.mu.Unlock()
}
