package market

import "sync"

// Publisher 一个轻量的行情分发器，订阅者按 symbol 过滤。
type Publisher struct {
	mu   sync.RWMutex
	subs map[string][]chan Tick
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[string][]chan Tick)}
}

// SubscribeTicks 返回指定 symbol 的 tick 通道，缓冲满时丢弃新 tick。
func (p *Publisher) SubscribeTicks(symbol string, buffer int) <-chan Tick {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Tick, buffer)
	p.mu.Lock()
	p.subs[symbol] = append(p.subs[symbol], ch)
	p.mu.Unlock()
	return ch
}

// Unsubscribe 移除并关闭通道。
func (p *Publisher) Unsubscribe(symbol string, ch <-chan Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.subs[symbol]
	for i, c := range list {
		if c == ch {
			close(c)
			p.subs[symbol] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.subs[symbol]) == 0 {
		delete(p.subs, symbol)
	}
}

// Symbols 返回当前有订阅者的 symbol。
func (p *Publisher) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.subs))
	for sym := range p.subs {
		out = append(out, sym)
	}
	return out
}

// PublishTick 非阻塞广播，返回被丢弃的订阅者数量。
func (p *Publisher) PublishTick(t Tick) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dropped := 0
	for _, ch := range p.subs[t.Symbol] {
		select {
		case ch <- t:
		default:
			dropped++
		}
	}
	return dropped
}
