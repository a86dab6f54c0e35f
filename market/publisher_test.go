package market

import (
	"testing"
	"time"
)

func TestPublisher(t *testing.T) {
	p := NewPublisher()
	ch := p.SubscribeTicks("AAPL", 1)
	p.PublishTick(NewTick("AAPL", 101.5, time.Now()))
	if got := <-ch; got.Price != 101.5 || !got.HasPrice {
		t.Fatalf("unexpected tick %+v", got)
	}
}

func TestPublisherFiltersAndDrops(t *testing.T) {
	p := NewPublisher()
	ch := p.SubscribeTicks("AAPL", 1)
	if dropped := p.PublishTick(NewTick("MSFT", 1, time.Now())); dropped != 0 {
		t.Fatalf("unexpected drop for foreign symbol")
	}
	p.PublishTick(NewTick("AAPL", 1, time.Now()))
	if dropped := p.PublishTick(NewTick("AAPL", 2, time.Now())); dropped != 1 {
		t.Fatalf("expected full buffer to drop, got %d", dropped)
	}
	p.Unsubscribe("AAPL", ch)
	if len(p.Symbols()) != 0 {
		t.Fatalf("expected no symbols after unsubscribe")
	}
	if _, ok := <-ch; !ok {
		t.Fatalf("buffered tick should still be readable")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}
