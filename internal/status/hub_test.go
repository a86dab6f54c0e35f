package status

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockChannel 记录收到的事件（用于测试验证）
type mockChannel struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (c *mockChannel) Send(e Event) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *mockChannel) Name() string { return "mock" }

func (c *mockChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Message
	}
	return out
}

type dropCounter struct {
	mu sync.Mutex
	n  int
}

func (d *dropCounter) RecordStatusDropped() {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
}

func TestHubDeliversInOrder(t *testing.T) {
	a, b := &mockChannel{}, &mockChannel{}
	hub := NewHub(Config{}, nil, nil, a)
	hub.AddChannel(b)
	hub.Start()

	for i := 0; i < 50; i++ {
		if !hub.Publish(Event{Kind: KindLog, Message: fmt.Sprintf("msg %d", i)}) {
			t.Fatalf("publish %d dropped", i)
		}
	}
	hub.Close()

	for _, ch := range []*mockChannel{a, b} {
		got := ch.messages()
		if len(got) != 50 {
			t.Fatalf("expected 50 events, got %d", len(got))
		}
		for i, m := range got {
			if want := fmt.Sprintf("msg %d", i); m != want {
				t.Fatalf("event %d = %q, want %q", i, m, want)
			}
		}
	}
	if names := hub.Channels(); len(names) != 2 {
		t.Errorf("channels = %v", names)
	}
}

func TestHubPublishSetsTime(t *testing.T) {
	ch := &mockChannel{}
	hub := NewHub(Config{}, nil, nil, ch)
	hub.Start()
	hub.Publish(Event{Kind: KindState, Message: "x"})
	hub.Close()
	if ch.events[0].Time.IsZero() {
		t.Error("time should be set")
	}
}

func TestHubPublishTimesOutWhenFull(t *testing.T) {
	block := make(chan struct{})
	ch := &mockChannel{block: block}
	obs := &dropCounter{}
	hub := NewHub(Config{QueueSize: 1, PublishTimeout: 10 * time.Millisecond}, nil, obs, ch)
	hub.Start()

	// 第一条被投递协程取走并阻塞在通道上，第二条占满队列
	hub.Publish(Event{Kind: KindPrice, Message: "1"})
	time.Sleep(20 * time.Millisecond)
	hub.Publish(Event{Kind: KindPrice, Message: "2"})

	start := time.Now()
	if hub.Publish(Event{Kind: KindPrice, Message: "3"}) {
		t.Fatal("publish should time out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked %v", elapsed)
	}
	if hub.Dropped() != 1 || obs.n != 1 {
		t.Errorf("dropped = %d, observer = %d", hub.Dropped(), obs.n)
	}

	close(block)
	hub.Close()
	if got := ch.messages(); len(got) != 2 {
		t.Errorf("delivered %v", got)
	}
}

// enteringChannel 每次 Send 开始时通知，然后阻塞到放行。
type enteringChannel struct {
	mockChannel
	entered chan struct{}
}

func (c *enteringChannel) Send(e Event) error {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	return c.mockChannel.Send(e)
}

func TestHubSaturatedDropsOnlyPrice(t *testing.T) {
	block := make(chan struct{})
	ch := &enteringChannel{mockChannel: mockChannel{block: block}, entered: make(chan struct{}, 1)}
	hub := NewHub(Config{QueueSize: 1, PublishTimeout: 10 * time.Millisecond}, nil, nil, ch)
	hub.Start()

	hub.Publish(Event{Kind: KindLog, Message: "log1"})
	<-ch.entered
	if !hub.Publish(Event{Kind: KindLog, Message: "log2"}) {
		t.Fatal("log2 dropped")
	}
	if hub.Publish(Event{Kind: KindPrice, Message: "Current Price: 95"}) {
		t.Fatal("price should be dropped while saturated")
	}
	if !hub.Publish(Event{Kind: KindLog, Message: "log3"}) {
		t.Fatal("log event must not be dropped when saturated")
	}
	if !hub.Publish(Event{Kind: KindError, Message: "err1"}) {
		t.Fatal("error event must not be dropped when saturated")
	}

	close(block)
	hub.Close()
	want := []string{"log1", "log2", "log3", "err1"}
	got := ch.messages()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	if hub.Dropped() != 1 {
		t.Errorf("dropped = %d", hub.Dropped())
	}
}

func TestHubPriceWaitsForRoom(t *testing.T) {
	block := make(chan struct{})
	ch := &enteringChannel{mockChannel: mockChannel{block: block}, entered: make(chan struct{}, 1)}
	hub := NewHub(Config{QueueSize: 1, PublishTimeout: time.Second}, nil, nil, ch)
	hub.Start()

	hub.Publish(Event{Kind: KindPrice, Message: "1"})
	<-ch.entered
	hub.Publish(Event{Kind: KindPrice, Message: "2"})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	if !hub.Publish(Event{Kind: KindPrice, Message: "3"}) {
		t.Fatal("price should fit once the backlog is taken")
	}
	hub.Close()
	if got := ch.messages(); len(got) != 3 {
		t.Errorf("delivered %v", got)
	}
}

func TestHubPublishAfterClose(t *testing.T) {
	hub := NewHub(Config{}, nil, nil)
	hub.Start()
	hub.Close()
	if hub.Publish(Event{Kind: KindLog, Message: "late"}) {
		t.Error("publish after close should fail")
	}
	hub.Close()
}

func TestHubChannelErrorDoesNotStopDelivery(t *testing.T) {
	bad := &mockChannel{err: errors.New("disk full")}
	good := &mockChannel{}
	hub := NewHub(Config{}, nil, nil, bad, good)
	hub.Start()
	hub.Publish(Event{Kind: KindError, Message: "a"})
	hub.Publish(Event{Kind: KindError, Message: "b"})
	hub.Close()
	if len(good.messages()) != 2 {
		t.Errorf("good channel got %v", good.messages())
	}
}
