package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ch := make(chan AppConfig, 4)
	if err := w.Start(context.Background(), func(cfg AppConfig) { ch <- cfg }); err != nil {
		t.Fatalf("start: %v", err)
	}

	body := "env: dev\ntrading:\n  buyThreshold: 90\n  sellThreshold: 130\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Trading.BuyThreshold != 90 || cfg.Trading.SellThreshold != 130 {
			t.Fatalf("unexpected reload: %+v", cfg.Trading)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update callback")
	}
	if w.LastReload().IsZero() {
		t.Fatalf("expected last reload time")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ch := make(chan AppConfig, 1)
	if err := w.Start(context.Background(), func(cfg AppConfig) { ch <- cfg }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := os.WriteFile(path, []byte("env: dev\ncontract:\n  right: X\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	path := writeTempConfig(t, "env: dev\n")
	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
		t.Fatalf("watch goroutine did not exit")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
