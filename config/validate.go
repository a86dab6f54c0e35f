package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	g := cfg.Gateway
	switch g.Mode {
	case ModePaper:
	case ModeBridge:
		if g.BridgeURL == "" {
			return errors.New("gateway.bridgeURL is required in bridge mode (or OT_BRIDGE_URL)")
		}
		if !strings.HasPrefix(g.BridgeURL, "http://") && !strings.HasPrefix(g.BridgeURL, "https://") {
			return fmt.Errorf("gateway.bridgeURL %q must be http(s)", g.BridgeURL)
		}
	default:
		return fmt.Errorf("gateway.mode %q must be %s or %s", g.Mode, ModePaper, ModeBridge)
	}
	if g.Host == "" {
		return errors.New("gateway.host is required")
	}
	if g.Port <= 0 || g.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", g.Port)
	}
	if g.RateLimit < 0 || g.Burst < 0 || g.TimeoutMs < 0 {
		return errors.New("gateway rateLimit/burst/timeoutMs must be >= 0")
	}

	c := cfg.Contract
	if c.Strike <= 0 {
		return errors.New("contract.strike must be > 0")
	}
	if c.Right != "C" && c.Right != "P" {
		return fmt.Errorf("contract.right %q must be C or P", c.Right)
	}
	if c.Exchange == "" || c.Currency == "" {
		return errors.New("contract.exchange/currency is required")
	}

	t := cfg.Trading
	if t.BuyThreshold <= 0 || t.SellThreshold <= 0 {
		return errors.New("trading thresholds must be > 0")
	}
	if t.TickBuffer < 0 || t.PollIntervalMs < 0 || t.DrainTimeoutMs < 0 {
		return errors.New("trading tickBuffer/pollIntervalMs/drainTimeoutMs must be >= 0")
	}
	if t.ContractSize < 0 {
		return errors.New("trading.contractSize must be >= 0")
	}

	s := cfg.Status
	if s.QueueSize < 0 || s.PublishTimeoutMs < 0 || s.RingSize < 0 {
		return errors.New("status queueSize/publishTimeoutMs/ringSize must be >= 0")
	}

	switch cfg.Paper.FillMode {
	case "", "immediate", "delayed", "manual":
	default:
		return fmt.Errorf("paper.fillMode %q must be immediate, delayed or manual", cfg.Paper.FillMode)
	}
	if cfg.Paper.FillDelayMs < 0 || cfg.Paper.Feed.IntervalMs < 0 {
		return errors.New("paper fillDelayMs/feed.intervalMs must be >= 0")
	}
	return nil
}
