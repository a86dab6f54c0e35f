package market

import (
	"fmt"
	"strings"
	"time"
)

// SecType identifies the security class of a contract.
type SecType string

const (
	SecTypeStock  SecType = "STK"
	SecTypeOption SecType = "OPT"
)

// Right is the option right. Only calls are built by the trader.
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// Contract describes an instrument. A zero ConID means the contract has not
// been qualified by the broker yet.
type Contract struct {
	ConID      int64
	SecType    SecType
	Symbol     string
	Exchange   string
	Currency   string
	Expiration string // YYYYMMDD, options only
	Strike     float64
	Right      Right
	Multiplier int
}

// Qualified reports whether the broker has resolved the contract.
func (c Contract) Qualified() bool { return c.ConID != 0 }

func (c Contract) String() string {
	if c.SecType == SecTypeOption {
		return fmt.Sprintf("%s %s %.2f%s @%s", c.Symbol, c.Expiration, c.Strike, c.Right, c.Exchange)
	}
	return fmt.Sprintf("%s %s @%s", c.Symbol, c.SecType, c.Exchange)
}

// ContractDetails is broker metadata for a qualified contract.
type ContractDetails struct {
	Contract   Contract
	LongName   string
	MarketName string
	MinTick    float64
}

// OptionSpec holds the fixed parts of the option the trader derives from
// an underlying.
type OptionSpec struct {
	Strike   float64
	Right    Right
	Exchange string
	Currency string
}

// DefaultOptionSpec matches the SMART/USD 100-strike call the bot trades.
func DefaultOptionSpec() OptionSpec {
	return OptionSpec{Strike: 100, Right: RightCall, Exchange: "SMART", Currency: "USD"}
}

// Stock returns the unqualified underlying contract.
func (s OptionSpec) Stock(symbol string) Contract {
	return Contract{
		SecType:  SecTypeStock,
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange: s.Exchange,
		Currency: s.Currency,
	}
}

// Option returns the unqualified option contract on symbol. The multiplier
// carries the session's contract size.
func (s OptionSpec) Option(symbol, expiration string, contractSize int) Contract {
	return Contract{
		SecType:    SecTypeOption,
		Symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange:   s.Exchange,
		Currency:   s.Currency,
		Expiration: NormalizeExpiration(expiration),
		Strike:     s.Strike,
		Right:      s.Right,
		Multiplier: contractSize,
	}
}

// NormalizeExpiration strips separators so both 2025-01-19 and 20250119
// reach the broker as 20250119. Anything else is passed through unchanged
// and left for qualification to reject.
func NormalizeExpiration(exp string) string {
	exp = strings.TrimSpace(exp)
	compact := strings.ReplaceAll(exp, "-", "")
	if len(compact) == 8 && len(exp) == 10 {
		return compact
	}
	return exp
}

// ParseExpiration validates a normalized YYYYMMDD expiration.
func ParseExpiration(exp string) (time.Time, error) {
	t, err := time.Parse("20060102", NormalizeExpiration(exp))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiration %q: want YYYYMMDD", exp)
	}
	return t, nil
}

// Describe renders the contract panel text.
func Describe(c Contract, contractSize int) string {
	return fmt.Sprintf("Symbol: %s\nExpiration: %s\nStrike: %v\nRight: %s\nExchange: %s\nContract Size: %d",
		c.Symbol, c.Expiration, c.Strike, c.Right, c.Exchange, contractSize)
}
