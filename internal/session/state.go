package session

import (
	"errors"
	"fmt"
	"strings"
)

// State 会话状态。没有运行中的交易时处于 Connected，即空闲。
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrAlreadyTrading = errors.New("trading already active")
	ErrNotConnected   = errors.New("not connected to gateway")
	ErrStopping       = errors.New("session is stopping")
	ErrStartAborted   = errors.New("start aborted by stop request")
	ErrInvalidParams  = errors.New("invalid session parameters")
)

// Params 启动一次交易会话所需参数
type Params struct {
	Symbol       string
	Expiration   string
	ContractSize int
}

// Validate 检查必填项，不检查合约是否存在。
func (p Params) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if strings.TrimSpace(p.Expiration) == "" {
		missing = append(missing, "expiration")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidParams, strings.Join(missing, ", "))
	}
	if p.ContractSize <= 0 {
		return fmt.Errorf("%w: contract size %d must be > 0", ErrInvalidParams, p.ContractSize)
	}
	return nil
}
