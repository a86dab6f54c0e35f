package order

import (
	"fmt"
	"sort"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

var defaultMachine = NewStateMachine()

func (sm *StateMachine) initializeTransitions() {
	legal := []StateTransition{
		// 本地创建，尚未被券商确认
		{StatusPending, StatusSubmitted},
		{StatusPending, StatusFilled},
		{StatusPending, StatusCanceled},
		{StatusPending, StatusRejected},

		{StatusSubmitted, StatusPartial},
		{StatusSubmitted, StatusFilled},
		{StatusSubmitted, StatusCanceled},
		{StatusSubmitted, StatusRejected},

		// 部分成交不做数量对账，只等待终态
		{StatusPartial, StatusPartial},
		{StatusPartial, StatusFilled},
		{StatusPartial, StatusCanceled},
		{StatusPartial, StatusRejected}, // IB Inactive after a partial fill

		// 终态不能转换（FILLED, CANCELED, REJECTED）
	}
	for _, t := range legal {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current Status) []Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	allowed := make([]Status, 0)
	for t := range sm.transitions {
		if t.From == current && t.To != current {
			allowed = append(allowed, t.To)
		}
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	return IsTerminal(status)
}

// IsTerminal 终态：成交、撤销、拒绝
func IsTerminal(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}
