package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"options-trader/market"
	"options-trader/order"
)

// StreamMessage 桥接服务 /stream 推送的外层包装。
type StreamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	streamTick        = "tick"
	streamOrderStatus = "orderStatus"
)

// TickPayload 行情推送。Last 缺失、NaN 或非正数时视为无成交价。
type TickPayload struct {
	SubscriptionID string   `json:"subscriptionId"`
	Symbol         string   `json:"symbol"`
	Last           *float64 `json:"last"`
	Time           int64    `json:"time"` // unix ms
}

// OrderStatusPayload 订单状态推送，也是 GET /orders/{id} 的响应体。
type OrderStatusPayload struct {
	OrderID   string  `json:"orderId"`
	Status    string  `json:"status"`
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`
	Reason    string  `json:"reason,omitempty"`
}

type contractDTO struct {
	ConID      int64   `json:"conId,omitempty"`
	SecType    string  `json:"secType"`
	Symbol     string  `json:"symbol"`
	Exchange   string  `json:"exchange"`
	Currency   string  `json:"currency"`
	Expiration string  `json:"lastTradeDateOrContractMonth,omitempty"`
	Strike     float64 `json:"strike,omitempty"`
	Right      string  `json:"right,omitempty"`
	Multiplier string  `json:"multiplier,omitempty"`
}

type detailsDTO struct {
	Contract   contractDTO `json:"contract"`
	LongName   string      `json:"longName"`
	MarketName string      `json:"marketName"`
	MinTick    float64     `json:"minTick"`
}

// ParseStreamMessage 解析外层包装。
func ParseStreamMessage(raw []byte) (StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("stream message without type")
	}
	return msg, nil
}

// ParseTick 把推送转换成 market.Tick，返回所属订阅 ID。
func ParseTick(data json.RawMessage) (string, market.Tick, error) {
	var p TickPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", market.Tick{}, err
	}
	ts := time.Now()
	if p.Time > 0 {
		ts = time.UnixMilli(p.Time)
	}
	t := market.Tick{Symbol: p.Symbol, Time: ts}
	if p.Last != nil && !math.IsNaN(*p.Last) && *p.Last > 0 {
		t.Price = *p.Last
		t.HasPrice = true
	}
	return p.SubscriptionID, t, nil
}

// ParseOrderStatus 解析订单状态推送。
func ParseOrderStatus(data json.RawMessage) (OrderStatusPayload, error) {
	var p OrderStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.OrderID == "" {
		return p, fmt.Errorf("order status without orderId")
	}
	return p, nil
}

// MapIBStatus 把 IB 订单状态映射到本地状态。
// Submitted 且已部分成交时视为 PARTIAL。
func MapIBStatus(p OrderStatusPayload) (order.Status, error) {
	switch p.Status {
	case "PendingSubmit", "PendingCancel", "PreSubmitted", "Submitted":
		if p.Filled > 0 && p.Remaining > 0 {
			return order.StatusPartial, nil
		}
		return order.StatusSubmitted, nil
	case "Filled":
		return order.StatusFilled, nil
	case "Cancelled", "ApiCancelled":
		return order.StatusCanceled, nil
	case "Inactive", "Rejected":
		return order.StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown order status %q", p.Status)
	}
}

func toContractDTO(c market.Contract) contractDTO {
	d := contractDTO{
		ConID:      c.ConID,
		SecType:    string(c.SecType),
		Symbol:     c.Symbol,
		Exchange:   c.Exchange,
		Currency:   c.Currency,
		Expiration: c.Expiration,
		Strike:     c.Strike,
		Right:      string(c.Right),
	}
	if c.Multiplier > 0 {
		d.Multiplier = strconv.Itoa(c.Multiplier)
	}
	return d
}

func (d contractDTO) toContract() (market.Contract, error) {
	c := market.Contract{
		ConID:      d.ConID,
		SecType:    market.SecType(d.SecType),
		Symbol:     d.Symbol,
		Exchange:   d.Exchange,
		Currency:   d.Currency,
		Expiration: d.Expiration,
		Strike:     d.Strike,
		Right:      market.Right(d.Right),
	}
	if d.Multiplier != "" {
		m, err := strconv.Atoi(d.Multiplier)
		if err != nil {
			return c, fmt.Errorf("multiplier %q: %w", d.Multiplier, err)
		}
		c.Multiplier = m
	}
	return c, nil
}
