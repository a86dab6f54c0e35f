package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"options-trader/infrastructure/logger"
	"options-trader/market"
	"options-trader/order"
)

// BridgeConfig 桥接服务客户端配置。桥接服务是运行在 IB Gateway
// 旁边的 HTTP/WebSocket 边车进程。
type BridgeConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Limiter    RateLimiter
	Observer   Observer
	Logger     *logger.Logger
}

// BridgeClient 通过桥接服务访问 IB Gateway。
type BridgeClient struct {
	cfg BridgeConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	subs    map[string]*bridgeSub
	orders  map[string]*order.Handle
	readWG  sync.WaitGroup
}

type bridgeSub struct {
	*subscription
	onTick func(market.Tick)
}

// BridgeError 桥接服务返回的非 2xx 响应。
type BridgeError struct {
	Status  int
	Message string
}

func (e *BridgeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge status %d", e.Status)
	}
	return fmt.Sprintf("bridge status %d: %s", e.Status, e.Message)
}

func NewBridgeClient(cfg BridgeConfig) *BridgeClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewDefaultHTTPClient()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewTokenBucketLimiter(20, 10)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &BridgeClient{
		cfg:    cfg,
		subs:   make(map[string]*bridgeSub),
		orders: make(map[string]*order.Handle),
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func (b *BridgeClient) Connect(ctx context.Context, host string, port, clientID int) error {
	b.mu.Lock()
	connected := b.conn != nil
	b.mu.Unlock()
	if connected {
		return nil
	}

	body := map[string]any{"host": host, "port": port, "clientId": clientID}
	if err := b.do(ctx, "connect", http.MethodPost, "/connect", body, nil); err != nil {
		return &ConnectionError{Addr: addr(host, port), Err: err}
	}

	wsURL, err := streamURL(b.cfg.BaseURL)
	if err != nil {
		return &ConnectionError{Addr: addr(host, port), Err: err}
	}
	conn, _, err := b.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &ConnectionError{Addr: addr(host, port), Err: fmt.Errorf("dial stream: %w", err)}
	}
	if b.cfg.Observer != nil {
		b.cfg.Observer.RecordWSConnection()
	}

	b.mu.Lock()
	b.conn = conn
	b.closing = false
	b.mu.Unlock()

	b.readWG.Add(1)
	go b.readLoop(conn)
	b.cfg.Logger.Info("bridge connected", zap.String("addr", addr(host, port)), zap.Int("client_id", clientID))
	return nil
}

func (b *BridgeClient) Disconnect() error {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	b.conn = nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.do(ctx, "disconnect", http.MethodPost, "/disconnect", nil, nil)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	b.readWG.Wait()
	b.failAll(ErrNotConnected)
	return err
}

func (b *BridgeClient) Qualify(ctx context.Context, c market.Contract) (market.Contract, error) {
	if !b.isConnected() {
		return c, &QualificationError{Contract: c, Err: ErrNotConnected}
	}
	var resp contractDTO
	if err := b.do(ctx, "qualify", http.MethodPost, "/contracts/qualify", toContractDTO(c), &resp); err != nil {
		return c, &QualificationError{Contract: c, Err: err}
	}
	q, err := resp.toContract()
	if err != nil {
		return c, &QualificationError{Contract: c, Err: err}
	}
	if !q.Qualified() {
		return c, &QualificationError{Contract: c, Err: errors.New("bridge returned no conId")}
	}
	return q, nil
}

func (b *BridgeClient) ContractDetails(ctx context.Context, c market.Contract) (*market.ContractDetails, error) {
	if !b.isConnected() {
		return nil, ErrNotConnected
	}
	var resp detailsDTO
	path := "/contracts/" + strconv.FormatInt(c.ConID, 10) + "/details"
	if err := b.do(ctx, "contract_details", http.MethodGet, path, nil, &resp); err != nil {
		var be *BridgeError
		if errors.As(err, &be) && be.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	dc, err := resp.Contract.toContract()
	if err != nil {
		return nil, err
	}
	return &market.ContractDetails{
		Contract:   dc,
		LongName:   resp.LongName,
		MarketName: resp.MarketName,
		MinTick:    resp.MinTick,
	}, nil
}

func (b *BridgeClient) SubscribeTicks(ctx context.Context, c market.Contract, onTick func(market.Tick)) (Subscription, error) {
	if !b.isConnected() {
		return nil, ErrNotConnected
	}
	var resp struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	body := map[string]any{"conId": c.ConID, "symbol": c.Symbol}
	if err := b.do(ctx, "subscribe", http.MethodPost, "/marketdata/subscribe", body, &resp); err != nil {
		return nil, err
	}
	if resp.SubscriptionID == "" {
		return nil, errors.New("bridge returned empty subscriptionId")
	}
	s := &bridgeSub{subscription: newSubscription(resp.SubscriptionID, c), onTick: onTick}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s, nil
}

func (b *BridgeClient) Unsubscribe(sub Subscription) error {
	b.mu.Lock()
	s, ok := b.subs[sub.ID()]
	if ok {
		delete(b.subs, s.id)
		s.finish(nil)
	}
	connected := b.conn != nil
	b.mu.Unlock()
	if !ok || !connected {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.do(ctx, "unsubscribe", http.MethodDelete, "/marketdata/"+url.PathEscape(s.id), nil, nil)
}

func (b *BridgeClient) SubmitOrder(ctx context.Context, c market.Contract, req order.Request) (*order.Handle, error) {
	if !b.isConnected() {
		return nil, ErrNotConnected
	}
	body := map[string]any{
		"conId":      c.ConID,
		"action":     string(req.Action),
		"orderType":  "LMT",
		"quantity":   req.Quantity,
		"limitPrice": req.LimitPrice,
		"orderRef":   uuid.NewString(),
	}
	var resp OrderStatusPayload
	if err := b.do(ctx, "place_order", http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}
	if resp.OrderID == "" {
		return nil, errors.New("bridge returned empty orderId")
	}
	h := order.NewHandle(order.Order{ID: resp.OrderID, Symbol: c.Symbol, Request: req})
	b.mu.Lock()
	b.orders[resp.OrderID] = h
	b.mu.Unlock()
	if resp.Status != "" {
		b.applyStatus(h, resp)
	} else {
		_ = h.Update(order.StatusSubmitted, "")
	}
	return h, nil
}

func (b *BridgeClient) PollStatus(ctx context.Context, h *order.Handle) (order.Status, error) {
	var resp OrderStatusPayload
	if err := b.do(ctx, "order_status", http.MethodGet, "/orders/"+url.PathEscape(h.ID()), nil, &resp); err != nil {
		var be *BridgeError
		if errors.As(err, &be) && be.Status == http.StatusNotFound {
			return "", ErrUnknownOrder
		}
		return "", err
	}
	st, err := MapIBStatus(resp)
	if err != nil {
		return "", err
	}
	if resp.Reason != "" && order.IsTerminal(st) {
		_ = h.Update(st, resp.Reason)
	}
	return st, nil
}

func (b *BridgeClient) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *BridgeClient) applyStatus(h *order.Handle, p OrderStatusPayload) {
	st, err := MapIBStatus(p)
	if err != nil {
		b.cfg.Logger.Warn("ignore order status", zap.String("order_id", p.OrderID), zap.Error(err))
		return
	}
	if err := h.Update(st, p.Reason); err != nil {
		b.cfg.Logger.Debug("order status not applied", zap.String("order_id", p.OrderID), zap.Error(err))
	}
	if order.IsTerminal(st) {
		b.mu.Lock()
		delete(b.orders, p.OrderID)
		b.mu.Unlock()
	}
}

// readLoop 读取推送直到连接关闭；非主动关闭时结束所有订阅。
func (b *BridgeClient) readLoop(conn *websocket.Conn) {
	defer b.readWG.Done()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if b.cfg.Observer != nil {
				b.cfg.Observer.RecordWSDisconnect()
			}
			b.mu.Lock()
			closing := b.closing
			if !closing {
				b.conn = nil
			}
			b.mu.Unlock()
			if !closing {
				b.cfg.Logger.Error("bridge stream lost", zap.Error(err))
				b.failAll(fmt.Errorf("market data stream lost: %w", err))
				_ = conn.Close()
			}
			return
		}
		b.dispatch(raw)
	}
}

func (b *BridgeClient) dispatch(raw []byte) {
	msg, err := ParseStreamMessage(raw)
	if err != nil {
		b.cfg.Logger.Warn("bad stream message", zap.Error(err))
		return
	}
	switch msg.Type {
	case streamTick:
		id, t, err := ParseTick(msg.Data)
		if err != nil {
			b.cfg.Logger.Warn("bad tick", zap.Error(err))
			return
		}
		b.mu.Lock()
		s, ok := b.subs[id]
		b.mu.Unlock()
		if ok {
			s.onTick(t)
		}
	case streamOrderStatus:
		p, err := ParseOrderStatus(msg.Data)
		if err != nil {
			b.cfg.Logger.Warn("bad order status", zap.Error(err))
			return
		}
		b.mu.Lock()
		h, ok := b.orders[p.OrderID]
		b.mu.Unlock()
		if ok {
			b.applyStatus(h, p)
		}
	}
}

func (b *BridgeClient) failAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		s.finish(err)
		delete(b.subs, id)
	}
}

func (b *BridgeClient) do(ctx context.Context, action, method, path string, in, out any) error {
	if err := b.cfg.Limiter.Wait(ctx); err != nil {
		return err
	}
	obs := b.cfg.Observer
	if obs != nil {
		obs.RecordRESTRequest(action)
	}
	start := time.Now()
	err := b.roundTrip(ctx, method, path, in, out)
	if obs != nil {
		obs.RecordRESTLatency(action, time.Since(start).Seconds())
		if err != nil {
			obs.RecordRESTError(action)
		}
	}
	return err
}

func (b *BridgeClient) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &BridgeError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported bridge scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream"
	return u.String(), nil
}
