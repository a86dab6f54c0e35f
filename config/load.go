package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"options-trader/infrastructure/logger"
	"options-trader/market"
	"options-trader/strategy"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Contract ContractConfig `yaml:"contract"`
	Trading  TradingConfig  `yaml:"trading"`
	Log      logger.Config  `yaml:"log"`
	Status   StatusConfig   `yaml:"status"`
	HTTP     HTTPConfig     `yaml:"http"`
	Paper    PaperConfig    `yaml:"paper"`
}

const (
	ModePaper  = "paper"
	ModeBridge = "bridge"
)

// GatewayConfig 券商网关连接参数
type GatewayConfig struct {
	Mode        string  `yaml:"mode"` // paper 或 bridge
	Host        string  `yaml:"host"`
	Port        int     `yaml:"port"`
	ClientID    int     `yaml:"clientId"`
	BridgeURL   string  `yaml:"bridgeURL"`
	RateLimit   float64 `yaml:"rateLimit"` // 桥接 REST 每秒请求数
	Burst       int     `yaml:"burst"`
	TimeoutMs   int     `yaml:"timeoutMs"`
	AutoConnect bool    `yaml:"autoConnect"`
}

// ContractConfig 期权合约的固定部分
type ContractConfig struct {
	Strike   float64 `yaml:"strike"`
	Right    string  `yaml:"right"`
	Exchange string  `yaml:"exchange"`
	Currency string  `yaml:"currency"`
}

// TradingConfig 阈值和执行参数。Symbol/Expiration/ContractSize 同时给出时启动后自动开始交易。
type TradingConfig struct {
	BuyThreshold   float64 `yaml:"buyThreshold"`
	SellThreshold  float64 `yaml:"sellThreshold"`
	TickBuffer     int     `yaml:"tickBuffer"`
	PollIntervalMs int     `yaml:"pollIntervalMs"`
	DrainTimeoutMs int     `yaml:"drainTimeoutMs"`
	Symbol         string  `yaml:"symbol"`
	Expiration     string  `yaml:"expiration"`
	ContractSize   int     `yaml:"contractSize"`
}

// StatusConfig 状态消息输出
type StatusConfig struct {
	Dir              string `yaml:"dir"` // 每日文本日志目录，空则不落盘
	QueueSize        int    `yaml:"queueSize"`
	PublishTimeoutMs int    `yaml:"publishTimeoutMs"`
	RingSize         int    `yaml:"ringSize"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"`        // 控制 API，空则不启动
	MetricsAddr string `yaml:"metricsAddr"` // prometheus，空则不启动
}

// PaperConfig 纸面券商参数
type PaperConfig struct {
	FillMode       string     `yaml:"fillMode"`
	FillDelayMs    int        `yaml:"fillDelayMs"`
	UnknownSymbols []string   `yaml:"unknownSymbols"`
	Feed           FeedConfig `yaml:"feed"`
}

type FeedConfig struct {
	StartPrice float64 `yaml:"startPrice"`
	StepPct    float64 `yaml:"stepPct"`
	IntervalMs int     `yaml:"intervalMs"`
	Seed       int64   `yaml:"seed"`
}

// Default 返回可直接运行的纸面交易配置。
func Default() AppConfig {
	th := strategy.DefaultThresholds()
	spec := market.DefaultOptionSpec()
	return AppConfig{
		Env: "dev",
		Gateway: GatewayConfig{
			Mode:      ModePaper,
			Host:      "127.0.0.1",
			Port:      4002,
			ClientID:  1,
			RateLimit: 20,
			Burst:     10,
			TimeoutMs: 10000,
		},
		Contract: ContractConfig{
			Strike:   spec.Strike,
			Right:    string(spec.Right),
			Exchange: spec.Exchange,
			Currency: spec.Currency,
		},
		Trading: TradingConfig{
			BuyThreshold:   th.Buy,
			SellThreshold:  th.Sell,
			TickBuffer:     64,
			PollIntervalMs: 1000,
			DrainTimeoutMs: 30000,
		},
		Log: logger.DefaultConfig(),
		Status: StatusConfig{
			Dir:              "logs",
			QueueSize:        256,
			PublishTimeoutMs: 50,
			RingSize:         200,
		},
		Paper: PaperConfig{FillMode: "immediate"},
	}
}

// Thresholds 配置中的阈值
func (t TradingConfig) Thresholds() strategy.Thresholds {
	return strategy.Thresholds{Buy: t.BuyThreshold, Sell: t.SellThreshold}
}

// AutoStart 是否配置了启动即交易
func (t TradingConfig) AutoStart() bool {
	return t.Symbol != "" && t.Expiration != "" && t.ContractSize > 0
}

func (t TradingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

func (t TradingConfig) DrainTimeout() time.Duration {
	return time.Duration(t.DrainTimeoutMs) * time.Millisecond
}

// OptionSpec 转换为 market.OptionSpec
func (c ContractConfig) OptionSpec() market.OptionSpec {
	return market.OptionSpec{
		Strike:   c.Strike,
		Right:    market.Right(c.Right),
		Exchange: c.Exchange,
		Currency: c.Currency,
	}
}

func (s StatusConfig) PublishTimeout() time.Duration {
	return time.Duration(s.PublishTimeoutMs) * time.Millisecond
}

func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides connection fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// ApplyEnv 应用 OT_* 环境变量
func ApplyEnv(cfg *AppConfig) error {
	if v := os.Getenv("OT_GATEWAY_MODE"); v != "" {
		cfg.Gateway.Mode = v
	}
	if v := os.Getenv("OT_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("OT_GATEWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OT_GATEWAY_PORT: %w", err)
		}
		cfg.Gateway.Port = port
	}
	if v := os.Getenv("OT_GATEWAY_CLIENT_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OT_GATEWAY_CLIENT_ID: %w", err)
		}
		cfg.Gateway.ClientID = id
	}
	if v := os.Getenv("OT_BRIDGE_URL"); v != "" {
		cfg.Gateway.BridgeURL = v
	}
	return nil
}
