package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"options-trader/config"
	"options-trader/gateway"
	"options-trader/infrastructure/logger"
	"options-trader/infrastructure/monitor"
	"options-trader/internal/control"
	"options-trader/internal/session"
	"options-trader/internal/status"
	"options-trader/market"
	"options-trader/strategy"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor

	// 状态输出
	hub       *status.Hub
	ring      *status.Ring
	dailyFile *status.DailyFileChannel

	// 券商网关
	gw gateway.Client

	// 核心服务
	marketData *market.Service
	session    *session.Session
	dispatcher *control.Dispatcher
	controller *control.Controller

	// HTTP服务器
	apiServer     *httpServerComponent
	metricsServer *httpServerComponent
	watcher       *config.Watcher

	mu             sync.Mutex
	lastThresholds strategy.Thresholds

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 读取配置文件（含环境变量覆盖）创建 Container
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewWithConfig 使用已加载的配置创建 Container，不监听配置文件。
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := config.Validate(c.cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("gateway_mode", c.cfg.Gateway.Mode),
		zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []status.Channel{status.NewLoggerChannel(c.logger)}
	if c.cfg.Status.Dir != "" {
		c.dailyFile = status.NewDailyFileChannel(c.cfg.Status.Dir)
		channels = append(channels, c.dailyFile)
	}
	c.ring = status.NewRing(c.cfg.Status.RingSize)
	channels = append(channels, c.ring)

	c.hub = status.NewHub(status.Config{
		QueueSize:      c.cfg.Status.QueueSize,
		PublishTimeout: c.cfg.Status.PublishTimeout(),
	}, c.logger, c.monitor, channels...)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() {
	g := c.cfg.Gateway
	switch g.Mode {
	case config.ModeBridge:
		c.gw = gateway.NewBridgeClient(gateway.BridgeConfig{
			BaseURL:    g.BridgeURL,
			HTTPClient: &http.Client{Timeout: g.Timeout()},
			Limiter:    gateway.NewTokenBucketLimiter(g.RateLimit, g.Burst),
			Observer:   c.monitor,
			Logger:     c.logger,
		})
	default:
		p := c.cfg.Paper
		c.gw = gateway.NewPaperClient(gateway.PaperConfig{
			FillMode:       gateway.FillMode(p.FillMode),
			FillDelay:      time.Duration(p.FillDelayMs) * time.Millisecond,
			UnknownSymbols: p.UnknownSymbols,
			TickBuffer:     c.cfg.Trading.TickBuffer,
			Feed: gateway.FeedConfig{
				StartPrice: p.Feed.StartPrice,
				StepPct:    p.Feed.StepPct,
				Interval:   time.Duration(p.Feed.IntervalMs) * time.Millisecond,
				Seed:       p.Feed.Seed,
			},
		})
	}
	c.logger.Info("gateway built", zap.String("mode", g.Mode))
}

func (c *Container) buildCoreServices() error {
	c.marketData = market.NewService()

	t := c.cfg.Trading
	c.lastThresholds = t.Thresholds()
	sess, err := session.New(session.Config{
		Option:       c.cfg.Contract.OptionSpec(),
		Thresholds:   c.lastThresholds,
		TickBuffer:   t.TickBuffer,
		PollInterval: t.PollInterval(),
		DrainTimeout: t.DrainTimeout(),
	}, session.Components{
		Gateway:    c.gw,
		Status:     c.hub,
		Logger:     c.logger,
		Metrics:    c.monitor,
		MarketData: c.marketData,
	})
	if err != nil {
		return err
	}
	c.session = sess

	c.dispatcher = control.NewDispatcher(0, c.logger)
	c.controller = control.NewController(c.dispatcher, c.session, c.hub, control.GatewayAddr{
		Host:     c.cfg.Gateway.Host,
		Port:     c.cfg.Gateway.Port,
		ClientID: c.cfg.Gateway.ClientID,
	}, c.logger)
	c.hub.AddChannel(c.controller.PanelChannel())

	c.logger.Info("core services built")
	return nil
}

// registerLifecycleComponents 注册顺序即启动顺序，停止时逆序。
func (c *Container) registerLifecycleComponents() error {
	c.lifecycle.Register(&funcComponent{
		name:  "dispatcher",
		start: func(context.Context) error { c.dispatcher.Start(); return nil },
		stop:  func() error { c.dispatcher.Close(); return nil },
	})
	c.lifecycle.Register(&funcComponent{
		name:  "status_hub",
		start: func(context.Context) error { c.hub.Start(); return nil },
		stop: func() error {
			c.hub.Close()
			if c.dailyFile != nil {
				return c.dailyFile.Close()
			}
			return nil
		},
	})

	if addr := c.cfg.HTTP.MetricsAddr; addr != "" {
		c.metricsServer = &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.metricsServer)
	}

	if addr := c.cfg.HTTP.Addr; addr != "" {
		if c.cfg.Env == "prod" {
			gin.SetMode(gin.ReleaseMode)
		}
		c.apiServer = &httpServerComponent{
			name:    "api_server",
			handler: control.NewRouter(c.controller, c.ring, c.logger),
			addr:    addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.apiServer)
	}

	c.lifecycle.Register(&funcComponent{
		name:  "trading_session",
		start: c.startTrading,
		stop:  c.stopTrading,
	})

	if c.configPath != "" {
		w, err := config.NewWatcher(c.configPath, time.Second, c.logger)
		if err != nil {
			return err
		}
		c.watcher = w
		c.lifecycle.Register(&funcComponent{
			name:  "config_watcher",
			start: func(ctx context.Context) error { return w.Start(ctx, c.ApplyConfig) },
			stop:  w.Stop,
		})
	}
	return nil
}

// startTrading 按配置自动连接和开始交易；失败只记录，进程继续等待控制命令。
func (c *Container) startTrading(ctx context.Context) error {
	t := c.cfg.Trading
	if !c.cfg.Gateway.AutoConnect && !t.AutoStart() {
		return nil
	}
	if err := c.controller.Connect(ctx); err != nil {
		c.logger.Warn("auto connect failed", zap.Error(err))
		return nil
	}
	if !t.AutoStart() {
		return nil
	}
	if err := c.controller.StartTrading(ctx, t.Symbol, t.Expiration, strconv.Itoa(t.ContractSize)); err != nil {
		c.logger.Warn("auto start failed", zap.String("symbol", t.Symbol), zap.Error(err))
	}
	return nil
}

// stopTrading 停止会话并断开网关，最多等待在途订单 DrainTimeout。
func (c *Container) stopTrading() error {
	timeout := c.cfg.Trading.DrainTimeout() + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := c.session.Disconnect(ctx)
	if errors.Is(err, gateway.ErrNotConnected) {
		return nil
	}
	return err
}

// ApplyConfig 处理热加载的配置。只有阈值支持运行时修改，其余字段需要重启。
func (c *Container) ApplyConfig(cfg config.AppConfig) {
	th := cfg.Trading.Thresholds()
	c.mu.Lock()
	changed := th != c.lastThresholds
	c.lastThresholds = th
	c.mu.Unlock()
	if !changed {
		return
	}
	c.logger.Info("thresholds reloaded", zap.Float64("buy", th.Buy), zap.Float64("sell", th.Sell))
	c.controller.ApplyThresholds(th)
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.logger.Info("container stopped", zap.Uint64("status_dropped", c.hub.Dropped()))
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.AppConfig        { return c.cfg }
func (c *Container) Logger() *logger.Logger          { return c.logger }
func (c *Container) Monitor() *monitor.Monitor       { return c.monitor }
func (c *Container) Gateway() gateway.Client         { return c.gw }
func (c *Container) Session() *session.Session       { return c.session }
func (c *Container) Controller() *control.Controller { return c.controller }
func (c *Container) Events() *status.Ring            { return c.ring }

// APIAddr 控制 API 实际监听地址，未启用时为空。
func (c *Container) APIAddr() string {
	if c.apiServer == nil {
		return ""
	}
	return c.apiServer.Addr()
}
