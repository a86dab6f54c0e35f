package control

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"options-trader/gateway"
	"options-trader/infrastructure/logger"
	"options-trader/internal/session"
	"options-trader/internal/status"
)

// EventSource 最近的状态事件，*status.Ring 实现该接口。
type EventSource interface {
	Recent(n int) []status.Event
}

type startRequest struct {
	Symbol       string `json:"symbol"`
	Expiration   string `json:"expiration"`
	ContractSize string `json:"contractSize"`
}

type thresholdsRequest struct {
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
}

// NewRouter 构建控制 API。所有写操作都经过 Controller 进入调度协程。
func NewRouter(c *Controller, events EventSource, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/connect", func(ctx *gin.Context) {
		if err := c.Connect(ctx.Request.Context()); err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"state": c.trader.State().String()})
	})

	r.POST("/disconnect", func(ctx *gin.Context) {
		if err := c.Disconnect(ctx.Request.Context()); err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"state": c.trader.State().String()})
	})

	r.POST("/start", func(ctx *gin.Context) {
		var req startRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start payload"})
			return
		}
		if err := c.StartTrading(ctx.Request.Context(), req.Symbol, req.Expiration, req.ContractSize); err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"state": c.trader.State().String()})
	})

	r.POST("/stop", func(ctx *gin.Context) {
		if err := c.StopTrading(ctx.Request.Context()); err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusAccepted, gin.H{"state": c.trader.State().String()})
	})

	r.PUT("/thresholds", func(ctx *gin.Context) {
		var req thresholdsRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidThresholds})
			return
		}
		if err := c.SetParameters(ctx.Request.Context(), req.Buy, req.Sell); err != nil {
			writeError(ctx, err)
			return
		}
		th := c.trader.Thresholds()
		ctx.JSON(http.StatusOK, gin.H{"message": MsgParamsUpdated, "buy": th.Buy, "sell": th.Sell})
	})

	r.GET("/status", func(ctx *gin.Context) {
		snap, err := c.Snapshot(ctx.Request.Context())
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, snap)
	})

	r.GET("/events", func(ctx *gin.Context) {
		if events == nil {
			ctx.JSON(http.StatusOK, []status.Event{})
			return
		}
		n, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
		out := events.Recent(n)
		if out == nil {
			out = []status.Event{}
		}
		ctx.JSON(http.StatusOK, out)
	})

	return r
}

// StatusCode 把领域错误映射为 HTTP 状态码。
func StatusCode(err error) int {
	var (
		ce *gateway.ConnectionError
		qe *gateway.QualificationError
	)
	switch {
	case IsValidation(err), errors.Is(err, session.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyTrading),
		errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrStopping),
		errors.Is(err, session.ErrStartAborted):
		return http.StatusConflict
	case errors.As(err, &ce), errors.As(err, &qe), errors.Is(err, gateway.ErrNotConnected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx *gin.Context, err error) {
	ctx.JSON(StatusCode(err), gin.H{"error": err.Error()})
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		log.Debug("control request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
