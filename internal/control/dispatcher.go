package control

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"options-trader/infrastructure/logger"
)

// ErrDispatcherClosed 调度器已关闭
var ErrDispatcherClosed = errors.New("control dispatcher closed")

// Dispatcher 控制域：单协程按 FIFO 顺序执行所有控制请求和面板更新。
type Dispatcher struct {
	log   *logger.Logger
	queue chan func()
	quit  chan struct{}
	done  chan struct{}
	start sync.Once
	stop  sync.Once
}

func NewDispatcher(size int, log *logger.Logger) *Dispatcher {
	if size <= 0 {
		size = 128
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		log:   log,
		queue: make(chan func(), size),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.start.Do(func() { go d.loop() })
}

// Close 执行完已排队的任务后返回。
func (d *Dispatcher) Close() {
	d.stop.Do(func() { close(d.quit) })
	d.Start()
	<-d.done
}

// Post 排队一个任务，不等待执行。关闭后返回 false。
func (d *Dispatcher) Post(fn func()) bool {
	select {
	case <-d.quit:
		return false
	default:
	}
	select {
	case d.queue <- fn:
		return true
	case <-d.quit:
		return false
	}
}

const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

var errTaskPanicked = errors.New("control task panicked")

// Do 排队并等待任务完成，返回任务的错误。
// ctx 在任务开始前结束时任务被跳过并返回 ctx.Err()；任务一旦开始就等待它完成，
// 所以返回错误时任务一定没有执行。
func (d *Dispatcher) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var state atomic.Int32
	result := make(chan error, 1)
	ok := d.Post(func() {
		if !state.CompareAndSwap(taskQueued, taskRunning) {
			return
		}
		err := errTaskPanicked
		defer func() { result <- err }()
		err = fn()
	})
	if !ok {
		return ErrDispatcherClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ctx.Err()
		}
		return <-result
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.queue:
			d.run(fn)
		case <-d.quit:
			for {
				select {
				case fn := <-d.queue:
					d.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("control task panicked",
				zap.String("panic", fmt.Sprint(rec)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	fn()
}
