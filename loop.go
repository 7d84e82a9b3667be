package interceptz

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// Scheduler runs settlement work for asynchronous calls.
type Scheduler interface {
	Schedule(task func())
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(task func())

// Schedule calls f(task).
func (f SchedulerFunc) Schedule(task func()) {
	f(task)
}

// Inline runs every task immediately on the calling goroutine.
var Inline Scheduler = SchedulerFunc(func(task func()) {
	task()
})

// LoopOption configures a Loop during creation.
type LoopOption func(*loopConfig)

type loopConfig struct {
	clock        clockz.Clock
	logger       *slog.Logger
	backpressure *BackpressureConfig
	workers      int
	queueSize    int
}

// defaultQueuePerWorker sizes the queue when LoopQueueSize is not set.
const defaultQueuePerWorker = 64

// LoopWorkers sets the number of worker goroutines.
// Default is 1, which runs settlement work one task at a time in
// submission order.
func LoopWorkers(count int) LoopOption {
	return func(c *loopConfig) {
		c.workers = count
	}
}

// LoopQueueSize sets the task queue size.
// Default is 0, which auto-calculates as workers * 64.
func LoopQueueSize(size int) LoopOption {
	return func(c *loopConfig) {
		c.queueSize = size
	}
}

// LoopClock sets the clock used for backpressure waits.
// Default is clockz.RealClock.
func LoopClock(clock clockz.Clock) LoopOption {
	return func(c *loopConfig) {
		c.clock = clock
	}
}

// LoopLogger sets the logger for recovered panics and inline fallbacks.
// Default is slog.Default().
func LoopLogger(logger *slog.Logger) LoopOption {
	return func(c *loopConfig) {
		c.logger = logger
	}
}

// BackpressureConfig configures how long Schedule waits for queue space
// before running a task inline.
type BackpressureConfig struct {
	// Maximum time Schedule will block waiting for queue space
	MaxWait time.Duration

	// Queue utilization threshold to start applying backpressure (0.0-1.0)
	StartThreshold float32

	// Backpressure strategy: "fixed", "linear", "exponential"
	Strategy string
}

// LoopBackpressure enables backpressure. Without it a full queue makes
// Schedule run the task inline straight away.
func LoopBackpressure(cfg BackpressureConfig) LoopOption {
	return func(c *loopConfig) {
		c.backpressure = &cfg
	}
}

// Loop is a worker-pool event queue for settlement work.
//
// Settlement tasks carry hook callbacks that must run exactly once, so a
// Loop never drops a task: when the queue stays full, or after Close, the
// task runs inline on the goroutine calling Schedule.
//
// Example:
//
//	loop := interceptz.NewLoop(interceptz.LoopWorkers(1))
//	defer loop.Close()
//
//	proxy, err := interceptz.Wrap(client, tracer, interceptz.WithScheduler(loop))
type Loop struct {
	clock        clockz.Clock
	logger       *slog.Logger
	tasks        chan func()
	backpressure *BackpressureConfig
	wg           sync.WaitGroup
	mu           sync.RWMutex
	closed       bool
	metrics      Metrics
}

// NewLoop creates and starts a Loop.
func NewLoop(opts ...LoopOption) *Loop {
	cfg := loopConfig{
		clock:     clockz.RealClock,
		logger:    slog.Default(),
		workers:   1,
		queueSize: 0,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = cfg.workers * defaultQueuePerWorker
	}

	l := &Loop{
		clock:        cfg.clock,
		logger:       cfg.logger,
		tasks:        make(chan func(), cfg.queueSize),
		backpressure: cfg.backpressure,
	}
	for i := 0; i < cfg.workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Schedule queues task for a worker, falling back to running it inline.
func (l *Loop) Schedule(task func()) {
	if l.submit(task) {
		return
	}
	atomic.AddInt64(&l.metrics.TasksInlined, 1)
	l.logger.Debug("interceptz: loop saturated or closed, running task inline")
	l.runSafely(task)
}

// submit tries to queue task, applying backpressure when configured.
func (l *Loop) submit(task func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return false
	}

	select {
	case l.tasks <- task:
		atomic.AddInt64(&l.metrics.QueueDepth, 1)
		return true
	default:
	}

	if l.backpressure == nil {
		return false
	}

	// Queue is known to be full at this point
	utilization := float32(1.0)
	if utilization < l.backpressure.StartThreshold {
		return false
	}
	delay := l.backpressureDelay(utilization)
	if delay > l.backpressure.MaxWait {
		delay = l.backpressure.MaxWait
	}

	select {
	case l.tasks <- task:
		atomic.AddInt64(&l.metrics.QueueDepth, 1)
		return true
	case <-l.clock.After(delay):
		return false
	}
}

// backpressureDelay computes delay based on utilization and strategy.
func (l *Loop) backpressureDelay(utilization float32) time.Duration {
	bp := l.backpressure
	factor := float32(1.0)
	if bp.StartThreshold < 1.0 {
		factor = (utilization - bp.StartThreshold) / (1.0 - bp.StartThreshold)
	}
	if factor < 0 {
		factor = 0
	}
	switch bp.Strategy {
	case "linear":
		return time.Duration(float32(bp.MaxWait) * factor)
	case "exponential":
		return time.Duration(float32(bp.MaxWait) * factor * factor)
	default:
		return bp.MaxWait
	}
}

func (l *Loop) worker() {
	defer l.wg.Done()

	for task := range l.tasks {
		atomic.AddInt64(&l.metrics.QueueDepth, -1)
		if l.runSafely(task) {
			atomic.AddInt64(&l.metrics.TasksProcessed, 1)
		}
	}
}

// runSafely runs task, recovering and counting a panic.
func (l *Loop) runSafely(task func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&l.metrics.TasksFailed, 1)
			l.logger.Error("interceptz: loop task panicked", "panic", r)
			ok = false
		}
	}()
	task()
	return true
}

// Metrics returns a snapshot of the loop counters.
func (l *Loop) Metrics() Metrics {
	return Metrics{
		QueueDepth:     atomic.LoadInt64(&l.metrics.QueueDepth),
		QueueCapacity:  int64(cap(l.tasks)),
		TasksProcessed: atomic.LoadInt64(&l.metrics.TasksProcessed),
		TasksFailed:    atomic.LoadInt64(&l.metrics.TasksFailed),
		TasksInlined:   atomic.LoadInt64(&l.metrics.TasksInlined),
	}
}

// Close stops accepting tasks and waits for queued tasks to finish.
// Tasks scheduled afterwards run inline.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.closed = true
	l.mu.Unlock()

	close(l.tasks)
	l.wg.Wait()
	return nil
}
