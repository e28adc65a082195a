package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/cache"
	"github.com/epm-hub/pad-engine/internal/logging"
	"github.com/epm-hub/pad-engine/internal/metrics"
	"github.com/epm-hub/pad-engine/internal/repository"
)

// ErrClosed 表示引擎已关闭，不再接受新任务。
var ErrClosed = errors.New("engine closed")

// 任务类型，同时用作日志与指标标签。
const (
	KindMetadata = "metadata"
	KindAsset    = "asset"
	KindContent  = "content"
	KindDescribe = "describe"
)

// Repository 是引擎对包仓库的最小依赖：归档路径解析、build 指纹与缓存目录映射。
type Repository interface {
	Resolve(filename string) (string, error)
	Describe(filename, uid string) (repository.PackageInfo, error)
	CacheDir(info repository.PackageInfo) (string, error)
}

// Options 控制引擎的依赖与并发度。
type Options struct {
	// Reader 为空时使用 archive.NewReader()。
	Reader archive.Reader
	// Logger 为空时丢弃日志。
	Logger  *logrus.Logger
	Metrics *metrics.Collector
	// Workers 是同时执行的任务数，<=0 时为 1（全局串行）。
	Workers int
}

// Engine 将元数据读取、资源解压与内容解压排入同一个 FIFO 队列，由固定数量的
// worker 执行。资源/内容任务额外持有缓存目录锁，因此即使 Workers > 1，同一目录
// 上的解压与读取也不会重叠。
type Engine struct {
	reader  archive.Reader
	logger  *logrus.Logger
	metrics *metrics.Collector
	locks   *cache.Locks

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*job
	closed bool

	workers errgroup.Group
}

type job struct {
	kind      string
	key       string
	ctx       context.Context
	submitted time.Time
	// run 执行任务并兑现 Future，返回是否命中缓存与错误，仅用于日志/指标。
	run    func(context.Context) (bool, error)
	reject func(error)
}

// New 创建引擎并启动 worker。
func New(opts Options) (*Engine, error) {
	reader := opts.Reader
	if reader == nil {
		reader = archive.NewReader()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	e := &Engine{
		reader:  reader,
		logger:  logger,
		metrics: opts.Metrics,
		locks:   cache.NewLocks(),
	}
	e.cond = sync.NewCond(&e.mu)

	for i := 0; i < workers; i++ {
		e.workers.Go(e.work)
	}

	logger.WithFields(logrus.Fields{
		"action":     "engine_start",
		"workers":    workers,
		"extensions": archive.Extensions(),
	}).Debug("engine started")
	return e, nil
}

// Close 停止接收新任务，等待已排队任务全部执行完毕。
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	return e.workers.Wait()
}

// Pending 返回尚未开始执行的任务数量。
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// submit 将任务排队并立即返回 Future；调用方永不阻塞。
func submit[T any](e *Engine, ctx context.Context, kind, key string, fn func(context.Context) (T, bool, error)) *Future[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFuture[T]()
	j := &job{
		kind:      kind,
		key:       key,
		ctx:       ctx,
		submitted: time.Now(),
		run: func(runCtx context.Context) (bool, error) {
			value, hit, err := fn(runCtx)
			f.complete(value, err)
			return hit, err
		},
		reject: func(err error) {
			var zero T
			f.complete(zero, err)
		},
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		j.reject(ErrClosed)
		return f
	}
	e.queue = append(e.queue, j)
	e.cond.Signal()
	e.mu.Unlock()
	return f
}

func (e *Engine) work() error {
	for {
		j, ok := e.next()
		if !ok {
			return nil
		}
		e.execute(j)
	}
}

// next 按提交顺序取出下一个任务；引擎关闭且队列清空后返回 false。
func (e *Engine) next() (*job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 && !e.closed {
		e.cond.Wait()
	}
	if len(e.queue) == 0 {
		return nil, false
	}
	j := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return j, true
}

func (e *Engine) execute(j *job) {
	wait := time.Since(j.submitted)
	e.metrics.ObserveQueueWait(j.kind, wait)

	fields := logging.JobFields(j.kind, j.key)
	fields["queue_wait_ms"] = wait.Milliseconds()

	// 调用方在任务开始前离开时直接拒绝；一旦开始则执行到底。
	if err := j.ctx.Err(); err != nil {
		j.reject(err)
		e.metrics.ObserveJob(j.kind, metrics.OutcomeError, 0)
		e.logger.WithFields(fields).WithError(err).Debug("job_skipped")
		return
	}

	e.logger.WithFields(fields).Debug("job_started")
	start := time.Now()
	hit, err := e.runSafely(j)
	elapsed := time.Since(start)

	fields["duration_ms"] = elapsed.Milliseconds()
	fields["cache_hit"] = hit
	switch {
	case err != nil:
		e.metrics.ObserveJob(j.kind, metrics.OutcomeError, elapsed)
		e.logger.WithFields(fields).WithError(err).Warn("job_failed")
	case hit:
		e.metrics.ObserveJob(j.kind, metrics.OutcomeCacheHit, elapsed)
		e.logger.WithFields(fields).Debug("job_completed")
	default:
		e.metrics.ObserveJob(j.kind, metrics.OutcomeOK, elapsed)
		e.logger.WithFields(fields).Info("job_completed")
	}
}

// runSafely 执行任务，panic 被转换为错误，保证 worker 不退出且 Future 一定兑现。
func (e *Engine) runSafely(j *job) (hit bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s job panicked: %v", j.kind, r)
			j.reject(err)
		}
	}()
	return j.run(context.WithoutCancel(j.ctx))
}
