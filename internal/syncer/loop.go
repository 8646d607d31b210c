package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"islapay.com/internal/domain"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/xredis"
)

const checkpointName = "balance_sync"

// LoopOptions 调度参数
type LoopOptions struct {
	Interval   time.Duration // 轮次间隔
	FullEvery  int64         // 每 N 轮做一次全量，0 表示永远增量
	MaxBackoff time.Duration // 连续失败后的退避上限
}

func (o LoopOptions) withDefaults() LoopOptions {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Minute
	}
	return o
}

// Loop 同步调度循环。single-flight：多实例部署时靠分布式锁保证
// 同一时刻只有一个实例在跑，没抢到锁的实例本轮静默让出
type Loop struct {
	syncer      *Syncer
	checkpoints domain.CheckpointRepo
	lock        *xredis.DistLock // 为 nil 时按单实例跑
	opts        LoopOptions

	stop     chan struct{}
	stopOnce sync.Once
}

func NewLoop(s *Syncer, checkpoints domain.CheckpointRepo, lock *xredis.DistLock, opts LoopOptions) *Loop {
	return &Loop{
		syncer:      s,
		checkpoints: checkpoints,
		lock:        lock,
		opts:        opts.withDefaults(),
		stop:        make(chan struct{}),
	}
}

// Stop 优雅停：只在轮次间生效，在途轮次带着活的 ctx 跑完再退出。
// ctx 取消是硬中断，会打断在途轮次，两条路径都落检查点
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run 阻塞运行直到 Stop 或 ctx 取消，退出前把当前轮次号落库
func (l *Loop) Run(ctx context.Context) error {
	iteration := l.loadIteration(ctx)
	logger.Info(ctx, "同步循环启动",
		zap.Int64("iteration", iteration),
		zap.Duration("interval", l.opts.Interval))

	delay := l.opts.Interval
	var failures int

	for {
		select {
		case <-ctx.Done():
			l.saveCheckpoint(iteration)
			logger.Info(context.Background(), "同步循环中断退出", zap.Int64("iteration", iteration))
			return ctx.Err()
		case <-l.stop:
			l.saveCheckpoint(iteration)
			logger.Info(context.Background(), "同步循环退出", zap.Int64("iteration", iteration))
			return nil
		case <-time.After(delay):
		}

		if !l.acquire(ctx) {
			delay = l.opts.Interval
			continue
		}

		iteration++
		mode := ModeIncremental
		if l.opts.FullEvery > 0 && iteration%l.opts.FullEvery == 0 {
			mode = ModeFull
		}

		_, err := l.syncer.SyncPass(ctx, mode)
		l.release(ctx)

		if err != nil {
			// 轮次级失败 (比如数据库不可达)，指数退避防止打爆下游
			failures++
			delay = l.backoff(failures)
			logger.Error(ctx, "同步轮次失败",
				zap.Int64("iteration", iteration),
				zap.Int("consecutive_failures", failures),
				zap.Duration("next_in", delay),
				zap.Error(err))
			continue
		}

		failures = 0
		delay = l.opts.Interval
		l.saveCheckpoint(iteration)
	}
}

func (l *Loop) acquire(ctx context.Context) bool {
	if l.lock == nil {
		return true
	}
	ok, err := l.lock.TryLock(ctx)
	if err != nil {
		logger.Warn(ctx, "同步锁获取失败", zap.Error(err))
		return false
	}
	return ok
}

func (l *Loop) release(ctx context.Context) {
	if l.lock == nil {
		return
	}
	if _, err := l.lock.Unlock(ctx); err != nil {
		logger.Warn(ctx, "同步锁释放失败", zap.Error(err))
	}
}

func (l *Loop) backoff(failures int) time.Duration {
	d := l.opts.Interval
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= l.opts.MaxBackoff {
			return l.opts.MaxBackoff
		}
	}
	return d
}

func (l *Loop) loadIteration(ctx context.Context) int64 {
	cp, err := l.checkpoints.GetCheckpoint(ctx, checkpointName)
	if err != nil {
		logger.Warn(ctx, "检查点读取失败，从 0 开始", zap.Error(err))
		return 0
	}
	if cp == nil {
		return 0
	}
	return cp.Iteration
}

// saveCheckpoint 用独立 context：退出路径上原 ctx 已经取消
func (l *Loop) saveCheckpoint(iteration int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := l.checkpoints.SaveCheckpoint(ctx, &domain.SyncCheckpoint{
		Name:      checkpointName,
		Iteration: iteration,
		LastRunAt: now,
		UpdatedAt: now,
	}); err != nil {
		logger.Warn(ctx, "检查点落库失败", zap.Int64("iteration", iteration), zap.Error(err))
	}
}
