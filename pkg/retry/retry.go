package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config 有界重试配置
type Config struct {
	MaxAttempts int           // 最大尝试次数 (含第一次)
	BaseDelay   time.Duration // 初始退避
	MaxDelay    time.Duration // 退避上限
	Jitter      time.Duration // 随机抖动，防止所有调用方同时唤醒
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 200 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 5 * time.Second
	}
	return out
}

// Do 执行 fn，失败则指数退避后重试，直到成功 / 次数用尽 / ctx 取消。
// 所有 RPC 调用点统一走这里，不再各写各的 time.Sleep 循环。
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.Jitter > 0 {
			sleep += time.Duration(rand.Int63n(int64(cfg.Jitter)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
