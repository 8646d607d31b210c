package xredis

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua 脚本：释放锁
// KEYS[1]: 锁的 key
// ARGV[1]: 锁的 value (token)，防止误删别人的锁
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// DistLock 分布式锁，同步循环用它保证同一批钱包不会两个 pass 并发跑
type DistLock struct {
	client     *redis.Client
	key        string
	token      string        // 谁加锁谁解锁
	expiration time.Duration // 自动过期，防止持有者挂掉后死锁
}

func NewDistLock(client *redis.Client, key string, expiration time.Duration) *DistLock {
	return &DistLock{
		client:     client,
		key:        key,
		token:      uuid.New().String(),
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞，一次性）
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 自旋锁，带随机抖动的重试
func (l *DistLock) Lock(ctx context.Context, retryTimes int, retryInterval time.Duration) (bool, error) {
	for i := 0; i < retryTimes; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return false, err
		}
		if success {
			return true, nil
		}

		// 没抢到锁，睡一会儿再试；加随机时间防止所有等待方同时唤醒
		sleepTime := retryInterval + time.Duration(rand.Intn(10))*time.Millisecond

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleepTime):
			continue
		}
	}
	return false, nil // 重试次数用尽
}

// Unlock 安全释放锁，Lua 保证 get+del 原子
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Result()
	if err != nil {
		return false, err
	}
	return res.(int64) == 1, nil
}
