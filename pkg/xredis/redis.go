package xredis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int // 缺省 50，分布式锁场景用不了太大的池
}

func NewRedis(c *Config) *redis.Client {
	poolSize := c.PoolSize
	if poolSize <= 0 {
		poolSize = 50
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: 5,
	})

	// 启动时 Ping 一下，确保连接通畅
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		panic("failed to connect redis: " + err.Error())
	}

	return rdb
}
