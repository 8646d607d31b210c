package config

import (
	"time"

	"islapay.com/internal/domain"
)

// Config 对应 config/wallet-core.yaml
type Config struct {
	Name     string
	LogLevel string

	HTTP struct {
		Addr string // ":8080"
	}

	Mysql struct {
		DSN         string
		MaxIdle     int
		MaxOpen     int
		MaxLifetime int // 秒
	}

	// Redis 可选：不配就不做分布式锁，按单实例跑
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// Nats 可选：不配就不发领域事件
	Nats struct {
		URL string
	}

	Vault struct {
		// MasterSecret 私钥加密的根机密，缺失时进程拒绝启动
		MasterSecret string
		// Mnemonic 可选，配了之后 house 钱包走 HD 派生
		Mnemonic string
	}

	Sync struct {
		Interval       time.Duration
		StaleThreshold time.Duration
		Concurrency    int
		HistoryLimit   int
		FullEvery      int64
		MaxBackoff     time.Duration
	}

	Chains []Chain
}

// Chain 单条链的静态配置
type Chain struct {
	ChainID  int64
	Name     string
	Family   string // "evm" / "solana" / "bitcoin"
	Symbol   string
	Decimals int32
	RPC      string
}

// ChainConfigs 转成领域层的链配置
func (c *Config) ChainConfigs() []domain.ChainConfig {
	out := make([]domain.ChainConfig, 0, len(c.Chains))
	for _, ch := range c.Chains {
		out = append(out, domain.ChainConfig{
			ChainID:  ch.ChainID,
			Name:     ch.Name,
			Family:   domain.ChainFamily(ch.Family),
			Symbol:   ch.Symbol,
			Decimals: ch.Decimals,
			RPC:      ch.RPC,
		})
	}
	return out
}
