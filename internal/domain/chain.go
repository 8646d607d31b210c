package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrHistoryUnsupported 该链家族不支持交易历史查询 (EVM 的签名列表是扩展点)
var ErrHistoryUnsupported = errors.New("transaction history not supported for this chain family")

// ChainFamily 链家族：同一家族共享 RPC 方言和余额/交易模型
type ChainFamily string

const (
	FamilyEVM     ChainFamily = "evm"
	FamilySolana  ChainFamily = "solana"
	FamilyBitcoin ChainFamily = "bitcoin"
)

// ChainConfig 链注册表条目，进程启动时加载一次，运行期不可变
type ChainConfig struct {
	ChainID  int64       // 链标识 (EVM chain id / 自定义)
	Name     string      // "ethereum" "solana" ...
	Family   ChainFamily // 决定用哪个 Adapter
	Symbol   string      // 原生币符号
	Decimals int32       // 原生币最小单位精度 (wei=18, lamports=9)
	RPC      string      // RPC 节点地址
}

// ChainTx 链上发现的一笔交易，Raw 保留供应商原始返回，便于审计回放
type ChainTx struct {
	Hash string
	Raw  []byte
}

// ChainAdapter 封闭的链适配器接口，具体实现 {EVMAdapter, SolanaAdapter}
// 按家族查表选择一次，新增链家族是有界的类型安全改动
type ChainAdapter interface {
	Family() ChainFamily
	// NativeBalance 原生币余额，已按链精度归一化
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// RecentTransactions 最近 limit 笔交易；不支持历史查询的家族返回 ErrHistoryUnsupported
	RecentTransactions(ctx context.Context, address string, limit int) ([]ChainTx, error)
}

// TokenBalancer 代币余额查询，目前只有 EVM 家族实现
// 返回的是最小单位整数值，精度归一化由调用方按代币自己的 decimals 处理
type TokenBalancer interface {
	TokenBalance(ctx context.Context, address, tokenAddress string) (decimal.Decimal, error)
}
