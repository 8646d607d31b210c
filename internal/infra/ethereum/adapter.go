package ethereum

import (
	"context"
	"math/big"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"islapay.com/internal/domain"
	"islapay.com/pkg/metrics"
	"islapay.com/pkg/retry"
	"islapay.com/pkg/xerr"
)

// ERC-20 balanceOf(address) 选择器
const balanceOfSelector = "70a08231"

// Adapter EVM 家族适配器，一条链一个实例 (各链 RPC 节点不同)
type Adapter struct {
	client   *ethclient.Client
	chain    string
	decimals int32
	timeout  time.Duration
	retryCfg retry.Config
}

// 确保实现接口
var (
	_ domain.ChainAdapter  = (*Adapter)(nil)
	_ domain.TokenBalancer = (*Adapter)(nil)
)

func New(chain, nodeURL string, decimals int32) (*Adapter, error) {
	if nodeURL == "" {
		return nil, xerr.Newf(xerr.ConfigError, "chain %s: rpc endpoint is not configured", chain)
	}
	client, err := ethclient.Dial(nodeURL)
	if err != nil {
		return nil, xerr.Newf(xerr.RpcError, "dial %s rpc: %v", chain, err)
	}
	return &Adapter{
		client:   client,
		chain:    chain,
		decimals: decimals,
		timeout:  10 * time.Second,
		retryCfg: retry.Config{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, Jitter: 200 * time.Millisecond},
	}, nil
}

func (a *Adapter) Family() domain.ChainFamily { return domain.FamilyEVM }

// NativeBalance eth_getBalance(address, "latest")
// wei 是任意精度整数，必须走 big.Int -> decimal，绝不能过 float64
func (a *Adapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var wei *big.Int

	err := a.call(ctx, "eth_getBalance", func(ctx context.Context) error {
		var err error
		wei, err = a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		return decimal.Zero, xerr.Newf(xerr.RpcError, "%s eth_getBalance: %v", a.chain, err)
	}

	// 最小单位 -> 原生单位，精确移位，高位不丢
	return decimal.NewFromBigInt(wei, -a.decimals), nil
}

// TokenBalance eth_call ERC-20 balanceOf
// 返回最小单位整数值，代币精度各不相同，归一化交给调用方
func (a *Adapter) TokenBalance(ctx context.Context, address, tokenAddress string) (decimal.Decimal, error) {
	to := common.HexToAddress(tokenAddress)

	// calldata: 选择器 + 左填充到 32 字节的地址参数
	data := append(
		common.Hex2Bytes(balanceOfSelector),
		common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...,
	)

	var out []byte
	err := a.call(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = a.client.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		return decimal.Zero, xerr.Newf(xerr.RpcError, "%s eth_call balanceOf: %v", a.chain, err)
	}

	value := new(big.Int).SetBytes(out)
	return decimal.NewFromBigInt(value, 0), nil
}

// RecentTransactions EVM 签名列表在本核心不做，留作扩展点
func (a *Adapter) RecentTransactions(ctx context.Context, address string, limit int) ([]domain.ChainTx, error) {
	return nil, domain.ErrHistoryUnsupported
}

// call 统一的出站 RPC 包装：超时 + 有界重试 + 时延指标
func (a *Adapter) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := retry.Do(ctx, a.retryCfg, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return fn(callCtx)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestDuration.WithLabelValues(a.chain, method, status).Observe(time.Since(start).Seconds())
	return err
}
