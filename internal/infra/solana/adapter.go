package solana

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	sol "github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"islapay.com/internal/domain"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/metrics"
	"islapay.com/pkg/retry"
	"islapay.com/pkg/xerr"
)

// lamports 固定 9 位精度
const lamportDecimals = 9

// Adapter Solana 家族适配器
type Adapter struct {
	client   *solrpc.Client
	chain    string
	timeout  time.Duration
	retryCfg retry.Config
}

var _ domain.ChainAdapter = (*Adapter)(nil)

func New(chain, nodeURL string) (*Adapter, error) {
	if nodeURL == "" {
		return nil, xerr.Newf(xerr.ConfigError, "chain %s: rpc endpoint is not configured", chain)
	}
	// 带限流的客户端，尊重公共节点的速率限制
	client := solrpc.NewWithCustomRPCClient(solrpc.NewWithLimiter(
		nodeURL,
		rate.Every(time.Second), // time frame
		5,                       // limit of requests per time frame
	))
	return &Adapter{
		client:   client,
		chain:    chain,
		timeout:  15 * time.Second,
		retryCfg: retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Jitter: 300 * time.Millisecond},
	}, nil
}

func (a *Adapter) Family() domain.ChainFamily { return domain.FamilySolana }

// NativeBalance getBalance(address)，lamports -> SOL
func (a *Adapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	pubkey, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, xerr.Newf(xerr.RequestParamsError, "invalid solana address %q: %v", address, err)
	}

	var lamports uint64
	err = a.call(ctx, "getBalance", func(ctx context.Context) error {
		out, err := a.client.GetBalance(ctx, pubkey, solrpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		lamports = out.Value
		return nil
	})
	if err != nil {
		return decimal.Zero, xerr.Newf(xerr.RpcError, "%s getBalance: %v", a.chain, err)
	}

	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportDecimals), nil
}

// RecentTransactions getSignaturesForAddress + 逐签名 getTransaction (jsonParsed)
// 单笔交易拉取失败只跳过该笔，不让整个列表失败
func (a *Adapter) RecentTransactions(ctx context.Context, address string, limit int) ([]domain.ChainTx, error) {
	pubkey, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return nil, xerr.Newf(xerr.RequestParamsError, "invalid solana address %q: %v", address, err)
	}

	var sigs []*solrpc.TransactionSignature
	err = a.call(ctx, "getSignaturesForAddress", func(ctx context.Context) error {
		var err error
		sigs, err = a.client.GetSignaturesForAddressWithOpts(ctx, pubkey, &solrpc.GetSignaturesForAddressOpts{
			Limit: &limit,
		})
		return err
	})
	if err != nil {
		return nil, xerr.Newf(xerr.RpcError, "%s getSignaturesForAddress: %v", a.chain, err)
	}

	maxVersion := uint64(0)
	txs := make([]domain.ChainTx, 0, len(sigs))
	for _, sig := range sigs {
		var result *solrpc.GetTransactionResult
		err := a.call(ctx, "getTransaction", func(ctx context.Context) error {
			var err error
			result, err = a.client.GetTransaction(ctx, sig.Signature, &solrpc.GetTransactionOpts{
				Encoding:                       sol.EncodingJSONParsed,
				Commitment:                     solrpc.CommitmentFinalized,
				MaxSupportedTransactionVersion: &maxVersion,
			})
			return err
		})
		if err != nil {
			logger.Warn(ctx, "skip solana transaction",
				zap.String("chain", a.chain),
				zap.String("signature", sig.Signature.String()),
				zap.Error(err))
			continue
		}

		// 原始返回逐字保存，审计回放用
		raw, err := json.Marshal(result)
		if err != nil {
			logger.Warn(ctx, "marshal solana transaction", zap.Error(err))
			continue
		}
		txs = append(txs, domain.ChainTx{
			Hash: sig.Signature.String(),
			Raw:  raw,
		})
	}
	return txs, nil
}

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
