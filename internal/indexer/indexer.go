package indexer

import (
	"context"
	"strings"
	"time"

	"islapay.com/internal/domain"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/metrics"
	"islapay.com/pkg/xerr"

	"go.uber.org/zap"
)

// Indexer 交易发现的唯一入口，同一笔链上交易不论被发现多少次只落一条
type Indexer struct {
	records domain.TxRecordRepo
}

func New(records domain.TxRecordRepo) *Indexer {
	return &Indexer{records: records}
}

// Result 单笔交易的登记结果
type Result struct {
	Inserted bool
	TxHash   string
}

// Record 登记一笔链上交易。链名统一大写后作为去重键的一半，
// 重复哈希静默跳过并返回 Inserted=false
func (ix *Indexer) Record(ctx context.Context, chain, txHash, walletID string, raw []byte) (*Result, error) {
	chain = strings.ToUpper(strings.TrimSpace(chain))
	txHash = strings.TrimSpace(txHash)
	if chain == "" || txHash == "" {
		return nil, xerr.New(xerr.RequestParamsError, "chain and tx hash are required")
	}

	inserted, err := ix.records.RecordTransaction(ctx, &domain.TransactionRecord{
		Chain:        chain,
		TxHash:       txHash,
		WalletID:     walletID,
		Raw:          raw,
		DiscoveredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if inserted {
		metrics.TxRecordedTotal.WithLabelValues(chain).Inc()
		logger.Debug(ctx, "链上交易入库",
			zap.String("chain", chain),
			zap.String("tx_hash", txHash),
			zap.String("wallet_id", walletID))
	}
	return &Result{Inserted: inserted, TxHash: txHash}, nil
}

// RecordBatch 批量登记，单笔失败立即返回，已入库的保留
// 返回新入库的数量
func (ix *Indexer) RecordBatch(ctx context.Context, chain, walletID string, txs []domain.ChainTx) (int, error) {
	var inserted int
	for _, tx := range txs {
		res, err := ix.Record(ctx, chain, tx.Hash, walletID, tx.Raw)
		if err != nil {
			return inserted, err
		}
		if res.Inserted {
			inserted++
		}
	}
	return inserted, nil
}
