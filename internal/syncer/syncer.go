package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"islapay.com/internal/chain"
	"islapay.com/internal/domain"
	"islapay.com/internal/indexer"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/metrics"
)

// Mode 同步模式：增量只扫过期钱包，全量扫所有
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// 单个钱包的同步结果状态
const (
	StatusUpdated   = "updated"
	StatusUnchanged = "unchanged"
	StatusNoAdapter = "no_adapter"
	StatusSkipped   = "skipped" // 熔断器打开，fail-fast
	StatusFailed    = "failed"
)

// Chains 链注册表的查询口，便于测试注入桩适配器
type Chains interface {
	Get(chainID int64) (*chain.Entry, bool)
}

// Options 同步参数，零值会被 withDefaults 填上
type Options struct {
	Concurrency    int           // 并发钱包数上限
	HistoryLimit   int           // 每个钱包每轮最多拉多少笔历史
	StaleThreshold time.Duration // 增量模式的过期阈值
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 10 * time.Minute
	}
	return o
}

// Syncer 钱包余额同步。核心约束：
//   - 钱包之间严格隔离，单个钱包失败绝不中断整轮
//   - 链上是唯一事实来源，本地余额只做快照
//   - 余额没变时不写快照，只刷新 last_synced_at
type Syncer struct {
	chains  Chains
	wallets domain.WalletRepo
	indexer *indexer.Indexer
	opts    Options

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker[struct{}]
}

func New(chains Chains, wallets domain.WalletRepo, ix *indexer.Indexer, opts Options) *Syncer {
	return &Syncer{
		chains:   chains,
		wallets:  wallets,
		indexer:  ix,
		opts:     opts.withDefaults(),
		breakers: make(map[int64]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// WalletResult 单个钱包的同步结果
type WalletResult struct {
	WalletID string          `json:"wallet_id"`
	Chain    string          `json:"chain"`
	Address  string          `json:"address"`
	Status   string          `json:"status"`
	Balance  decimal.Decimal `json:"balance"`
	NewTxs   int             `json:"new_txs"`
	Error    string          `json:"error,omitempty"`
}

// Report 一轮同步的汇总
type Report struct {
	Mode      Mode            `json:"mode"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Total     int             `json:"total"`
	Updated   int             `json:"updated"`
	Unchanged int             `json:"unchanged"`
	Failed    int             `json:"failed"`
	Wallets   []*WalletResult `json:"wallets"`
}

// SyncPass 跑一轮同步。返回错误只代表轮次本身起不来 (查钱包列表失败)，
// 单个钱包的失败都收敛在 Report 里
func (s *Syncer) SyncPass(ctx context.Context, mode Mode) (*Report, error) {
	started := time.Now()

	var staleBefore *time.Time
	if mode != ModeFull {
		mode = ModeIncremental
		cutoff := started.Add(-s.opts.StaleThreshold)
		staleBefore = &cutoff
	}

	wallets, err := s.wallets.ListTrackedWallets(ctx, staleBefore)
	if err != nil {
		metrics.SyncPassTotal.WithLabelValues(string(mode), "error").Inc()
		return nil, err
	}

	report := &Report{
		Mode:      mode,
		StartedAt: started.UTC(),
		Total:     len(wallets),
		Wallets:   make([]*WalletResult, len(wallets)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, w := range wallets {
		g.Go(func() error {
			report.Wallets[i] = s.syncOne(gctx, w)
			return nil
		})
	}
	_ = g.Wait() // syncOne 不返回错误

	for _, r := range report.Wallets {
		switch r.Status {
		case StatusUpdated:
			report.Updated++
		case StatusUnchanged:
			report.Unchanged++
		case StatusFailed, StatusSkipped:
			report.Failed++
		}
	}

	report.Duration = time.Since(started)
	metrics.SyncPassTotal.WithLabelValues(string(mode), "ok").Inc()
	metrics.SyncPassDuration.Observe(report.Duration.Seconds())

	logger.Info(ctx, "同步轮次完成",
		zap.String("mode", string(mode)),
		zap.Int("total", report.Total),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// syncOne 同步单个钱包，所有错误收敛在结果里
func (s *Syncer) syncOne(ctx context.Context, w *domain.Wallet) *WalletResult {
	res := &WalletResult{WalletID: w.ID, Chain: w.Chain, Address: w.Address}

	entry, ok := s.chains.Get(w.ChainID)
	if !ok || entry.Adapter == nil {
		// 纯托管的链 (没有余额适配器)，正常情况不是错误
		res.Status = StatusNoAdapter
		return res
	}
	adapter := entry.Adapter

	var balance decimal.Decimal
	_, err := s.breaker(w.ChainID, entry.Config.Name).Execute(func() (struct{}, error) {
		var berr error
		balance, berr = adapter.NativeBalance(ctx, w.Address)
		return struct{}{}, berr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// 链级熔断，这一轮直接跳过同链的钱包
			res.Status = StatusSkipped
			res.Error = err.Error()
			return res
		}
		metrics.SyncWalletErrorTotal.WithLabelValues(w.Chain).Inc()
		logger.Warn(ctx, "钱包余额查询失败",
			zap.String("wallet_id", w.ID),
			zap.String("chain", w.Chain),
			zap.Error(err))
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}
	res.Balance = balance

	now := time.Now().UTC()
	if !w.Balance.Valid || !w.Balance.Decimal.Equal(balance) {
		if uerr := s.wallets.UpdateWalletBalance(ctx, w.ID, balance, now); uerr != nil {
			res.Status = StatusFailed
			res.Error = uerr.Error()
			return res
		}
		res.Status = StatusUpdated
	} else {
		if terr := s.wallets.TouchWalletSynced(ctx, w.ID, now); terr != nil {
			res.Status = StatusFailed
			res.Error = terr.Error()
			return res
		}
		res.Status = StatusUnchanged
	}

	// 交易历史是余额之外的附加信息，拉取失败不影响已写入的余额
	res.NewTxs = s.syncHistory(ctx, w, adapter)
	return res
}

func (s *Syncer) syncHistory(ctx context.Context, w *domain.Wallet, adapter domain.ChainAdapter) int {
	txs, err := adapter.RecentTransactions(ctx, w.Address, s.opts.HistoryLimit)
	if err != nil {
		if errors.Is(err, domain.ErrHistoryUnsupported) {
			return 0
		}
		logger.Warn(ctx, "交易历史拉取失败",
			zap.String("wallet_id", w.ID),
			zap.String("chain", w.Chain),
			zap.Error(err))
		return 0
	}

	inserted, err := s.indexer.RecordBatch(ctx, w.Chain, w.ID, txs)
	if err != nil {
		logger.Warn(ctx, "交易入库失败",
			zap.String("wallet_id", w.ID),
			zap.String("chain", w.Chain),
			zap.Error(err))
	}
	return inserted
}

// breaker 每条链一个熔断器，连续 5 次失败后打开 30 秒
func (s *Syncer) breaker(chainID int64, name string) *gobreaker.CircuitBreaker[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[chainID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		})
		s.breakers[chainID] = cb
	}
	return cb
}
