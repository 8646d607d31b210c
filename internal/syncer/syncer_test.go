package syncer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"islapay.com/internal/chain"
	"islapay.com/internal/domain"
	"islapay.com/internal/indexer"
	"islapay.com/internal/infra/persistence"
)

// stubAdapter 可编程的链适配器桩
type stubAdapter struct {
	family     domain.ChainFamily
	balance    decimal.Decimal
	balanceErr error
	delay      time.Duration // 模拟慢 RPC
	txs        []domain.ChainTx
	historyErr error
	calls      int
}

func (a *stubAdapter) Family() domain.ChainFamily { return a.family }

func (a *stubAdapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	a.calls++
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	if a.balanceErr != nil {
		return decimal.Zero, a.balanceErr
	}
	return a.balance, nil
}

func (a *stubAdapter) RecentTransactions(ctx context.Context, address string, limit int) ([]domain.ChainTx, error) {
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	if len(a.txs) > limit {
		return a.txs[:limit], nil
	}
	return a.txs, nil
}

// stubChains 测试用注册表
type stubChains map[int64]*chain.Entry

func (c stubChains) Get(chainID int64) (*chain.Entry, bool) {
	e, ok := c[chainID]
	return e, ok
}

func entryFor(chainID int64, name string, family domain.ChainFamily, a domain.ChainAdapter) *chain.Entry {
	return &chain.Entry{
		Config:  domain.ChainConfig{ChainID: chainID, Name: name, Family: family},
		Adapter: a,
	}
}

type env struct {
	repo   *persistence.Repo
	chains stubChains
}

func newEnv(t *testing.T, chains stubChains) (*Syncer, *env) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	repo := persistence.New(db)
	require.NoError(t, repo.AutoMigrate())

	s := New(chains, repo, indexer.New(repo), Options{Concurrency: 4, HistoryLimit: 10, StaleThreshold: 10 * time.Minute})
	return s, &env{repo: repo, chains: chains}
}

func (e *env) seedWallet(t *testing.T, chainID int64, chainName string) *domain.Wallet {
	t.Helper()
	w := &domain.Wallet{
		ID:      uuid.NewString(),
		UserID:  uuid.NewString(),
		ChainID: chainID,
		Chain:   chainName,
		Address: "addr-" + uuid.NewString()[:8],
	}
	require.NoError(t, e.repo.SaveWallet(context.Background(), w))
	return w
}

func TestSyncPassSolana(t *testing.T) {
	// 1_500_000_000 lamports 归一化成 1.5 SOL，两笔历史交易入库
	sol := &stubAdapter{
		family:  domain.FamilySolana,
		balance: decimal.NewFromBigInt(big.NewInt(1_500_000_000), -9),
		txs: []domain.ChainTx{
			{Hash: "sig-1", Raw: []byte(`{"slot":1}`)},
			{Hash: "sig-2", Raw: []byte(`{"slot":2}`)},
		},
	}
	s, e := newEnv(t, stubChains{501: entryFor(501, "solana", domain.FamilySolana, sol)})
	w := e.seedWallet(t, 501, "SOLANA")
	ctx := context.Background()

	report, err := s.SyncPass(ctx, ModeIncremental)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	require.Equal(t, 1, report.Updated)

	res := report.Wallets[0]
	assert.Equal(t, StatusUpdated, res.Status)
	assert.True(t, res.Balance.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 2, res.NewTxs)

	got, err := e.repo.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Decimal.Equal(decimal.RequireFromString("1.5")))
	require.NotNil(t, got.LastSyncedAt)

	// 立刻重跑：余额没变只刷时间戳，历史一笔不重
	report, err = s.SyncPass(ctx, ModeFull)
	require.NoError(t, err)
	res = report.Wallets[0]
	assert.Equal(t, StatusUnchanged, res.Status)
	assert.Equal(t, 0, res.NewTxs)
}

func TestSyncPassIsolation(t *testing.T) {
	// 一条链挂了不影响另一条链的钱包
	good := &stubAdapter{family: domain.FamilyEVM, balance: decimal.RequireFromString("2.25"), historyErr: domain.ErrHistoryUnsupported}
	bad := &stubAdapter{family: domain.FamilySolana, balanceErr: errors.New("rpc timeout")}

	s, e := newEnv(t, stubChains{
		1:   entryFor(1, "ethereum", domain.FamilyEVM, good),
		501: entryFor(501, "solana", domain.FamilySolana, bad),
	})
	wGood := e.seedWallet(t, 1, "ETHEREUM")
	wBad := e.seedWallet(t, 501, "SOLANA")
	ctx := context.Background()

	report, err := s.SyncPass(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Failed)

	byID := make(map[string]*WalletResult)
	for _, r := range report.Wallets {
		byID[r.WalletID] = r
	}
	assert.Equal(t, StatusUpdated, byID[wGood.ID].Status)
	assert.Equal(t, StatusFailed, byID[wBad.ID].Status)
	assert.NotEmpty(t, byID[wBad.ID].Error)

	// 失败的钱包不能留下半截状态
	got, err := e.repo.GetWallet(ctx, wBad.ID)
	require.NoError(t, err)
	assert.False(t, got.Balance.Valid)
	assert.Nil(t, got.LastSyncedAt)
}

func TestSyncPassNoAdapter(t *testing.T) {
	s, e := newEnv(t, stubChains{
		2: entryFor(2, "bitcoin", domain.FamilyBitcoin, nil),
	})
	e.seedWallet(t, 2, "BITCOIN")
	// 注册表里根本没有的链
	e.seedWallet(t, 9999, "UNKNOWN")

	report, err := s.SyncPass(context.Background(), ModeIncremental)
	require.NoError(t, err)
	for _, r := range report.Wallets {
		assert.Equal(t, StatusNoAdapter, r.Status)
	}
}

func TestSyncPassIncrementalSkipsFresh(t *testing.T) {
	adapter := &stubAdapter{family: domain.FamilyEVM, balance: decimal.NewFromInt(1), historyErr: domain.ErrHistoryUnsupported}
	s, e := newEnv(t, stubChains{1: entryFor(1, "ethereum", domain.FamilyEVM, adapter)})
	ctx := context.Background()

	fresh := e.seedWallet(t, 1, "ETHEREUM")
	stale := e.seedWallet(t, 1, "ETHEREUM")
	require.NoError(t, e.repo.TouchWalletSynced(ctx, fresh.ID, time.Now().UTC()))
	require.NoError(t, e.repo.TouchWalletSynced(ctx, stale.ID, time.Now().UTC().Add(-time.Hour)))

	report, err := s.SyncPass(ctx, ModeIncremental)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, stale.ID, report.Wallets[0].WalletID)

	// 全量模式两个都扫
	report, err = s.SyncPass(ctx, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
}

func TestBreakerTripsPerChain(t *testing.T) {
	bad := &stubAdapter{family: domain.FamilyEVM, balanceErr: errors.New("connection refused")}
	s, e := newEnv(t, stubChains{1: entryFor(1, "ethereum", domain.FamilyEVM, bad)})
	e.seedWallet(t, 1, "ETHEREUM")
	ctx := context.Background()

	// 连续失败把熔断器打到 open，之后的轮次不再打 RPC
	for i := 0; i < 5; i++ {
		_, err := s.SyncPass(ctx, ModeFull)
		require.NoError(t, err)
	}
	callsWhenTripped := bad.calls

	report, err := s.SyncPass(ctx, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, report.Wallets[0].Status)
	assert.Equal(t, callsWhenTripped, bad.calls)
}
