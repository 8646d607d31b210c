package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// 存储层契约。实现全部落在 infra/persistence，一个 Repo 结构体实现所有接口

type WalletRepo interface {
	SaveWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, id string) (*Wallet, error)
	// FindWalletByOwnerChain (owner, chain) 唯一，用于防重复开户
	FindWalletByOwnerChain(ctx context.Context, userID string, chainID int64) (*Wallet, error)
	// ListTrackedWallets staleBefore 非空时只取 last_synced_at 早于该时间(或从未同步)的钱包
	ListTrackedWallets(ctx context.Context, staleBefore *time.Time) ([]*Wallet, error)
	// UpdateWalletBalance 余额快照 + last_synced_at，幂等键是钱包 id
	UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal, syncedAt time.Time) error
	TouchWalletSynced(ctx context.Context, id string, syncedAt time.Time) error
	// CreditWalletBalance 余额增量，只允许在事务内和账本插入一起调用
	CreditWalletBalance(ctx context.Context, id string, delta decimal.Decimal) error
}

type SecretRepo interface {
	SaveSecret(ctx context.Context, s *EncryptedSecret) error
	GetSecretByWallet(ctx context.Context, walletID string) (*EncryptedSecret, error)
}

type TxRecordRepo interface {
	// RecordTransaction (chain, tx_hash) 已存在时返回 inserted=false 且不写任何东西
	RecordTransaction(ctx context.Context, rec *TransactionRecord) (inserted bool, err error)
	HasTransaction(ctx context.Context, chain, txHash string) (bool, error)
}

type DepositRepo interface {
	CreateDeposit(ctx context.Context, d *Deposit) error
	GetDeposit(ctx context.Context, id string) (*Deposit, error)
	FindDepositByExternalID(ctx context.Context, externalID string) (*Deposit, error)
	// DecideDeposit 原子 check-and-set：只有当前状态是 pending 才写入终态，
	// 返回 false 表示已被并发请求抢先流转
	DecideDeposit(ctx context.Context, d *Deposit) (bool, error)
}

type LedgerRepo interface {
	InsertLedgerEntry(ctx context.Context, e *LedgerEntry) error
	// SumLedgerEntries 从全量账本重算钱包余额 (对账用)
	SumLedgerEntries(ctx context.Context, walletID string) (decimal.Decimal, error)
}

type CheckpointRepo interface {
	SaveCheckpoint(ctx context.Context, cp *SyncCheckpoint) error
	GetCheckpoint(ctx context.Context, name string) (*SyncCheckpoint, error)
}

// TxManager 事务边界：fn 内通过 ctx 拿到同一个事务连接
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
