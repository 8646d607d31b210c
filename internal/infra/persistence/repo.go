package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"islapay.com/internal/domain"
	"islapay.com/pkg/xerr"
)

type ctxTxKey struct{}

// Repo 所有存储接口的统一实现
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// 确保 Repo 实现了所有接口
var (
	_ domain.WalletRepo     = (*Repo)(nil)
	_ domain.SecretRepo     = (*Repo)(nil)
	_ domain.TxRecordRepo   = (*Repo)(nil)
	_ domain.DepositRepo    = (*Repo)(nil)
	_ domain.LedgerRepo     = (*Repo)(nil)
	_ domain.CheckpointRepo = (*Repo)(nil)
	_ domain.TxManager      = (*Repo)(nil)
)

// AutoMigrate 建表 (测试和本地环境用；生产走 migration 脚本)
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(
		&domain.Wallet{},
		&domain.EncryptedSecret{},
		&domain.TransactionRecord{},
		&domain.Deposit{},
		&domain.LedgerEntry{},
		&domain.SyncCheckpoint{},
	)
}

// Transaction 事务边界，tx 注入 context，fn 内所有 Repo 调用走同一连接
func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, ctxTxKey{}, tx))
	})
}

func (r *Repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(ctxTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// ========== WalletRepo ==========

func (r *Repo) SaveWallet(ctx context.Context, w *domain.Wallet) error {
	if err := r.conn(ctx).WithContext(ctx).Create(w).Error; err != nil {
		return xerr.Newf(xerr.DbError, "save wallet: %v", err)
	}
	return nil
}

func (r *Repo) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.conn(ctx).WithContext(ctx).First(&w, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.Newf(xerr.RecordNotFound, "wallet %s not found", id)
		}
		return nil, xerr.Newf(xerr.DbError, "get wallet: %v", err)
	}
	return &w, nil
}

func (r *Repo) FindWalletByOwnerChain(ctx context.Context, userID string, chainID int64) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.conn(ctx).WithContext(ctx).
		Where("user_id = ? AND chain_id = ?", userID, chainID).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Newf(xerr.DbError, "find wallet: %v", err)
	}
	return &w, nil
}

func (r *Repo) ListTrackedWallets(ctx context.Context, staleBefore *time.Time) ([]*domain.Wallet, error) {
	q := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{})
	if staleBefore != nil {
		// 增量模式：只取从未同步或超过阈值没同步的
		q = q.Where("last_synced_at IS NULL OR last_synced_at < ?", *staleBefore)
	}

	wallets := make([]*domain.Wallet, 0)
	if err := q.Order("created_at").Find(&wallets).Error; err != nil {
		return nil, xerr.Newf(xerr.DbError, "list wallets: %v", err)
	}
	return wallets, nil
}

func (r *Repo) UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal, syncedAt time.Time) error {
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"balance":        balance,
			"last_synced_at": syncedAt,
			"updated_at":     syncedAt,
		}).Error
	if err != nil {
		return xerr.Newf(xerr.DbError, "update wallet balance: %v", err)
	}
	return nil
}

func (r *Repo) TouchWalletSynced(ctx context.Context, id string, syncedAt time.Time) error {
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ?", id).
		Update("last_synced_at", syncedAt).Error
	if err != nil {
		return xerr.Newf(xerr.DbError, "touch wallet: %v", err)
	}
	return nil
}

// CreditWalletBalance 余额增量，必须和账本插入在同一个事务里调用
func (r *Repo) CreditWalletBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("COALESCE(balance, 0) + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return xerr.Newf(xerr.DbError, "credit wallet balance: %v", res.Error)
	}
	if res.RowsAffected == 0 {
		return xerr.Newf(xerr.RecordNotFound, "wallet %s not found", id)
	}
	return nil
}

// ========== SecretRepo ==========

func (r *Repo) SaveSecret(ctx context.Context, s *domain.EncryptedSecret) error {
	if err := r.conn(ctx).WithContext(ctx).Create(s).Error; err != nil {
		return xerr.Newf(xerr.DbError, "save secret: %v", err)
	}
	return nil
}

func (r *Repo) GetSecretByWallet(ctx context.Context, walletID string) (*domain.EncryptedSecret, error) {
	var s domain.EncryptedSecret
	err := r.conn(ctx).WithContext(ctx).First(&s, "wallet_id = ?", walletID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.Newf(xerr.RecordNotFound, "secret for wallet %s not found", walletID)
		}
		return nil, xerr.Newf(xerr.DbError, "get secret: %v", err)
	}
	return &s, nil
}

// ========== TxRecordRepo ==========

// RecordTransaction 幂等写入，靠 (chain, tx_hash) 唯一索引 + ON CONFLICT DO NOTHING
// 已存在时 RowsAffected=0，返回 inserted=false，什么都不改
func (r *Repo) RecordTransaction(ctx context.Context, rec *domain.TransactionRecord) (bool, error) {
	res := r.conn(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain"}, {Name: "tx_hash"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, xerr.Newf(xerr.DbError, "record transaction: %v", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) HasTransaction(ctx context.Context, chain, txHash string) (bool, error) {
	var count int64
	err := r.conn(ctx).WithContext(ctx).Model(&domain.TransactionRecord{}).
		Where("chain = ? AND tx_hash = ?", chain, txHash).
		Count(&count).Error
	if err != nil {
		return false, xerr.Newf(xerr.DbError, "check transaction: %v", err)
	}
	return count > 0, nil
}

// ========== DepositRepo ==========

func (r *Repo) CreateDeposit(ctx context.Context, d *domain.Deposit) error {
	if err := r.conn(ctx).WithContext(ctx).Create(d).Error; err != nil {
		return xerr.Newf(xerr.DbError, "create deposit: %v", err)
	}
	return nil
}

func (r *Repo) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	var d domain.Deposit
	err := r.conn(ctx).WithContext(ctx).First(&d, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.Newf(xerr.RecordNotFound, "deposit %s not found", id)
		}
		return nil, xerr.Newf(xerr.DbError, "get deposit: %v", err)
	}
	return &d, nil
}

func (r *Repo) FindDepositByExternalID(ctx context.Context, externalID string) (*domain.Deposit, error) {
	var d domain.Deposit
	err := r.conn(ctx).WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Newf(xerr.DbError, "find deposit: %v", err)
	}
	return &d, nil
}

// DecideDeposit 乐观锁 check-and-set：WHERE status='pending' 保证并发请求只有一个赢
func (r *Repo) DecideDeposit(ctx context.Context, d *domain.Deposit) (bool, error) {
	res := r.conn(ctx).WithContext(ctx).Model(&domain.Deposit{}).
		Where("id = ? AND status = ?", d.ID, domain.DepositPending).
		Updates(map[string]interface{}{
			"status":          d.Status,
			"approved_by":     d.ApprovedBy,
			"approver_email":  d.ApproverEmail,
			"reason":          d.Reason,
			"received_amount": d.ReceivedAmount,
			"exchange_rate":   d.ExchangeRate,
			"approved_at":     d.ApprovedAt,
			"completed_at":    d.CompletedAt,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, xerr.Newf(xerr.DbError, "decide deposit: %v", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ========== LedgerRepo ==========

// InsertLedgerEntry 账本只追加，永远不 update / delete
func (r *Repo) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if err := r.conn(ctx).WithContext(ctx).Create(e).Error; err != nil {
		return xerr.Newf(xerr.DbError, "insert ledger entry: %v", err)
	}
	return nil
}

// SumLedgerEntries 从全量已完成条目重算余额，借记类型取负
func (r *Repo) SumLedgerEntries(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal
	}
	err := r.conn(ctx).WithContext(ctx).Model(&domain.LedgerEntry{}).
		Select(`COALESCE(SUM(CASE
			WHEN type LIKE 'withdraw%' OR type LIKE '%_sent' OR type LIKE '%payment%' THEN -amount
			ELSE amount END), 0) AS total`).
		Where("wallet_id = ? AND status = ?", walletID, "completed").
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, xerr.Newf(xerr.DbError, "sum ledger entries: %v", err)
	}
	return out.Total, nil
}

// ========== CheckpointRepo ==========

func (r *Repo) SaveCheckpoint(ctx context.Context, cp *domain.SyncCheckpoint) error {
	err := r.conn(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"iteration", "last_run_at", "updated_at"}),
		}).
		Create(cp).Error
	if err != nil {
		return xerr.Newf(xerr.DbError, "save checkpoint: %v", err)
	}
	return nil
}

func (r *Repo) GetCheckpoint(ctx context.Context, name string) (*domain.SyncCheckpoint, error) {
	var cp domain.SyncCheckpoint
	err := r.conn(ctx).WithContext(ctx).First(&cp, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Newf(xerr.DbError, "get checkpoint: %v", err)
	}
	return &cp, nil
}
