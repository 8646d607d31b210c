package domain

import "time"

// TransactionRecord 链上发现的交易，(chain, tx_hash) 全局唯一
// 重复发现是 no-op，不是错误
type TransactionRecord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Chain    string `gorm:"size:32;uniqueIndex:idx_chain_tx"`
	TxHash   string `gorm:"size:128;uniqueIndex:idx_chain_tx"`
	WalletID string `gorm:"size:36;index"`
	// Raw 供应商原始返回，逐字保存，审计/回放用
	Raw          []byte `gorm:"type:json"`
	DiscoveredAt time.Time
}

// SyncCheckpoint 同步循环检查点，优雅退出时落库
type SyncCheckpoint struct {
	Name      string `gorm:"primaryKey;size:32"` // "balance_sync"
	Iteration int64
	LastRunAt time.Time
	UpdatedAt time.Time
}
