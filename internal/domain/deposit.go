package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 充值审批状态机：pending -> approved | rejected，终态不可再流转
type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
)

// Deposit 一笔等待审批的充值
type Deposit struct {
	ID           string          `gorm:"primaryKey;size:36"`
	UserID       string          `gorm:"size:36;index"`
	WalletID     string          `gorm:"size:36;index"`
	Amount       decimal.Decimal `gorm:"type:decimal(36,18)"`
	CurrencyCode string          `gorm:"size:16"`
	// 实际到账金额和汇率由审批时补充
	ReceivedAmount decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	ExchangeRate   decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	Status         DepositStatus       `gorm:"size:16;index"`
	Method         string              `gorm:"size:32"`
	// ExternalID 外部充值检测路径的去重键
	ExternalID    *string `gorm:"size:128;uniqueIndex"`
	ApprovedBy    *string `gorm:"size:36"`
	ApproverEmail string  `gorm:"size:128"`
	Reason        string  `gorm:"size:512"`
	ApprovedAt    *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LedgerEntry 账本条目 (wallet_transactions)：影响余额的事件的不可变追加记录
// 钱包余额必须能从全量条目重算出来；条目只增不改不删
type LedgerEntry struct {
	ID           string          `gorm:"primaryKey;size:36"`
	WalletID     string          `gorm:"size:36;index"`
	UserID       string          `gorm:"size:36;index"`
	Type         string          `gorm:"size:32"` // "deposit_approved" ...
	Amount       decimal.Decimal `gorm:"type:decimal(36,18)"`
	CurrencyCode string          `gorm:"size:16"`
	Status       string          `gorm:"size:16"`
	// ReferenceID 回指产生这条记录的 Deposit
	ReferenceID string  `gorm:"size:36;index"`
	Description string  `gorm:"size:512"`
	Metadata    JSONMap `gorm:"type:json"`
	CreatedAt   time.Time
}

const (
	LedgerTypeDepositPending  = "deposit_pending"
	LedgerTypeDepositApproved = "deposit_approved"
)

// JSONMap 元数据列，按 JSON 落库
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("jsonmap: unsupported column type")
	}
	return json.Unmarshal(data, m)
}

// BalanceVerification 审批后对账结果：从账本重算余额和存量余额比对
// 不一致只上报，不自动修正
type BalanceVerification struct {
	WalletID        string          `json:"wallet_id"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	ActualBalance   decimal.Decimal `json:"actual_balance"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	IsBalanced      bool            `json:"is_balanced"`
}
