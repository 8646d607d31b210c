package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HouseOwnerID 平台自有钱包的 owner 哨兵值，不对应任何真实用户
const HouseOwnerID = "00000000-0000-0000-0000-000000000000"

// Wallet 托管钱包：一条链上的一个地址，归平台(house)或某个用户所有
// (owner, chain) 唯一；地址创建后不可变
type Wallet struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:36;uniqueIndex:idx_owner_chain"`
	ChainID   int64  `gorm:"uniqueIndex:idx_owner_chain"`
	Chain     string `gorm:"size:32"` // 链名大写，如 "ETHEREUM"
	Address   string `gorm:"size:128;index"`
	PublicKey string `gorm:"size:256"`
	Provider  string `gorm:"size:32"` // "house" / "custodial"
	// Balance 为空表示还没同步过；同步只在值变化时落库
	Balance      decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	CurrencyCode string              `gorm:"size:16"`
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (w *Wallet) IsHouse() bool { return w.UserID == HouseOwnerID }

// EncryptedSecret 加密私钥材料，认证标签跟在密文后 (AES-GCM Seal 的输出)
// 解密时标签校验不过必须报错，绝不返回半解密数据
type EncryptedSecret struct {
	ID        string `gorm:"primaryKey;size:36"`
	WalletID  string `gorm:"size:36;uniqueIndex"`
	Cipher    string `gorm:"type:text"` // base64(ciphertext||tag)
	IV        string `gorm:"size:64"`   // base64(12字节随机 nonce)
	Method    string `gorm:"size:32"`   // "AES-256-GCM"
	CreatedAt time.Time
}
