package provision

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"islapay.com/internal/chain"
	"islapay.com/internal/domain"
	"islapay.com/internal/events"
	"islapay.com/internal/keyvault"
	"islapay.com/pkg/hdwallet"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/xerr"
)

const (
	ProviderHouse     = "house"
	ProviderCustodial = "custodial"
)

// Service 钱包开通：按链生成密钥对，私钥加密后和钱包一起落库。
// 一次请求覆盖多条链时按链隔离，单条链失败不影响其他链
type Service struct {
	registry *chain.Registry
	vault    *keyvault.Vault
	// hd 非空时 house 钱包从统一助记词派生 (secp256k1 家族)，
	// 用户钱包永远走随机生成
	hd      *hdwallet.HDWallet
	wallets domain.WalletRepo
	secrets domain.SecretRepo
	tx      domain.TxManager
	pub     *events.Publisher
}

func NewService(registry *chain.Registry, vault *keyvault.Vault, hd *hdwallet.HDWallet,
	wallets domain.WalletRepo, secrets domain.SecretRepo, tx domain.TxManager, pub *events.Publisher) *Service {
	return &Service{
		registry: registry,
		vault:    vault,
		hd:       hd,
		wallets:  wallets,
		secrets:  secrets,
		tx:       tx,
		pub:      pub,
	}
}

// WalletResult 单条链的开通结果
type WalletResult struct {
	ChainID  int64  `json:"chain_id"`
	Chain    string `json:"chain"`
	Status   string `json:"status"` // "created" / "exists" / "failed"
	WalletID string `json:"wallet_id,omitempty"`
	Address  string `json:"address,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Provision 为 userID 在指定链上开钱包；chainIDs 为空时覆盖注册表里所有链。
// userID 传空或 "house" 表示平台自有钱包。
// 已有 (owner, chain) 钱包时返回已有地址，不重复生成
func (s *Service) Provision(ctx context.Context, userID string, chainIDs []int64) ([]*WalletResult, error) {
	owner := strings.TrimSpace(userID)
	if owner == "" || strings.EqualFold(owner, "house") {
		owner = domain.HouseOwnerID
	}

	targets, err := s.resolveTargets(chainIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*WalletResult, 0, len(targets))
	for _, entry := range targets {
		res := s.provisionOne(ctx, owner, entry)
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) resolveTargets(chainIDs []int64) ([]*chain.Entry, error) {
	if len(chainIDs) == 0 {
		return s.registry.All(), nil
	}
	targets := make([]*chain.Entry, 0, len(chainIDs))
	for _, id := range chainIDs {
		entry, ok := s.registry.Get(id)
		if !ok {
			return nil, xerr.Newf(xerr.RequestParamsError, "unknown chain id %d", id)
		}
		targets = append(targets, entry)
	}
	return targets, nil
}

// provisionOne 单链开通，任何错误都收敛在结果里
func (s *Service) provisionOne(ctx context.Context, owner string, entry *chain.Entry) *WalletResult {
	cfg := entry.Config
	res := &WalletResult{ChainID: cfg.ChainID, Chain: cfg.Name}

	existing, err := s.wallets.FindWalletByOwnerChain(ctx, owner, cfg.ChainID)
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}
	if existing != nil {
		res.Status = "exists"
		res.WalletID = existing.ID
		res.Address = existing.Address
		return res
	}

	address, pubKey, secret, provider, err := s.generate(owner, cfg.Family, cfg.ChainID)
	if err != nil {
		logger.Error(ctx, "密钥生成失败",
			zap.String("chain", cfg.Name),
			zap.String("owner", owner),
			zap.Error(err))
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}

	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:           uuid.NewString(),
		UserID:       owner,
		ChainID:      cfg.ChainID,
		Chain:        strings.ToUpper(cfg.Name),
		Address:      address,
		PublicKey:    pubKey,
		Provider:     provider,
		CurrencyCode: cfg.Symbol,
	}

	// 钱包和密钥材料必须一起落库，缺了密文的钱包是不可用的
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.wallets.SaveWallet(ctx, w); err != nil {
			return err
		}
		return s.secrets.SaveSecret(ctx, &domain.EncryptedSecret{
			ID:        uuid.NewString(),
			WalletID:  w.ID,
			Cipher:    secret.Cipher,
			IV:        secret.IV,
			Method:    secret.Method,
			CreatedAt: secret.CreatedAt,
		})
	})
	if err != nil {
		logger.Error(ctx, "钱包落库失败",
			zap.String("chain", cfg.Name),
			zap.String("owner", owner),
			zap.Error(err))
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}

	logger.Info(ctx, "钱包已开通",
		zap.String("wallet_id", w.ID),
		zap.String("chain", cfg.Name),
		zap.String("address", address),
		zap.String("provider", provider))

	s.pub.Publish(ctx, events.SubjectWalletCreated, &events.WalletCreatedEvent{
		WalletID:  w.ID,
		UserID:    owner,
		Chain:     w.Chain,
		Address:   address,
		CreatedAt: now,
	})

	res.Status = "created"
	res.WalletID = w.ID
	res.Address = address
	return res
}

// generate 选择密钥来源：house + 配了助记词 + secp256k1 家族走 HD 派生，
// 其余一律随机生成。派生 index 用 chainID 保证每条链路径不同
func (s *Service) generate(owner string, family domain.ChainFamily, chainID int64) (address, pubKey string, secret keyvault.EncryptedBlob, provider string, err error) {
	provider = ProviderCustodial
	if owner == domain.HouseOwnerID {
		provider = ProviderHouse
	}

	if coinType, ok := s.hdCoinType(owner, family); ok {
		derived, derr := s.hd.Derive(coinType, uint32(chainID))
		if derr != nil {
			return "", "", keyvault.EncryptedBlob{}, "", xerr.Newf(xerr.CryptoError, "hd derive: %v", derr)
		}
		blob, eerr := s.vault.Encrypt(derived.PrivHex)
		if eerr != nil {
			return "", "", keyvault.EncryptedBlob{}, "", eerr
		}
		return derived.Address, derived.PublicKey, blob, provider, nil
	}

	gen, gerr := s.vault.Generate(family)
	if gerr != nil {
		return "", "", keyvault.EncryptedBlob{}, "", gerr
	}
	return gen.Address, gen.PublicKey, gen.Secret, provider, nil
}

func (s *Service) hdCoinType(owner string, family domain.ChainFamily) (uint32, bool) {
	if owner != domain.HouseOwnerID || s.hd == nil {
		return 0, false
	}
	switch family {
	case domain.FamilyEVM:
		return hdwallet.CoinTypeETH, true
	case domain.FamilyBitcoin:
		return hdwallet.CoinTypeBTC, true
	default:
		// Ed25519 家族不走 BIP44 secp256k1 派生
		return 0, false
	}
}
