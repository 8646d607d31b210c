// HD 派生钱包，平台自有 (house) 钱包可选择从统一助记词派生
package hdwallet

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// BIP44 coin type
const (
	CoinTypeBTC uint32 = 0
	CoinTypeETH uint32 = 60
)

type HDWallet struct {
	masterKey *hdkeychain.ExtendedKey
	btcParams *chaincfg.Params
}

// New 用助记词构建根私钥
func New(mnemonic string, netParams *chaincfg.Params) (*HDWallet, error) {
	if mnemonic == "" {
		return nil, errors.New("mnemonic cannot be empty")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid bip39 mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := hdkeychain.NewMaster(seed, netParams)
	if err != nil {
		return nil, err
	}
	return &HDWallet{
		masterKey: masterKey,
		btcParams: netParams,
	}, nil
}

// Derived 一次派生的产物；私钥只交给 KeyVault 加密，不外传
type Derived struct {
	Address   string
	PublicKey string // 压缩公钥 hex
	PrivHex   string
}

// Derive 按 BIP44 路径派生: m / 44' / coin_type' / 0' / 0 / index
func (w *HDWallet) Derive(coinType uint32, index uint32) (*Derived, error) {
	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,
		coinType + hdkeychain.HardenedKeyStart,
		0 + hdkeychain.HardenedKeyStart,
		0,
		index,
	}

	key := w.masterKey
	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}

	address, err := w.address(coinType, privKey)
	if err != nil {
		return nil, err
	}
	return &Derived{
		Address:   address,
		PublicKey: hex.EncodeToString(privKey.PubKey().SerializeCompressed()),
		PrivHex:   hex.EncodeToString(privKey.Serialize()),
	}, nil
}

func (w *HDWallet) address(coinType uint32, privKey *btcec.PrivateKey) (string, error) {
	switch coinType {
	case CoinTypeBTC:
		// P2PKH，和随机生成路径保持同一种地址格式
		addr, err := btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(privKey.PubKey().SerializeCompressed()),
			w.btcParams,
		)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case CoinTypeETH:
		ethKey := privKey.ToECDSA()
		return crypto.PubkeyToAddress(ethKey.PublicKey).Hex(), nil
	default:
		return "", errors.New("unsupported coin type")
	}
}
