package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"

	"islapay.com/internal/domain"
	"islapay.com/pkg/xerr"
)

// EncryptedBlob 加密后的私钥材料，认证标签由 GCM Seal 附在密文尾部
type EncryptedBlob struct {
	Cipher    string    // base64(ciphertext||tag)
	IV        string    // base64(12字节随机 nonce)
	Method    string    // "AES-256-GCM"
	CreatedAt time.Time
}

const methodAESGCM = "AES-256-GCM"

// Generated 一次生成的产物；私钥只以密文形式离开本包
type Generated struct {
	Address   string
	PublicKey string
	Secret    EncryptedBlob
}

// Vault 按链家族生成密钥对并托管加密
// 加密密钥从单一 master secret 派生 (sha256)，无 per-secret salt —
// 这是已知的托管弱点，先保持与现网一致，替换方案待定
type Vault struct {
	key       []byte // sha256(masterSecret)
	btcParams *chaincfg.Params
}

// New master secret 缺失是启动期致命错误，绝不能静默跳过加密
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, xerr.New(xerr.ConfigError, "wallet master secret is not configured")
	}
	sum := sha256.Sum256([]byte(masterSecret))
	return &Vault{
		key:       sum[:],
		btcParams: &chaincfg.MainNetParams,
	}, nil
}

// Generate 生成指定链家族的新钱包
// EVM 用 secp256k1，Solana 用 Ed25519，Bitcoin 用 secp256k1 + P2PKH 地址
func (v *Vault) Generate(family domain.ChainFamily) (*Generated, error) {
	switch family {
	case domain.FamilyEVM:
		return v.generateEVM()
	case domain.FamilySolana:
		return v.generateSolana()
	case domain.FamilyBitcoin:
		return v.generateBitcoin()
	default:
		return nil, xerr.Newf(xerr.RequestParamsError, "unsupported chain family: %s", family)
	}
}

func (v *Vault) generateEVM() (*Generated, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, xerr.Newf(xerr.CryptoError, "generate secp256k1 key: %v", err)
	}

	address := ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
	pubKey := hex.EncodeToString(ethcrypto.CompressPubkey(&priv.PublicKey))
	privHex := hex.EncodeToString(ethcrypto.FromECDSA(priv))

	blob, err := v.encrypt(privHex)
	if err != nil {
		return nil, err
	}
	return &Generated{Address: address, PublicKey: pubKey, Secret: blob}, nil
}

func (v *Vault) generateSolana() (*Generated, error) {
	wallet := solana.NewWallet()

	address := wallet.PublicKey().String()
	pubKey := hex.EncodeToString(wallet.PublicKey().Bytes())
	// 64字节 secret key (seed||pub)，与现网一致按 hex 存
	privHex := hex.EncodeToString(wallet.PrivateKey)

	blob, err := v.encrypt(privHex)
	if err != nil {
		return nil, err
	}
	return &Generated{Address: address, PublicKey: pubKey, Secret: blob}, nil
}

func (v *Vault) generateBitcoin() (*Generated, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, xerr.Newf(xerr.CryptoError, "generate secp256k1 key: %v", err)
	}

	pubBytes := priv.PubKey().SerializeCompressed()
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubBytes), v.btcParams)
	if err != nil {
		return nil, xerr.Newf(xerr.CryptoError, "derive p2pkh address: %v", err)
	}

	blob, err := v.encrypt(hex.EncodeToString(priv.Serialize()))
	if err != nil {
		return nil, err
	}
	return &Generated{
		Address:   addr.EncodeAddress(),
		PublicKey: hex.EncodeToString(pubBytes),
		Secret:    blob,
	}, nil
}

// Encrypt 托管一段外部生成的私钥材料 (HD 派生路径走这里)
func (v *Vault) Encrypt(plaintext string) (EncryptedBlob, error) {
	return v.encrypt(plaintext)
}

// encrypt AES-256-GCM，每次调用新的 12 字节随机 nonce
func (v *Vault) encrypt(plaintext string) (EncryptedBlob, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return EncryptedBlob{}, xerr.Newf(xerr.CryptoError, "init cipher: %v", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedBlob{}, xerr.Newf(xerr.CryptoError, "init gcm: %v", err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedBlob{}, xerr.Newf(xerr.CryptoError, "generate nonce: %v", err)
	}

	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)

	return EncryptedBlob{
		Cipher:    base64.StdEncoding.EncodeToString(ciphertext),
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Method:    methodAESGCM,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decrypt 标签校验失败 (被篡改或密钥不对) 返回 CryptoError，
// 绝不返回部分解密的内容
func (v *Vault) Decrypt(blob EncryptedBlob) (string, error) {
	if blob.Method != methodAESGCM {
		return "", xerr.Newf(xerr.CryptoError, "unknown encryption method: %s", blob.Method)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob.Cipher)
	if err != nil {
		return "", xerr.Newf(xerr.CryptoError, "decode cipher: %v", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return "", xerr.Newf(xerr.CryptoError, "decode iv: %v", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", xerr.Newf(xerr.CryptoError, "init cipher: %v", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", xerr.Newf(xerr.CryptoError, "init gcm: %v", err)
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// 认证失败，密文或标签被动过
		return "", xerr.New(xerr.CryptoError, "decrypt: authentication failed")
	}
	return string(plaintext), nil
}
