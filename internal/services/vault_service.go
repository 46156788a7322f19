package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"github.com/spf13/viper"
)

var (
	ErrVaultNotInitialized = errors.New("vault not initialized")
	ErrDecryptFailed       = errors.New("decrypt failed")
)

// Vault 托管密钥保险库：临时钱包私钥落库前在这里加密。
// 加密密钥由 (交易 ID, 主密钥) 单向哈希派生，无需为每个钱包单独存密钥；
// 交易 ID 同时作为 AEAD 附加数据绑定，用错 ID 解密会认证失败而不是得到乱码。
type Vault struct {
	master []byte
}

func NewVault(masterSecret string) *Vault {
	return &Vault{master: []byte(masterSecret)}
}

var DefaultVault *Vault

// InitVault 从配置读取主密钥并初始化全局保险库
func InitVault() error {
	secret := viper.GetString("mixer.master_secret")
	if secret == "" {
		return errors.New("mixer.master_secret is empty in config")
	}
	DefaultVault = NewVault(secret)
	return nil
}

// deriveKey sha256(master ‖ 0x00 ‖ txID)，每笔交易一把 AES-256 密钥
func (v *Vault) deriveKey(txID string) []byte {
	h := sha256.New()
	h.Write(v.master)
	h.Write([]byte{0})
	h.Write([]byte(txID))
	return h.Sum(nil)
}

// Encrypt 加密私钥材料，返回 base64(nonce‖密文‖tag)
func (v *Vault) Encrypt(keyBytes []byte, txID string) (string, error) {
	if v == nil {
		return "", ErrVaultNotInitialized
	}
	block, err := aes.NewCipher(v.deriveKey(txID))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, keyBytes, []byte(txID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密；blob 被篡改或 txID 不是加密时用的那个，都返回 ErrDecryptFailed
func (v *Vault) Decrypt(blob string, txID string) ([]byte, error) {
	if v == nil {
		return nil, ErrVaultNotInitialized
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	block, err := aes.NewCipher(v.deriveKey(txID))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, []byte(txID))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
