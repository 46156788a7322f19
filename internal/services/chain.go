package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

var ErrUnsupportedToken = errors.New("unsupported token type")

// GeneratedWallet 新生成的密钥对；PrivateKey 由调用方立即加密入库，之后不再保留明文
type GeneratedWallet struct {
	Address    string
	PrivateKey []byte
}

// ChainAdapter 各原生链 RPC 的窄封装，relayer 只通过这个接口碰链
type ChainAdapter interface {
	Token() string
	Decimals() int
	// GetBalance 返回地址余额（最小单位）
	GetBalance(ctx context.Context, address string) (uint64, error)
	// Transfer 构造、签名、广播一笔原生转账，并阻塞到链上确认后才返回签名。
	// "已提交"不等于"已完成"：丢失的转账必须以错误浮出，交给重试策略。
	Transfer(ctx context.Context, privateKey []byte, to string, amount uint64) (string, error)
	NewWallet() (*GeneratedWallet, error)
	ValidateAddress(address string) error
	// LatestIncomingSignature 返回该地址最近一笔入账的交易签名（用于审计字段），
	// 查不到时返回空串而不是错误。
	LatestIncomingSignature(ctx context.Context, address string) (string, error)
}

var chains = map[string]ChainAdapter{}

func RegisterChain(c ChainAdapter) {
	chains[c.Token()] = c
}

func ChainFor(token string) (ChainAdapter, error) {
	c, ok := chains[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedToken, token)
	}
	return c, nil
}

// Chains 返回已注册适配器的快照（注入给 relayer 引擎）
func Chains() map[string]ChainAdapter {
	out := make(map[string]ChainAdapter, len(chains))
	for k, v := range chains {
		out[k] = v
	}
	return out
}

// InitChains 按配置初始化链适配器；solana.rpc_url 必填，bsc.rpc_url 可选
func InitChains() error {
	rpcURL := viper.GetString("solana.rpc_url")
	if rpcURL == "" {
		return errors.New("solana.rpc_url is empty in config")
	}
	RegisterChain(NewSolanaChain(rpcURL))

	if bscURL := viper.GetString("bsc.rpc_url"); bscURL != "" {
		bsc, err := NewBSCChain(bscURL, viper.GetInt64("bsc.chain_id"))
		if err != nil {
			return err
		}
		RegisterChain(bsc)
	}
	return nil
}
