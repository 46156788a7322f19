package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"SolMixer/utils"
)

var ErrTransferReverted = errors.New("transfer reverted on chain")

// BSCChain BNB Smart Chain 适配器（EVM 系）
type BSCChain struct {
	client   *ethclient.Client
	chainID  *big.Int
	gasLimit uint64
}

func NewBSCChain(rpcURL string, chainID int64) (*BSCChain, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to BSC: %w", err)
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		// 配置没写就问节点
		id, err = client.ChainID(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
	}

	return &BSCChain{
		client:   client,
		chainID:  id,
		gasLimit: 21000, // 原生转账固定
	}, nil
}

func (c *BSCChain) Token() string { return "BNB" }

func (c *BSCChain) Decimals() int { return utils.DecimalsBNB }

func (c *BSCChain) GetBalance(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("invalid BSC address: %s", address)
	}
	bal, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, err
	}
	if !bal.IsUint64() {
		// 单笔上限远低于 uint64 能表达的 ~18.4 BNB，走到这里说明地址被外部打爆了
		return 0, fmt.Errorf("balance overflows uint64: %s wei", bal.String())
	}
	return bal.Uint64(), nil
}

func (c *BSCChain) NewWallet() (*GeneratedWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &GeneratedWallet{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: crypto.FromECDSA(key),
	}, nil
}

func (c *BSCChain) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid BSC address: %s", address)
	}
	return nil
}

// Transfer 发送原生 BNB 转账并等待上链；回执状态非成功视为错误
func (c *BSCChain) Transfer(ctx context.Context, privateKey []byte, to string, amount uint64) (string, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return "", ErrBadPrivateKey
	}
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("bad recipient address: %s", to)
	}

	fromAddr := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.client.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	// 留出 gas：从临时地址整付时金额里要扣掉手续费
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(c.gasLimit))
	value := new(big.Int).SetUint64(amount)
	value.Sub(value, fee)
	if value.Sign() <= 0 {
		return "", fmt.Errorf("amount %d too small to cover gas", amount)
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(to), value, c.gasLimit, gasPrice, nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign failed: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, signed)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrConfirmTimeout, signed.Hash().Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: %s", ErrTransferReverted, signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

// LatestIncomingSignature EVM 侧没有按地址倒查交易的标准 RPC（需要索引器），
// 存款腿的审计签名在 BNB 上留空。
func (c *BSCChain) LatestIncomingSignature(ctx context.Context, address string) (string, error) {
	return "", nil
}
