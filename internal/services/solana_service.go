package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"SolMixer/utils"
)

var (
	ErrBroadcastFailed = errors.New("broadcast failed")
	ErrConfirmTimeout  = errors.New("transfer not confirmed in time")
	ErrBadPrivateKey   = errors.New("bad private key")
)

// SolanaChain SOL 链适配器
type SolanaChain struct {
	client *rpc.Client
}

func NewSolanaChain(rpcURL string) *SolanaChain {
	return &SolanaChain{client: rpc.New(rpcURL)}
}

func (c *SolanaChain) Token() string { return "SOL" }

func (c *SolanaChain) Decimals() int { return utils.DecimalsSOL }

func (c *SolanaChain) GetBalance(ctx context.Context, address string) (uint64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, err
	}
	out, err := c.client.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (c *SolanaChain) NewWallet() (*GeneratedWallet, error) {
	w := solana.NewWallet()
	return &GeneratedWallet{
		Address:    w.PublicKey().String(),
		PrivateKey: []byte(w.PrivateKey),
	}, nil
}

func (c *SolanaChain) ValidateAddress(address string) error {
	_, err := solana.PublicKeyFromBase58(address)
	return err
}

// Transfer 发送 System Program 转账并轮询确认。
// 广播带重试；Blockhash not found 不重试（重试也不会成功，直接重新走一遍流程更快）。
func (c *SolanaChain) Transfer(ctx context.Context, privateKey []byte, to string, amount uint64) (string, error) {
	if len(privateKey) != 64 {
		return "", ErrBadPrivateKey
	}
	from := solana.PrivateKey(privateKey)
	fromPubkey := from.PublicKey()

	toPubkey, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("bad recipient address: %w", err)
	}

	bh, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount, fromPubkey, toPubkey).Build(),
		},
		bh.Value.Blockhash,
		solana.TransactionPayer(fromPubkey),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(fromPubkey) {
			return &from
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign failed: %w", err)
	}

	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize failed: %w", err)
	}

	// 广播（带重试）
	var sig solana.Signature
	var broadcastErr error
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		sig, broadcastErr = c.client.SendRawTransaction(ctx, enc)
		if broadcastErr == nil {
			break
		}
		utils.DefaultLogger.Warn("SOL 转账广播失败 (尝试 %d/%d): %v", i+1, maxRetries, broadcastErr)
		if ctx.Err() != nil {
			break
		}
	}
	if broadcastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, broadcastErr)
	}

	// 轮询确认；"已提交"不算完成
	if err := c.waitConfirmed(ctx, sig); err != nil {
		return "", err
	}
	return sig.String(), nil
}

// waitConfirmed 每 2 秒查一次签名状态，confirmed/finalized 才算数
func (c *SolanaChain) waitConfirmed(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig.String())
		case <-ticker.C:
		}

		statuses, err := c.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			utils.DefaultLogger.Warn("查询交易状态失败: %v", err)
			continue
		}
		if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
			continue // 还查不到，继续等
		}
		st := statuses.Value[0]
		if st.Err != nil {
			return fmt.Errorf("transaction failed on chain: %v", st.Err)
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
	}
}

// LatestIncomingSignature 取存款地址最近一笔交易的签名，并解码验证该地址确实在账户列表里。
// 解码失败或验证不过只降级为空串，审计字段缺失不该阻塞状态机。
func (c *SolanaChain) LatestIncomingSignature(ctx context.Context, address string) (string, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", err
	}

	limit := 1
	sigs, err := c.client.GetSignaturesForAddressWithOpts(ctx, pubkey, &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	})
	if err != nil || len(sigs) == 0 {
		return "", nil
	}
	sigInfo := sigs[0]

	res, err := c.client.GetTransaction(ctx, sigInfo.Signature, &rpc.GetTransactionOpts{
		Encoding: solana.EncodingBase64,
	})
	if err != nil || res == nil || res.Transaction == nil {
		return sigInfo.Signature.String(), nil
	}

	raw := res.Transaction.GetBinary()
	decoded, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return sigInfo.Signature.String(), nil
	}
	for _, key := range decoded.Message.AccountKeys {
		if key.Equals(pubkey) {
			return sigInfo.Signature.String(), nil
		}
	}
	return "", nil
}
