package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// 跨链兑换状态（聚合器侧）
const (
	SwapStatusPending    = "PENDING"
	SwapStatusProcessing = "PROCESSING"
	SwapStatusSuccess    = "SUCCESS"
	SwapStatusFailed     = "FAILED"
	SwapStatusRefunded   = "REFUNDED"
)

var (
	ErrQuoteRejected = errors.New("quote rejected")
	ErrSwapAPI       = errors.New("swap api error")
)

// QuoteRequest 询价参数；所有金额都是资产最小单位的整数
type QuoteRequest struct {
	SourceAsset      string `json:"sourceAsset"`
	DestinationAsset string `json:"destinationAsset"`
	Amount           uint64 `json:"amount"`
	RefundAddress    string `json:"refundAddress"`
	RecipientAddress string `json:"recipientAddress"`
	DeadlineMinutes  int    `json:"deadlineMinutes"`
	SlippageBps      int    `json:"slippageBps"`
}

// Quote 聚合器给出的兑换报价
type Quote struct {
	DepositAddress string    `json:"depositAddress"`
	DepositMemo    string    `json:"depositMemo"`
	AmountOut      uint64    `json:"amountOut"`
	Deadline       time.Time `json:"deadline"`
}

// SwapStatus 兑换进度
type SwapStatus struct {
	Status            string `json:"status"`
	AmountOut         uint64 `json:"amountOut"`
	DestinationTxHash string `json:"destinationTxHash"`
}

// BridgeClient 跨链兑换聚合器的 HTTP 封装。
// HTTP 层失败（超时、5xx）和业务拒绝同样对待：都当作没有产生任何副作用。
type BridgeClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewBridgeClient(baseURL, apiKey string) *BridgeClient {
	return &BridgeClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewBridgeClientFromConfig 从配置初始化（bridge.base_url 必填）
func NewBridgeClientFromConfig() (*BridgeClient, error) {
	baseURL := viper.GetString("bridge.base_url")
	if baseURL == "" {
		return nil, errors.New("bridge.base_url is empty in config")
	}
	return NewBridgeClient(baseURL, viper.GetString("bridge.api_key")), nil
}

func (b *BridgeClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSwapAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrSwapAPI, resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: bad response: %v", ErrSwapAPI, err)
		}
	}
	return nil
}

// RequestQuote 询价。资产对不支持、金额越界、deadline 太近等都会被拒，
// 统一包装为 ErrQuoteRejected。
func (b *BridgeClient) RequestQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var q Quote
	if err := b.do(ctx, http.MethodPost, "/v1/quote", req, &q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteRejected, err)
	}
	if q.DepositAddress == "" {
		return nil, fmt.Errorf("%w: empty deposit address", ErrQuoteRejected)
	}
	return &q, nil
}

// NotifyDeposit 通知聚合器我们已打款（加速它的入账识别）。
// best-effort：失败不致命，聚合器自己也会在更长的窗口内扫到这笔存款，
// 调用方只打日志，绝不因此中断状态转移。
func (b *BridgeClient) NotifyDeposit(ctx context.Context, depositAddress, txHash string) error {
	body := map[string]string{
		"depositAddress": depositAddress,
		"txHash":         txHash,
	}
	return b.do(ctx, http.MethodPost, "/v1/deposit", body, nil)
}

// PollStatus 查询兑换进度；可以安全地反复调用
func (b *BridgeClient) PollStatus(ctx context.Context, depositAddress, depositMemo string) (*SwapStatus, error) {
	q := url.Values{}
	q.Set("depositAddress", depositAddress)
	if depositMemo != "" {
		q.Set("depositMemo", depositMemo)
	}
	var st SwapStatus
	if err := b.do(ctx, http.MethodGet, "/v1/status?"+q.Encode(), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// IntermediateBalance 查询中间资产地址在聚合器链上的余额（最小单位）
func (b *BridgeClient) IntermediateBalance(ctx context.Context, address string) (uint64, error) {
	var out struct {
		Balance uint64 `json:"balance"`
	}
	if err := b.do(ctx, http.MethodGet, "/v1/intermediate/balance?address="+url.QueryEscape(address), nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// TransferIntermediate 把中间资产从我们的中间地址转到第二跳存款地址。
// 中间资产只存在于聚合器的链上，转账以 ed25519 签名的转账意向提交，
// 聚合器验签后代为执行。返回聚合器侧的交易哈希。
func (b *BridgeClient) TransferIntermediate(ctx context.Context, privateKey []byte, from, to string, amount uint64) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", ErrBadPrivateKey
	}
	ts := time.Now().Unix()
	payload := fmt.Sprintf("%s|%s|%d|%d", from, to, amount, ts)
	sig := ed25519.Sign(ed25519.PrivateKey(privateKey), []byte(payload))

	body := map[string]interface{}{
		"from":      from,
		"to":        to,
		"amount":    amount,
		"timestamp": ts,
		"signature": base64.StdEncoding.EncodeToString(sig),
	}
	var out struct {
		TxHash string `json:"txHash"`
	}
	if err := b.do(ctx, http.MethodPost, "/v1/intermediate/transfer", body, &out); err != nil {
		return "", err
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("%w: empty tx hash", ErrSwapAPI)
	}
	return out.TxHash, nil
}

// NewIntermediateWallet 生成中间资产地址：ed25519 密钥对，
// 地址为公钥 hex（聚合器链的隐式账户格式）
func NewIntermediateWallet() (*GeneratedWallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &GeneratedWallet{
		Address:    hex.EncodeToString(pub),
		PrivateKey: []byte(priv),
	}, nil
}
