package models

import "time"

// CreateTransactionRequest 创建混币交易的请求体
type CreateTransactionRequest struct {
	RecipientAddress string `json:"recipientAddress" binding:"required"`
	Amount           string `json:"amount" binding:"required"` // 十进制字符串，例如 "0.1"
	TokenType        string `json:"tokenType"`                 // "SOL"（默认）或 "BNB"
	DelayMinutes     int    `json:"delayMinutes"`              // 省略时使用配置的最小延迟
}

// CreateTransactionResponse 只返回浏览器发起打款所需的字段
type CreateTransactionResponse struct {
	ID             string    `json:"id"`
	DepositAddress string    `json:"depositAddress"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StepView 步骤的对外视图
type StepView struct {
	StepName    string    `json:"stepName"`
	Status      string    `json:"status"`
	Details     string    `json:"details,omitempty"`
	TxSignature string    `json:"txSignature,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WalletView 钱包的对外视图；私钥材料永不出现在这里
type WalletView struct {
	WalletAddress string    `json:"walletAddress"`
	Purpose       string    `json:"purpose"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TransactionView 单笔交易的完整对外视图
type TransactionView struct {
	ID                    string       `json:"id"`
	TokenType             string       `json:"tokenType"`
	DepositAddress        string       `json:"depositAddress"`
	RecipientAddress      string       `json:"recipientAddress"`
	Amount                uint64       `json:"amount"`
	DelayMinutes          int          `json:"delayMinutes"`
	RelayerFee            uint64       `json:"relayerFee"`
	PlatformFee           uint64       `json:"platformFee"`
	Status                string       `json:"status"`
	RetryCount            int          `json:"retryCount"`
	MaxRetries            int          `json:"maxRetries"`
	ErrorMessage          string       `json:"errorMessage,omitempty"`
	DepositTxSignature    string       `json:"depositTxSignature,omitempty"`
	Hop1TxSignature       string       `json:"hop1TxSignature,omitempty"`
	Hop2TxSignature       string       `json:"hop2TxSignature,omitempty"`
	WithdrawalTxSignature string       `json:"withdrawalTxSignature,omitempty"`
	CreatedAt             time.Time    `json:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt"`
	CompletedAt           *time.Time   `json:"completedAt,omitempty"`
	Steps                 []StepView   `json:"steps"`
	Wallets               []WalletView `json:"wallets"`
}

// TransactionSummary 列表接口的分页条目
type TransactionSummary struct {
	ID        string    `json:"id"`
	TokenType string    `json:"tokenType"`
	Amount    uint64    `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
