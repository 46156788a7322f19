package models

import (
	"time"

	"gorm.io/gorm"
)

// 交易状态机状态（状态转移见 internal/relayer）
const (
	StatusPendingDeposit  = "PENDING_DEPOSIT"  // 等待用户向存款地址打款
	StatusDepositReceived = "DEPOSIT_RECEIVED" // 已检测到存款，准备第一跳
	StatusHop1Depositing  = "HOP_1_DEPOSITING" // 已向第一跳存款地址转账，等待兑换完成
	StatusHop1Delay       = "HOP_1_DELAY"      // 第一跳完成，按用户选择的延迟等待
	StatusHop2Depositing  = "HOP_2_DEPOSITING" // 已发起第二跳，等待到账
	StatusCompleted       = "COMPLETED"        // 终态：资金已送达收款人
	StatusFailed          = "FAILED"           // 可重试失败；retry_count 达上限后为终态
)

// 钱包用途标签
const (
	WalletPurposeDeposit      = "DEPOSIT"            // 用户存款地址
	WalletPurposeIntermediate = "INTERMEDIATE"       // 中间资产（聚合器链上）地址
	WalletPurposeExternal1    = "EXTERNAL_ADDRESS_1" // 外链地址（预留）
	WalletPurposeExternal2    = "EXTERNAL_ADDRESS_2"
)

// 步骤状态
const (
	StepStatusPending    = "PENDING"
	StepStatusInProgress = "IN_PROGRESS"
	StepStatusCompleted  = "COMPLETED"
	StepStatusFailed     = "FAILED"
)

// 支持的资产类型
const (
	TokenSOL = "SOL"
	TokenBNB = "BNB"
)

// Transaction 一笔混币请求
type Transaction struct {
	gorm.Model
	TxID             string `gorm:"uniqueIndex;size:36"` // 对外暴露的交易 ID（uuid）
	TokenType        string `gorm:"size:10;default:'SOL'"`
	DepositAddress   string `gorm:"index;size:64"` // 存款地址（新生成密钥对的公钥）
	RecipientAddress string `gorm:"size:64"`       // 最终收款人地址
	Amount           uint64 // 请求金额（最小单位：lamports / wei）
	DelayMinutes     int    // 第一跳完成后的延迟（分钟）
	RelayerFee       uint64 // 固定 relayer 费（最小单位）
	PlatformFee      uint64 // 平台费（按 bps 在创建时算好）

	Status       string `gorm:"index;size:24;default:'PENDING_DEPOSIT'"`
	RetryCount   int    `gorm:"default:0"` // 只增不减
	MaxRetries   int    `gorm:"default:3"`
	ErrorMessage string `gorm:"size:512"`

	// Metadata 携带跳转计划（HopPlan），AdditionalData 携带调度时间戳（Schedule）。
	// 两者在 relayer 边界上有类型化的结构体，这里只存 JSON 文本。
	Metadata       string `gorm:"type:text"`
	AdditionalData string `gorm:"type:text"`

	// 每条链上腿一个签名字段，只写一次，用于审计与 UI 链接
	DepositTxSignature    string `gorm:"size:128"`
	Hop1TxSignature       string `gorm:"size:128"`
	Hop2TxSignature       string `gorm:"size:128"`
	WithdrawalTxSignature string `gorm:"size:128"`

	LockVersion int `gorm:"default:0"` // 乐观锁版本号（多实例扩展时防止重复推进）
	CompletedAt *time.Time
}

// Wallet 属于某笔交易的临时密钥对；私钥落库前已用该交易派生的密钥加密
type Wallet struct {
	gorm.Model
	TransactionID       string `gorm:"index;size:36"` // 所属交易的 TxID
	WalletAddress       string `gorm:"size:64"`
	EncryptedPrivateKey string `gorm:"type:text"` // base64(nonce‖密文‖tag)，明文永不落库
	Purpose             string `gorm:"size:24"`
}

// Step 只追加的事件日志，按创建时间排序，是 UI 渲染进度的唯一来源
type Step struct {
	gorm.Model
	TransactionID string `gorm:"index;size:36"`
	StepName      string `gorm:"size:64"`
	Status        string `gorm:"size:16;default:'PENDING'"`
	Details       string `gorm:"type:text"` // 自由结构 JSON：地址、预期/实际金额、外部交易哈希
	TxSignature   string `gorm:"size:128"`
}
