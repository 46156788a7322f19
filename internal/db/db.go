package db

import (
	"errors"

	"gorm.io/gorm"

	"SolMixer/internal/models"
)

var DB *gorm.DB // 在 main 中赋值；handler 层直接使用

// ErrStaleTransaction 乐观锁冲突：别的 poller 已经推进了这笔交易
var ErrStaleTransaction = errors.New("stale transaction: lock version mismatch")

// 根据对外 TxID 查询交易
func GetTransactionByTxID(db *gorm.DB, txID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := db.Where("tx_id = ?", txID).First(&tx).Error
	return &tx, err
}

// 查询某笔交易的全部步骤，按创建顺序返回（UI 依赖该顺序渲染进度）
func GetStepsByTransactionID(db *gorm.DB, txID string) ([]models.Step, error) {
	var steps []models.Step
	err := db.Where("transaction_id = ?", txID).Order("id asc").Find(&steps).Error
	return steps, err
}

// 查询某笔交易的钱包
func GetWalletsByTransactionID(db *gorm.DB, txID string) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := db.Where("transaction_id = ?", txID).Order("id asc").Find(&wallets).Error
	return wallets, err
}

// 分页查询交易列表，status 为空时不过滤
func ListTransactions(db *gorm.DB, limit, offset int, status string) ([]models.Transaction, error) {
	var txs []models.Transaction
	q := db.Order("id desc").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&txs).Error
	return txs, err
}

// Store 是注入给 relayer 的持久化句柄（不依赖全局 DB，便于注入与测试替身）
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// PendingDeposits 检测子循环的扫描集：所有等待打款的交易
func (s *Store) PendingDeposits() ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.DB.Where("status = ?", models.StatusPendingDeposit).Find(&txs).Error
	return txs, err
}

// Advanceable 推进子循环的扫描集：活跃状态 + 还有重试额度的 FAILED。
// retry_count 已达上限的 FAILED 是事实终态，不再捞出来空转。
func (s *Store) Advanceable() ([]models.Transaction, error) {
	var txs []models.Transaction
	active := []string{
		models.StatusDepositReceived,
		models.StatusHop1Depositing,
		models.StatusHop1Delay,
		models.StatusHop2Depositing,
	}
	err := s.DB.
		Where("status IN ?", active).
		Or("status = ? AND retry_count < max_retries", models.StatusFailed).
		Find(&txs).Error
	return txs, err
}

// UpdateTransaction 带乐观锁的读-改-写提交，随行步骤在同一事务里追加。
// 条件更新 lock_version，未命中说明并发 poller 已先推进：整体回滚（不留下
// 孤儿步骤）并返回 ErrStaleTransaction。
func (s *Store) UpdateTransaction(tx *models.Transaction, steps ...*models.Step) error {
	err := s.DB.Transaction(func(db *gorm.DB) error {
		for _, step := range steps {
			if err := db.Create(step).Error; err != nil {
				return err
			}
		}
		updates := map[string]interface{}{
			"status":                  tx.Status,
			"retry_count":             tx.RetryCount,
			"error_message":           tx.ErrorMessage,
			"metadata":                tx.Metadata,
			"additional_data":         tx.AdditionalData,
			"deposit_tx_signature":    tx.DepositTxSignature,
			"hop1_tx_signature":       tx.Hop1TxSignature,
			"hop2_tx_signature":       tx.Hop2TxSignature,
			"withdrawal_tx_signature": tx.WithdrawalTxSignature,
			"completed_at":            tx.CompletedAt,
			"lock_version":            tx.LockVersion + 1,
		}
		res := db.Model(&models.Transaction{}).
			Where("id = ? AND lock_version = ?", tx.ID, tx.LockVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleTransaction
		}
		return nil
	})
	if err != nil {
		return err
	}
	tx.LockVersion++
	return nil
}

func (s *Store) CreateWallet(w *models.Wallet) error {
	return s.DB.Create(w).Error
}

// WalletByPurpose 按 (交易, 用途) 取钱包；一笔交易每种用途至多一个。
// 不存在时返回 (nil, nil)，调用方据此决定是否新建。
func (s *Store) WalletByPurpose(txID, purpose string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.DB.Where("transaction_id = ? AND purpose = ?", txID, purpose).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CompleteStep 把某笔交易中指定名字的步骤推进到新状态（步骤行只更新状态与详情，
// 不删除不改序；主要用于"等待存款"这类创建时先挂 PENDING 的步骤）
func (s *Store) CompleteStep(txID, stepName, status, details, txSignature string) error {
	updates := map[string]interface{}{"status": status}
	if details != "" {
		updates["details"] = details
	}
	if txSignature != "" {
		updates["tx_signature"] = txSignature
	}
	return s.DB.Model(&models.Step{}).
		Where("transaction_id = ? AND step_name = ?", txID, stepName).
		Updates(updates).Error
}
