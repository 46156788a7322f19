package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"SolMixer/internal/db"
	"SolMixer/internal/models"
	"SolMixer/internal/relayer"
	"SolMixer/internal/services"
	"SolMixer/utils"
)

var ErrDelayOutOfRange = errors.New("delay out of range")

// normalizeToken 空值回落到 SOL，其余原样大写
func normalizeToken(token string) string {
	if token == "" {
		return models.TokenSOL
	}
	return strings.ToUpper(token)
}

// resolveDelay 延迟分钟数校验：0 表示用最小值，越界报错
func resolveDelay(requested, min, max int) (int, error) {
	if requested == 0 {
		return min, nil
	}
	if requested < min || requested > max {
		return 0, ErrDelayOutOfRange
	}
	return requested, nil
}

// tokenFee 按资产读取配置里的十进制费额并换算为最小单位
func tokenFee(token, key string, decimals int) (uint64, error) {
	raw := viper.GetString("mixer." + strings.ToLower(token) + "." + key)
	if raw == "" {
		return 0, nil
	}
	return utils.ToBaseUnits(raw, decimals)
}

// CreateTransactionHandler 创建混币交易：
// 校验输入 -> 生成存款密钥对（私钥立即加密落库）-> 返回存款地址
func CreateTransactionHandler(c *gin.Context) {
	var req models.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	token := normalizeToken(req.TokenType)
	chain, err := services.ChainFor(token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的资产类型"})
		return
	}

	if err := chain.ValidateAddress(req.RecipientAddress); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "收款地址无效"})
		return
	}

	amount, err := utils.ToBaseUnits(req.Amount, chain.Decimals())
	if err != nil || amount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "金额无效"})
		return
	}
	maxAmount, _ := tokenFee(token, "max_amount", chain.Decimals())
	if maxAmount > 0 && amount > maxAmount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "金额超出单笔上限"})
		return
	}

	delay, err := resolveDelay(req.DelayMinutes,
		viper.GetInt("mixer.min_delay_minutes"), viper.GetInt("mixer.max_delay_minutes"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "延迟时间越界"})
		return
	}

	relayerFee, err := tokenFee(token, "relayer_fee", chain.Decimals())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "费率配置错误"})
		return
	}
	// 先除后乘：wei 级金额乘 bps 会溢出 uint64
	platformFee := amount / 10000 * uint64(viper.GetInt("mixer.platform_fee_bps"))

	if db.DB == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "数据库未初始化"})
		return
	}

	txID := uuid.NewString()
	gw, err := chain.NewWallet()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成存款地址失败"})
		return
	}
	encKey, err := services.DefaultVault.Encrypt(gw.PrivateKey, txID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "加密失败"})
		return
	}

	maxRetries := viper.GetInt("mixer.max_retries")
	if maxRetries == 0 {
		maxRetries = 3
	}
	tx := &models.Transaction{
		TxID:             txID,
		TokenType:        token,
		DepositAddress:   gw.Address,
		RecipientAddress: req.RecipientAddress,
		Amount:           amount,
		DelayMinutes:     delay,
		RelayerFee:       relayerFee,
		PlatformFee:      platformFee,
		Status:           models.StatusPendingDeposit,
		MaxRetries:       maxRetries,
	}
	if err := db.DB.Create(tx).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建交易失败"})
		return
	}
	if err := db.DB.Create(&models.Wallet{
		TransactionID:       txID,
		WalletAddress:       gw.Address,
		EncryptedPrivateKey: encKey,
		Purpose:             models.WalletPurposeDeposit,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建钱包失败"})
		return
	}
	// 初始步骤：等待存款（检测子循环到账后把它推进到 COMPLETED）
	if err := db.DB.Create(&models.Step{
		TransactionID: txID,
		StepName:      relayer.StepWaitingForDeposit,
		Status:        models.StepStatusPending,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建步骤失败"})
		return
	}

	c.JSON(http.StatusOK, models.CreateTransactionResponse{
		ID:             txID,
		DepositAddress: gw.Address,
		Status:         tx.Status,
		CreatedAt:      tx.CreatedAt,
	})
}

// GetTransactionHandler 查询单笔交易：完整记录 + 有序步骤 + 脱敏钱包
func GetTransactionHandler(c *gin.Context) {
	txID := c.Param("id")

	if db.DB == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "数据库未初始化"})
		return
	}

	tx, err := db.GetTransactionByTxID(db.DB, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "交易未找到"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	steps, err := db.GetStepsByTransactionID(db.DB, txID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询步骤失败"})
		return
	}
	wallets, err := db.GetWalletsByTransactionID(db.DB, txID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询钱包失败"})
		return
	}

	view := models.TransactionView{
		ID:                    tx.TxID,
		TokenType:             tx.TokenType,
		DepositAddress:        tx.DepositAddress,
		RecipientAddress:      tx.RecipientAddress,
		Amount:                tx.Amount,
		DelayMinutes:          tx.DelayMinutes,
		RelayerFee:            tx.RelayerFee,
		PlatformFee:           tx.PlatformFee,
		Status:                tx.Status,
		RetryCount:            tx.RetryCount,
		MaxRetries:            tx.MaxRetries,
		ErrorMessage:          tx.ErrorMessage,
		DepositTxSignature:    tx.DepositTxSignature,
		Hop1TxSignature:       tx.Hop1TxSignature,
		Hop2TxSignature:       tx.Hop2TxSignature,
		WithdrawalTxSignature: tx.WithdrawalTxSignature,
		CreatedAt:             tx.CreatedAt,
		UpdatedAt:             tx.UpdatedAt,
		CompletedAt:           tx.CompletedAt,
		Steps:                 make([]models.StepView, 0, len(steps)),
		Wallets:               make([]models.WalletView, 0, len(wallets)),
	}
	for _, s := range steps {
		view.Steps = append(view.Steps, models.StepView{
			StepName:    s.StepName,
			Status:      s.Status,
			Details:     s.Details,
			TxSignature: s.TxSignature,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	for _, w := range wallets {
		// 私钥材料（哪怕是密文）永不出现在响应里
		view.Wallets = append(view.Wallets, models.WalletView{
			WalletAddress: w.WalletAddress,
			Purpose:       w.Purpose,
			CreatedAt:     w.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, view)
}

// ListTransactionsHandler 分页列表（运维接口，LocalOnly 中间件把关）
func ListTransactionsHandler(c *gin.Context) {
	if db.DB == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "数据库未初始化"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	status := c.Query("status")

	txs, err := db.ListTransactions(db.DB, limit, offset, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	out := make([]models.TransactionSummary, 0, len(txs))
	for _, tx := range txs {
		out = append(out, models.TransactionSummary{
			ID:        tx.TxID,
			TokenType: tx.TokenType,
			Amount:    tx.Amount,
			Status:    tx.Status,
			CreatedAt: tx.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": out,
		"limit":        limit,
		"offset":       offset,
	})
}
