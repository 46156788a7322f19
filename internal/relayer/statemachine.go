package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"SolMixer/internal/models"
	"SolMixer/internal/services"
	"SolMixer/utils"
)

// 步骤名（UI 按这些名字渲染进度）
const (
	StepWaitingForDeposit = "Waiting for deposit"
	StepHop1DepositSent   = "Hop 1 deposit sent"
	StepHop1SwapCompleted = "Hop 1 swap completed"
	StepHop2DepositSent   = "Hop 2 deposit sent"
	StepDelivered         = "Delivered to recipient"
	StepProcessingFailed  = "Processing failed"
	StepRetryScheduled    = "Retry scheduled"
)

var (
	ErrInsufficientDeposit = errors.New("deposit balance cannot cover fees")
	ErrWalletMissing       = errors.New("wallet record missing")
	ErrSwapRejected        = errors.New("swap failed or refunded")
)

// Store 引擎需要的持久化操作；由 internal/db 实现，测试注入内存替身
type Store interface {
	PendingDeposits() ([]models.Transaction, error)
	Advanceable() ([]models.Transaction, error)
	// UpdateTransaction 带乐观锁提交状态变更，随行步骤在同一事务里追加；
	// 锁未命中时整体回滚，不留下孤儿步骤
	UpdateTransaction(tx *models.Transaction, steps ...*models.Step) error
	CompleteStep(txID, stepName, status, details, txSignature string) error
	CreateWallet(w *models.Wallet) error
	WalletByPurpose(txID, purpose string) (*models.Wallet, error)
}

// Bridge 跨链兑换聚合器的操作面；由 services.BridgeClient 实现
type Bridge interface {
	RequestQuote(ctx context.Context, req services.QuoteRequest) (*services.Quote, error)
	NotifyDeposit(ctx context.Context, depositAddress, txHash string) error
	PollStatus(ctx context.Context, depositAddress, depositMemo string) (*services.SwapStatus, error)
	IntermediateBalance(ctx context.Context, address string) (uint64, error)
	TransferIntermediate(ctx context.Context, privateKey []byte, from, to string, amount uint64) (string, error)
}

// Vault 托管密钥保险库；由 services.Vault 实现
type Vault interface {
	Encrypt(keyBytes []byte, txID string) (string, error)
	Decrypt(blob string, txID string) ([]byte, error)
}

// Config 引擎参数（创建时的费率在 handler 层算好写进交易行，这里不再出现）
type Config struct {
	MinDeposit           map[string]uint64 // token -> 最小入金阈值（最小单位）
	IntermediateAsset    string            // 中间资产符号，例如 "ZEC"
	SlippageBps          int
	QuoteDeadlineMinutes int
	TxTimeout            time.Duration // 单笔交易一次推进的时间上限
}

// Engine 状态机引擎：把一笔交易向前推进恰好一步
type Engine struct {
	store  Store
	chains map[string]services.ChainAdapter
	bridge Bridge
	vault  Vault
	cfg    Config
	log    *utils.Logger
}

func NewEngine(store Store, chains map[string]services.ChainAdapter, bridge Bridge, vault Vault, cfg Config) *Engine {
	if cfg.IntermediateAsset == "" {
		cfg.IntermediateAsset = "ZEC"
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 90 * time.Second
	}
	return &Engine{
		store:  store,
		chains: chains,
		bridge: bridge,
		vault:  vault,
		cfg:    cfg,
		log:    utils.DefaultLogger,
	}
}

func (e *Engine) chainFor(token string) (services.ChainAdapter, error) {
	c, ok := e.chains[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrUnsupportedToken, token)
	}
	return c, nil
}

// DetectDeposits 检测子循环：扫描所有 PENDING_DEPOSIT 的存款地址余额，
// 达到阈值的触发 DEPOSIT_RECEIVED 转移。每个周期在推进子循环之前跑一遍。
func (e *Engine) DetectDeposits(ctx context.Context) {
	txs, err := e.store.PendingDeposits()
	if err != nil {
		e.log.Error("扫描待存款交易失败: %v", err)
		return
	}
	for i := range txs {
		if ctx.Err() != nil {
			return
		}
		tx := &txs[i]
		if err := e.detectOne(tx); err != nil {
			e.log.Warn("交易 %s 存款检测失败: %v", tx.TxID, err)
		}
	}
}

func (e *Engine) detectOne(tx *models.Transaction) error {
	// 操作上下文不挂在轮询上下文下面：停机取消只阻止新交易开始，
	// 在途的外部调用走完或到 TxTimeout 为止
	opCtx, cancel := context.WithTimeout(context.Background(), e.cfg.TxTimeout)
	defer cancel()

	chain, err := e.chainFor(tx.TokenType)
	if err != nil {
		return err
	}
	bal, err := chain.GetBalance(opCtx, tx.DepositAddress)
	if err != nil {
		return err
	}
	if bal < e.cfg.MinDeposit[tx.TokenType] {
		return nil // 还没到账或不够，下个周期再看
	}

	// 审计字段：存款腿的链上签名（查不到不阻塞）
	sig, err := chain.LatestIncomingSignature(opCtx, tx.DepositAddress)
	if err != nil {
		e.log.Warn("交易 %s 查询存款签名失败: %v", tx.TxID, err)
		sig = ""
	}

	// 先落步骤，再改状态
	if err := e.store.CompleteStep(tx.TxID, StepWaitingForDeposit, models.StepStatusCompleted,
		detailsJSON(map[string]interface{}{"balance": bal}), sig); err != nil {
		return err
	}
	tx.DepositTxSignature = sig
	tx.Status = models.StatusDepositReceived
	if err := e.store.UpdateTransaction(tx); err != nil {
		return err
	}
	e.log.Info("交易 %s 检测到存款 %s %s，进入 %s",
		tx.TxID, utils.FromBaseUnits(bal, chain.Decimals()), tx.TokenType, tx.Status)
	return nil
}

// AdvanceAll 推进子循环：把每笔活跃（或可重试失败）的交易推进恰好一步。
// 单笔交易的异常绝不中断整批处理。
func (e *Engine) AdvanceAll(ctx context.Context) {
	txs, err := e.store.Advanceable()
	if err != nil {
		e.log.Error("扫描可推进交易失败: %v", err)
		return
	}
	for i := range txs {
		if ctx.Err() != nil {
			return
		}
		e.safeAdvance(&txs[i])
	}
}

func (e *Engine) safeAdvance(tx *models.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("交易 %s 推进时 panic: %v", tx.TxID, r)
		}
	}()
	// 同 detectOne：操作上下文独立于轮询上下文，只受 TxTimeout 约束
	opCtx, cancel := context.WithTimeout(context.Background(), e.cfg.TxTimeout)
	defer cancel()

	if err := e.Advance(opCtx, tx); err != nil {
		e.log.Warn("交易 %s 推进失败 (状态 %s, 第 %d/%d 次): %v",
			tx.TxID, tx.Status, tx.RetryCount, tx.MaxRetries, err)
	}
}

// Advance 按当前状态执行一次转移。步骤失败时记录 FAILED 步骤、计一次重试并
// 降级到 FAILED，错误继续上抛给外层轮询（外层只打日志，不崩进程）。
func (e *Engine) Advance(ctx context.Context, tx *models.Transaction) error {
	var err error
	switch tx.Status {
	case models.StatusDepositReceived:
		err = e.handleDepositReceived(ctx, tx)
	case models.StatusHop1Depositing:
		err = e.handleHop1Depositing(ctx, tx)
	case models.StatusHop1Delay:
		err = e.handleHop1Delay(ctx, tx)
	case models.StatusHop2Depositing:
		err = e.handleHop2Depositing(ctx, tx)
	case models.StatusFailed:
		return e.handleFailed(tx)
	default:
		return nil // 终态或检测子循环负责的状态
	}
	if err != nil {
		// 调用方取消（停机）不是这笔交易的失败：不记步骤不计数，
		// 重启后从当前状态继续
		if errors.Is(err, context.Canceled) {
			return err
		}
		e.demote(tx, err)
	}
	return err
}

// demote 步骤失败的统一出口：FAILED 步骤 + 错误信息 + 重试计数 + 降级。
// retryCount 在进入 FAILED 的瞬间递增；重试边只检查上限。
func (e *Engine) demote(tx *models.Transaction, cause error) {
	step := &models.Step{
		TransactionID: tx.TxID,
		StepName:      StepProcessingFailed,
		Status:        models.StepStatusFailed,
		Details: detailsJSON(map[string]interface{}{
			"state": tx.Status,
			"error": cause.Error(),
		}),
	}
	tx.ErrorMessage = truncate(cause.Error(), 512)
	tx.RetryCount++
	tx.Status = models.StatusFailed
	if err := e.store.UpdateTransaction(tx, step); err != nil {
		e.log.Error("交易 %s 写入失败状态出错: %v", tx.TxID, err)
	}
}

// handleDepositReceived 第一跳：询价 -> 把可混金额转到第一跳存款地址 -> 通知聚合器
func (e *Engine) handleDepositReceived(ctx context.Context, tx *models.Transaction) error {
	chain, err := e.chainFor(tx.TokenType)
	if err != nil {
		return err
	}

	bal, err := chain.GetBalance(ctx, tx.DepositAddress)
	if err != nil {
		return err
	}
	fees := tx.RelayerFee + tx.PlatformFee
	if bal <= fees {
		return fmt.Errorf("%w: balance %d, fees %d", ErrInsufficientDeposit, bal, fees)
	}
	mixable := bal - fees

	// 中间资产地址；重试时复用之前生成的
	iw, err := e.store.WalletByPurpose(tx.TxID, models.WalletPurposeIntermediate)
	if err != nil {
		return err
	}
	if iw == nil {
		gw, err := services.NewIntermediateWallet()
		if err != nil {
			return err
		}
		enc, err := e.vault.Encrypt(gw.PrivateKey, tx.TxID)
		if err != nil {
			return err
		}
		iw = &models.Wallet{
			TransactionID:       tx.TxID,
			WalletAddress:       gw.Address,
			EncryptedPrivateKey: enc,
			Purpose:             models.WalletPurposeIntermediate,
		}
		if err := e.store.CreateWallet(iw); err != nil {
			return err
		}
	}

	quote, err := e.bridge.RequestQuote(ctx, services.QuoteRequest{
		SourceAsset:      tx.TokenType,
		DestinationAsset: e.cfg.IntermediateAsset,
		Amount:           mixable,
		RefundAddress:    tx.DepositAddress,
		RecipientAddress: iw.WalletAddress,
		DeadlineMinutes:  e.cfg.QuoteDeadlineMinutes,
		SlippageBps:      e.cfg.SlippageBps,
	})
	if err != nil {
		return err
	}

	dw, err := e.store.WalletByPurpose(tx.TxID, models.WalletPurposeDeposit)
	if err != nil {
		return err
	}
	if dw == nil {
		return fmt.Errorf("%w: deposit wallet for %s", ErrWalletMissing, tx.TxID)
	}
	key, err := e.vault.Decrypt(dw.EncryptedPrivateKey, tx.TxID)
	if err != nil {
		return err
	}

	sig, err := chain.Transfer(ctx, key, quote.DepositAddress, mixable)
	if err != nil {
		return err
	}
	tx.Hop1TxSignature = sig

	// best-effort：聚合器自己也会扫到这笔存款，失败只打日志
	if err := e.bridge.NotifyDeposit(ctx, quote.DepositAddress, sig); err != nil {
		e.log.Warn("交易 %s 存款通知失败（不影响流程）: %v", tx.TxID, err)
	}

	plan := &HopPlan{
		Hop:                1,
		Hop1DepositAddress: quote.DepositAddress,
		Hop1DepositMemo:    quote.DepositMemo,
		Hop1AmountIn:       mixable,
		Hop1ExpectedOut:    quote.AmountOut,
		Hop1QuoteDeadline:  quote.Deadline,
	}
	if err := plan.Store(tx); err != nil {
		return err
	}

	step := &models.Step{
		TransactionID: tx.TxID,
		StepName:      StepHop1DepositSent,
		Status:        models.StepStatusCompleted,
		TxSignature:   sig,
		Details: detailsJSON(map[string]interface{}{
			"depositAddress": quote.DepositAddress,
			"amountIn":       mixable,
			"expectedOut":    quote.AmountOut,
		}),
	}
	tx.Status = models.StatusHop1Depositing
	return e.store.UpdateTransaction(tx, step)
}

// handleHop1Depositing 轮询第一跳兑换结果。pending 时不写任何东西（幂等）。
func (e *Engine) handleHop1Depositing(ctx context.Context, tx *models.Transaction) error {
	plan, err := LoadPlan(tx)
	if err != nil {
		return err
	}

	st, err := e.bridge.PollStatus(ctx, plan.Hop1DepositAddress, plan.Hop1DepositMemo)
	if err != nil {
		return err
	}
	switch st.Status {
	case services.SwapStatusSuccess:
		// 往下走
	case services.SwapStatusFailed, services.SwapStatusRefunded:
		return fmt.Errorf("%w: hop 1 status %s", ErrSwapRejected, st.Status)
	default:
		return nil // 还在路上，下个周期再问
	}

	plan.Hop1ActualOut = st.AmountOut
	if err := plan.Store(tx); err != nil {
		return err
	}
	sched := &Schedule{ResumeAt: time.Now().Add(time.Duration(tx.DelayMinutes) * time.Minute)}
	if err := sched.Store(tx); err != nil {
		return err
	}

	step := &models.Step{
		TransactionID: tx.TxID,
		StepName:      StepHop1SwapCompleted,
		Status:        models.StepStatusCompleted,
		Details: detailsJSON(map[string]interface{}{
			"actualOut": st.AmountOut,
			"resumeAt":  sched.ResumeAt,
		}),
	}
	tx.Status = models.StatusHop1Delay
	return e.store.UpdateTransaction(tx, step)
}

// handleHop1Delay 延迟期满后发起第二跳：
// 询价（收款人 = 最终收款地址）-> 把中间资产余额转到第二跳存款地址
func (e *Engine) handleHop1Delay(ctx context.Context, tx *models.Transaction) error {
	sched, err := LoadSchedule(tx)
	if err != nil {
		return err
	}
	if time.Now().Before(sched.ResumeAt) {
		return nil // 延迟没到，什么都不写
	}

	plan, err := LoadPlan(tx)
	if err != nil {
		return err
	}
	iw, err := e.store.WalletByPurpose(tx.TxID, models.WalletPurposeIntermediate)
	if err != nil {
		return err
	}
	if iw == nil {
		return fmt.Errorf("%w: intermediate wallet for %s", ErrWalletMissing, tx.TxID)
	}

	// 用实际余额而不是报价值：兑换有滑点
	amount, err := e.bridge.IntermediateBalance(ctx, iw.WalletAddress)
	if err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("intermediate balance is zero at %s", iw.WalletAddress)
	}

	quote, err := e.bridge.RequestQuote(ctx, services.QuoteRequest{
		SourceAsset:      e.cfg.IntermediateAsset,
		DestinationAsset: tx.TokenType,
		Amount:           amount,
		RefundAddress:    iw.WalletAddress,
		RecipientAddress: tx.RecipientAddress,
		DeadlineMinutes:  e.cfg.QuoteDeadlineMinutes,
		SlippageBps:      e.cfg.SlippageBps,
	})
	if err != nil {
		return err
	}

	key, err := e.vault.Decrypt(iw.EncryptedPrivateKey, tx.TxID)
	if err != nil {
		return err
	}
	hash, err := e.bridge.TransferIntermediate(ctx, key, iw.WalletAddress, quote.DepositAddress, amount)
	if err != nil {
		return err
	}
	tx.Hop2TxSignature = hash

	if err := e.bridge.NotifyDeposit(ctx, quote.DepositAddress, hash); err != nil {
		e.log.Warn("交易 %s 第二跳存款通知失败（不影响流程）: %v", tx.TxID, err)
	}

	plan.Hop = 2
	plan.Hop2DepositAddress = quote.DepositAddress
	plan.Hop2DepositMemo = quote.DepositMemo
	plan.Hop2AmountIn = amount
	plan.Hop2ExpectedOut = quote.AmountOut
	if err := plan.Store(tx); err != nil {
		return err
	}

	step := &models.Step{
		TransactionID: tx.TxID,
		StepName:      StepHop2DepositSent,
		Status:        models.StepStatusCompleted,
		TxSignature:   hash,
		Details: detailsJSON(map[string]interface{}{
			"depositAddress": quote.DepositAddress,
			"amountIn":       amount,
			"expectedOut":    quote.AmountOut,
		}),
	}
	tx.Status = models.StatusHop2Depositing
	return e.store.UpdateTransaction(tx, step)
}

// handleHop2Depositing 轮询第二跳；成功即整笔完成
func (e *Engine) handleHop2Depositing(ctx context.Context, tx *models.Transaction) error {
	plan, err := LoadPlan(tx)
	if err != nil {
		return err
	}
	if plan.Hop != 2 || plan.Hop2DepositAddress == "" {
		return ErrBadPlan
	}

	st, err := e.bridge.PollStatus(ctx, plan.Hop2DepositAddress, plan.Hop2DepositMemo)
	if err != nil {
		return err
	}
	switch st.Status {
	case services.SwapStatusSuccess:
		// 往下走
	case services.SwapStatusFailed, services.SwapStatusRefunded:
		return fmt.Errorf("%w: hop 2 status %s", ErrSwapRejected, st.Status)
	default:
		return nil
	}

	tx.WithdrawalTxSignature = st.DestinationTxHash
	step := &models.Step{
		TransactionID: tx.TxID,
		StepName:      StepDelivered,
		Status:        models.StepStatusCompleted,
		TxSignature:   st.DestinationTxHash,
		Details: detailsJSON(map[string]interface{}{
			"amountOut": st.AmountOut,
			"recipient": tx.RecipientAddress,
		}),
	}
	tx.Status = models.StatusCompleted
	now := time.Now()
	tx.CompletedAt = &now
	if err := e.store.UpdateTransaction(tx, step); err != nil {
		return err
	}
	e.log.Info("交易 %s 完成，送达 %s", tx.TxID, tx.RecipientAddress)
	return nil
}

// handleFailed 重试策略：还有额度就清掉错误、从头（DEPOSIT_RECEIVED）重来；
// 额度用尽即永久失败，等人工介入，不再做任何动作。
// 注意：重试不回滚已发生的链上状态，只是重新走一遍兑换序列。
func (e *Engine) handleFailed(tx *models.Transaction) error {
	if tx.RetryCount >= tx.MaxRetries {
		return nil
	}
	step := &models.Step{
		TransactionID: tx.TxID,
		StepName:      StepRetryScheduled,
		Status:        models.StepStatusCompleted,
		Details: detailsJSON(map[string]interface{}{
			"retryCount": tx.RetryCount,
			"maxRetries": tx.MaxRetries,
		}),
	}
	tx.ErrorMessage = ""
	tx.Status = models.StatusDepositReceived
	if err := e.store.UpdateTransaction(tx, step); err != nil {
		return err
	}
	e.log.Info("交易 %s 开始第 %d/%d 次重试", tx.TxID, tx.RetryCount, tx.MaxRetries)
	return nil
}

func detailsJSON(m map[string]interface{}) string {
	buf, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(buf)
}

// truncate 截断到 n 字节以内，不切开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
