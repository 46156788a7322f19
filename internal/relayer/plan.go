package relayer

import (
	"encoding/json"
	"errors"
	"time"

	"SolMixer/internal/models"
)

var ErrBadPlan = errors.New("bad hop plan in metadata")

// HopPlan 兑换计划，在轮询迭代之间通过 Metadata 列携带。
// 列本身是自由格式 JSON，但引擎只通过这里的类型化结构读写，读写时校验。
// 金额一律是最小单位整数：第一跳进原生资产出中间资产，第二跳相反；
// ExpectedOut 来自报价，ActualOut 是兑换后的实际到账。
type HopPlan struct {
	Hop int `json:"hop"` // 当前所处的跳数：1 或 2

	Hop1DepositAddress string    `json:"hop1DepositAddress"`
	Hop1DepositMemo    string    `json:"hop1DepositMemo,omitempty"`
	Hop1AmountIn       uint64    `json:"hop1AmountIn"`
	Hop1ExpectedOut    uint64    `json:"hop1ExpectedOut"`
	Hop1ActualOut      uint64    `json:"hop1ActualOut"`
	Hop1QuoteDeadline  time.Time `json:"hop1QuoteDeadline"`

	Hop2DepositAddress string `json:"hop2DepositAddress,omitempty"`
	Hop2DepositMemo    string `json:"hop2DepositMemo,omitempty"`
	Hop2AmountIn       uint64 `json:"hop2AmountIn,omitempty"`
	Hop2ExpectedOut    uint64 `json:"hop2ExpectedOut,omitempty"`
}

// LoadPlan 从交易行读出计划并校验
func LoadPlan(tx *models.Transaction) (*HopPlan, error) {
	if tx.Metadata == "" {
		return nil, ErrBadPlan
	}
	var p HopPlan
	if err := json.Unmarshal([]byte(tx.Metadata), &p); err != nil {
		return nil, ErrBadPlan
	}
	if p.Hop < 1 || p.Hop > 2 || p.Hop1DepositAddress == "" {
		return nil, ErrBadPlan
	}
	return &p, nil
}

// Store 把计划写回交易行（尚未持久化，随下一次 UpdateTransaction 落库）
func (p *HopPlan) Store(tx *models.Transaction) error {
	buf, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tx.Metadata = string(buf)
	return nil
}

// Schedule 步骤调度时间戳，通过 AdditionalData 列携带
type Schedule struct {
	// ResumeAt 第二跳最早可以开始的时间（第一跳完成时间 + 用户选择的延迟）
	ResumeAt time.Time `json:"resumeAt"`
}

func LoadSchedule(tx *models.Transaction) (*Schedule, error) {
	if tx.AdditionalData == "" {
		return nil, errors.New("no schedule in additional data")
	}
	var s Schedule
	if err := json.Unmarshal([]byte(tx.AdditionalData), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schedule) Store(tx *models.Transaction) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tx.AdditionalData = string(buf)
	return nil
}
