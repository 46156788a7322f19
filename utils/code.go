package utils

import (
	"errors"
	"math/big"
	"strings"
)

// 各资产的最小单位精度
const (
	DecimalsSOL = 9  // lamports
	DecimalsZEC = 8  // zatoshi
	DecimalsBNB = 18 // wei
)

var ErrBadDecimalAmount = errors.New("bad decimal amount")

// ToBaseUnits 把用户输入的十进制金额（例如 "0.1"）一次性换算为最小单位整数。
// 只在请求构造时调用一次；全程定点运算，不走浮点。
func ToBaseUnits(amount string, decimals int) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") {
		return 0, ErrBadDecimalAmount
	}

	intPart := amount
	fracPart := ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		intPart = amount[:i]
		fracPart = amount[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > decimals {
		return 0, ErrBadDecimalAmount // 精度超出资产最小单位
	}
	// 右补零到 decimals 位
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	n, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok || n.Sign() < 0 {
		return 0, ErrBadDecimalAmount
	}
	if !n.IsUint64() {
		return 0, ErrBadDecimalAmount
	}
	return n.Uint64(), nil
}

// FromBaseUnits 最小单位整数转十进制字符串（仅用于日志与步骤详情展示）
func FromBaseUnits(amount uint64, decimals int) string {
	s := new(big.Int).SetUint64(amount).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	cut := len(s) - decimals
	out := s[:cut] + "." + s[cut:]
	out = strings.TrimRight(out, "0")
	out = strings.TrimSuffix(out, ".")
	return out
}
