// Package fastparse 提供交易所消息中数值字段的解析函数。
// 价格与数量解析为十进制定点数，时间戳按字符串精确解析，避免浮点误差。
package fastparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrEmpty 空字符串
var ErrEmpty = errors.New("fastparse: 空字符串")

// ParseDecimal 解析十进制数字符串，如 "5541.30000"
// 空串与非法输入返回错误。
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, ErrEmpty
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析十进制数 %q 失败: %w", s, err)
	}
	return d, nil
}

// ParseUnixSeconds 解析 "秒.小数" 形式的 Unix 时间戳为纳秒
// 例如 "1534614057.321597" -> 1534614057321597000；小数部分超过 9 位时截断。
func ParseUnixSeconds(s string) (int64, error) {
	if s == "" {
		return 0, ErrEmpty
	}
	secPart, fracPart, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析时间戳 %q 失败: %w", s, err)
	}
	if sec < 0 {
		return 0, fmt.Errorf("时间戳 %q 不能为负", s)
	}

	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil || frac < 0 {
			return 0, fmt.Errorf("解析时间戳 %q 小数部分失败", s)
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nanos = frac
	}
	return sec*1_000_000_000 + nanos, nil
}

// ParseChecksum 解析无符号 32 位校验和字符串，如 "974947235"
func ParseChecksum(s string) (uint32, error) {
	if s == "" {
		return 0, ErrEmpty
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("解析校验和 %q 失败: %w", s, err)
	}
	return uint32(v), nil
}
