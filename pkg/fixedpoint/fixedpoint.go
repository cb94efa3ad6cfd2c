// 文件: pkg/fixedpoint/fixedpoint.go
// 定点数编解码 - 与链上合约保持逐位一致
//
// 【两种格式】
// - Fixed64x64: 有符号 128 位整数, 数值 = raw / 2^64 (ABDK 64.64)
// - Dec18:      有符号整数, 数值 = raw / 10^18
//
// 【规则】
// - 浮点 -> 定点: 先格式化成 18 位小数的十进制字符串, 再拆整数/小数部分
// - 定点 -> 浮点: 拆整数/小数部分, 拼成 18 位小数字符串后解析
// - 乘除一律截断取整 (向零), 与合约的整数运算一致

package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrEncoding       = errors.New("fixedpoint: value cannot be encoded")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrOverflow       = errors.New("fixedpoint: value outside signed 128-bit range")
)

// =============================================================================
// 常量
// =============================================================================

const decimals = 18

var (
	// 2^64
	one64x64 = new(big.Int).Lsh(big.NewInt(1), 64)
	// 10^18
	oneDec18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)

	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	zero = new(big.Int)
)

// fits128 判断是否落在 int128 区间
func fits128(v *big.Int) bool {
	return v.Cmp(maxInt128) <= 0 && v.Cmp(minInt128) >= 0
}

// splitFloat 把 |x| 格式化成 "整数.18位小数" 并拆成两个大整数
//
// 与 toFixed(18) 的行为一致: 小数位超出 float64 精度的部分保留格式化结果原样
func splitFloat(x float64) (neg bool, intPart, fracPart *big.Int, err error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return false, nil, nil, fmt.Errorf("%w: %v", ErrEncoding, x)
	}

	neg = x < 0
	s := strconv.FormatFloat(math.Abs(x), 'f', decimals, 64)

	parts := strings.SplitN(s, ".", 2)
	intPart, ok := new(big.Int).SetString(parts[0], 10)
	if !ok {
		return false, nil, nil, fmt.Errorf("%w: %q", ErrEncoding, s)
	}

	fracPart = new(big.Int)
	if len(parts) == 2 {
		if _, ok := fracPart.SetString(parts[1], 10); !ok {
			return false, nil, nil, fmt.Errorf("%w: %q", ErrEncoding, s)
		}
	}
	return neg, intPart, fracPart, nil
}

// parseInteger 解析线上传输的整数文本 (十进制, 或 0x 开头的十六进制)
func parseInteger(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}

	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("%w: invalid integer %q", ErrEncoding, s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// quoTrunc a*b/d, 向零截断
func quoTrunc(a, b, d *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, d)
}
