// 文件: pkg/fixedpoint/abdk.go
// ABDK 64.64 定点数

package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Fixed64x64 不可变的 64.64 定点数
// 零值表示 0, 内部 big.Int 构造后不再修改, 对外只返回副本
type Fixed64x64 struct {
	v *big.Int
}

// ONE64x64 1.0
var ONE64x64 = Fixed64x64{v: new(big.Int).Set(one64x64)}

// MAX64x64 int128 上限
var MAX64x64 = Fixed64x64{v: new(big.Int).Set(maxInt128)}

func (x Fixed64x64) raw() *big.Int {
	if x.v == nil {
		return zero
	}
	return x.v
}

// Fixed64x64FromBigInt 从原始整数构造 (raw = value * 2^64)
func Fixed64x64FromBigInt(v *big.Int) (Fixed64x64, error) {
	if v == nil {
		return Fixed64x64{}, nil
	}
	if !fits128(v) {
		return Fixed64x64{}, fmt.Errorf("%w: %s", ErrOverflow, v.String())
	}
	return Fixed64x64{v: new(big.Int).Set(v)}, nil
}

// Fixed64x64FromString 解析原始整数文本
func Fixed64x64FromString(s string) (Fixed64x64, error) {
	v, err := parseInteger(s)
	if err != nil {
		return Fixed64x64{}, err
	}
	return Fixed64x64FromBigInt(v)
}

// MustFixed64x64 测试和常量初始化用
func MustFixed64x64(x float64) Fixed64x64 {
	f, err := FloatToFixed64x64(x)
	if err != nil {
		panic(err)
	}
	return f
}

// FloatToFixed64x64 浮点 -> 64.64
//
// 整数部分 * 2^64 + 18 位小数部分 * 2^64 / 10^18 (截断), 再恢复符号
func FloatToFixed64x64(x float64) (Fixed64x64, error) {
	neg, intPart, fracPart, err := splitFloat(x)
	if err != nil {
		return Fixed64x64{}, err
	}

	v := new(big.Int).Mul(intPart, one64x64)
	v.Add(v, quoTrunc(fracPart, one64x64, oneDec18))
	if neg {
		v.Neg(v)
	}

	if !fits128(v) {
		return Fixed64x64{}, fmt.Errorf("%w: %w: %v", ErrEncoding, ErrOverflow, x)
	}
	return Fixed64x64{v: v}, nil
}

// Fixed64x64ToFloat 64.64 -> 浮点
func Fixed64x64ToFloat(x Fixed64x64) float64 {
	abs := new(big.Int).Abs(x.raw())

	// 整数部分 + 截断到 18 位的小数部分, 组成 value * 10^18
	intPart := new(big.Int).Quo(abs, one64x64)
	rem := new(big.Int).Sub(abs, new(big.Int).Mul(intPart, one64x64))
	fracPart := quoTrunc(rem, oneDec18, one64x64)

	scaled := new(big.Int).Mul(intPart, oneDec18)
	scaled.Add(scaled, fracPart)

	f := decimal.NewFromBigInt(scaled, -decimals).InexactFloat64()
	if x.raw().Sign() < 0 {
		return -f
	}
	return f
}

// Mul64x64 (a*b) >> 64, 向零截断
//
// 不检查 int128 区间 (Add / Sub 同), 结果需要上链时用 Checked 校验。
// Div64x64 后再乘回除数, 与原值相差不超过 max(1, |b|) 个最小单位。
func Mul64x64(a, b Fixed64x64) Fixed64x64 {
	return Fixed64x64{v: quoTrunc(a.raw(), b.raw(), one64x64)}
}

// Div64x64 (a << 64) / b, 结果超出 int128 返回 ErrOverflow
func Div64x64(a, b Fixed64x64) (Fixed64x64, error) {
	if b.raw().Sign() == 0 {
		return Fixed64x64{}, ErrDivisionByZero
	}
	q := quoTrunc(a.raw(), one64x64, b.raw())
	if !fits128(q) {
		return Fixed64x64{}, fmt.Errorf("%w: %s / %s", ErrOverflow, a, b)
	}
	return Fixed64x64{v: q}, nil
}

// Checked 超出 int128 区间返回 ErrOverflow, 否则原样返回
func (x Fixed64x64) Checked() (Fixed64x64, error) {
	if !fits128(x.raw()) {
		return Fixed64x64{}, fmt.Errorf("%w: %s", ErrOverflow, x)
	}
	return x, nil
}

// Fixed64x64ToDec18 格式转换, 截断
func Fixed64x64ToDec18(x Fixed64x64) Dec18 {
	return Dec18{v: quoTrunc(x.raw(), oneDec18, one64x64)}
}

// =============================================================================
// 基础运算
// =============================================================================

func (x Fixed64x64) Add(y Fixed64x64) Fixed64x64 {
	return Fixed64x64{v: new(big.Int).Add(x.raw(), y.raw())}
}

func (x Fixed64x64) Sub(y Fixed64x64) Fixed64x64 {
	return Fixed64x64{v: new(big.Int).Sub(x.raw(), y.raw())}
}

func (x Fixed64x64) Neg() Fixed64x64 {
	return Fixed64x64{v: new(big.Int).Neg(x.raw())}
}

func (x Fixed64x64) Abs() Fixed64x64 {
	return Fixed64x64{v: new(big.Int).Abs(x.raw())}
}

func (x Fixed64x64) Sign() int           { return x.raw().Sign() }
func (x Fixed64x64) IsZero() bool        { return x.raw().Sign() == 0 }
func (x Fixed64x64) Cmp(y Fixed64x64) int { return x.raw().Cmp(y.raw()) }

// BigInt 返回原始整数副本
func (x Fixed64x64) BigInt() *big.Int { return new(big.Int).Set(x.raw()) }

// Float 等价于 Fixed64x64ToFloat
func (x Fixed64x64) Float() float64 { return Fixed64x64ToFloat(x) }

// String 原始整数的十进制文本
func (x Fixed64x64) String() string { return x.raw().String() }

// MarshalText 以原始整数文本序列化, JSON 中为字符串
func (x Fixed64x64) MarshalText() ([]byte, error) {
	return []byte(x.raw().String()), nil
}

func (x *Fixed64x64) UnmarshalText(b []byte) error {
	v, err := Fixed64x64FromString(string(b))
	if err != nil {
		return err
	}
	*x = v
	return nil
}
