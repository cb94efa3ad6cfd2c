package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Dec18 不可变的 18 位十进制定点数, raw = value * 10^18
type Dec18 struct {
	v *big.Int
}

// ONEDec18 1.0
var ONEDec18 = Dec18{v: new(big.Int).Set(oneDec18)}

func (x Dec18) raw() *big.Int {
	if x.v == nil {
		return zero
	}
	return x.v
}

func Dec18FromBigInt(v *big.Int) Dec18 {
	if v == nil {
		return Dec18{}
	}
	return Dec18{v: new(big.Int).Set(v)}
}

func Dec18FromString(s string) (Dec18, error) {
	v, err := parseInteger(s)
	if err != nil {
		return Dec18{}, err
	}
	return Dec18{v: v}, nil
}

// FloatToDec18 浮点 -> Dec18
// 18 位小数字符串去掉小数点即为原始整数
func FloatToDec18(x float64) (Dec18, error) {
	neg, intPart, fracPart, err := splitFloat(x)
	if err != nil {
		return Dec18{}, err
	}

	v := new(big.Int).Mul(intPart, oneDec18)
	v.Add(v, fracPart)
	if neg {
		v.Neg(v)
	}
	return Dec18{v: v}, nil
}

// Dec18ToFloat Dec18 -> 浮点
func Dec18ToFloat(x Dec18) float64 {
	return decimal.NewFromBigInt(x.raw(), -decimals).InexactFloat64()
}

// MulDec18 a*b/10^18, 向零截断
func MulDec18(a, b Dec18) Dec18 {
	return Dec18{v: quoTrunc(a.raw(), b.raw(), oneDec18)}
}

// DivDec18 a*10^18/b
func DivDec18(a, b Dec18) (Dec18, error) {
	if b.raw().Sign() == 0 {
		return Dec18{}, ErrDivisionByZero
	}
	return Dec18{v: quoTrunc(a.raw(), oneDec18, b.raw())}, nil
}

// Dec18ToFixed64x64 格式转换, 截断
func Dec18ToFixed64x64(x Dec18) (Fixed64x64, error) {
	return Fixed64x64FromBigInt(quoTrunc(x.raw(), one64x64, oneDec18))
}

func (x Dec18) Add(y Dec18) Dec18 { return Dec18{v: new(big.Int).Add(x.raw(), y.raw())} }
func (x Dec18) Sub(y Dec18) Dec18 { return Dec18{v: new(big.Int).Sub(x.raw(), y.raw())} }
func (x Dec18) Sign() int         { return x.raw().Sign() }
func (x Dec18) IsZero() bool      { return x.raw().Sign() == 0 }
func (x Dec18) Cmp(y Dec18) int   { return x.raw().Cmp(y.raw()) }
func (x Dec18) BigInt() *big.Int  { return new(big.Int).Set(x.raw()) }
func (x Dec18) Float() float64    { return Dec18ToFloat(x) }
func (x Dec18) String() string    { return x.raw().String() }

// Decimal 精确的十进制表示, 不经过 float64
func (x Dec18) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(x.raw(), -decimals)
}

func (x Dec18) MarshalText() ([]byte, error) {
	return []byte(x.raw().String()), nil
}

func (x *Dec18) UnmarshalText(b []byte) error {
	v, err := Dec18FromString(string(b))
	if err != nil {
		return err
	}
	*x = v
	return nil
}
