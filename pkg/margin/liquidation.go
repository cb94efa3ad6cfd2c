// 文件: pkg/margin/liquidation.go
// 强平价格 / 保证金余额 / 杠杆的闭式解
//
// 记号:
//   pos  持仓 (+多, -空, base 币)
//   L    锁定价值 (quote 币) = pos * 开仓均价
//   cash 可用现金 (保证金币)
//   mr   维持保证金率
//   S3   保证金币 -> quote 换算价格
//   Sm   标记价格
//
// 强平条件: mr = (Sm * pos - L + cash * S3) / (Sm * |pos|)
// 所有函数值传递, 不分配内存

package margin

import "math"

// LiquidationPriceQuote 保证金 = quote
//
// Sm * (mr*|pos| - pos) = cash - L
func LiquidationPriceQuote(lockedIn, pos, cash, mr float64) float64 {
	numerator := cash - lockedIn
	denominator := mr*math.Abs(pos) - pos
	return numerator / denominator
}

// LiquidationPriceBase 保证金 = base, 此时 S3 = Sm
//
// Sm * (pos + cash - mr*|pos|) = L
func LiquidationPriceBase(lockedIn, pos, cash, mr float64) float64 {
	return lockedIn / (pos - mr*math.Abs(pos) + cash)
}

// LiquidationPriceQuanto 保证金为第三种币
//
// 近似解: 假设标记价格等于现货且 S3 与 Sm 同向变动
//   S3 = S3(0) * (1 + sign(pos) * (Sm/Sm(0) - 1))
// 代入后:
//   Sm * (mr*|pos| - pos - cash*S3(0)*sign(pos)/Sm(0)) = -L + cash*S3(0)*(1 - sign(pos))
func LiquidationPriceQuanto(lockedIn, pos, cash, mr, s3, sm float64) float64 {
	sign := sgn(pos)
	numerator := -lockedIn + cash*s3*(1-sign)
	denominator := mr*math.Abs(pos) - pos - cash*s3*sign/sm
	return numerator / denominator
}

// ComputeLiquidationPrice 按保证金币种选择公式, 结果下限为 0
//
// s3 为当前保证金换算价格, 只在 quanto 下参与计算
func ComputeLiquidationPrice(ccy CollateralCurrency, lockedIn, pos, cash, mr, s3, sm float64) LiquidationPrice {
	var liq LiquidationPrice
	switch ccy {
	case CollateralBase:
		liq.S2 = floorPrice(LiquidationPriceBase(lockedIn, pos, cash, mr))
		liq.S3 = liq.S2
		liq.HasS3 = true
	case CollateralQuanto:
		liq.S2 = floorPrice(LiquidationPriceQuanto(lockedIn, pos, cash, mr, s3, sm))
		liq.S3 = floorPrice(s3)
		liq.HasS3 = true
	default:
		liq.S2 = floorPrice(LiquidationPriceQuote(lockedIn, pos, cash, mr))
	}
	return liq
}

// MarginBalance 保证金余额 (保证金币) = cash + pnl / S3
func MarginBalance(cash, pnlQC, conv float64) float64 {
	return cash + pnlQC/conv
}

// Leverage |pos| * Sm / (S3 * 保证金余额)
// 余额 <= 0 时返回 InfiniteLeverage
func Leverage(pos, sm, conv, marginBalance float64) float64 {
	if marginBalance <= 0 {
		return InfiniteLeverage
	}
	return math.Abs(pos) * sm / (conv * marginBalance)
}

// floorPrice 负数和无解 (分母为 0) 都记为 0
func floorPrice(px float64) float64 {
	if math.IsNaN(px) || math.IsInf(px, 0) || px < 0 {
		return 0
	}
	return px
}

func sgn(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
