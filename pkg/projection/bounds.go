package projection

import "math"

// Unbounded 账户侧不构成约束时的上限
const Unbounded = math.MaxFloat64

type boundsInput struct {
	pos      float64 // 当前持仓
	balance  float64 // 当前保证金余额 (保证金币)
	wallet   float64 // 钱包余额 (保证金币)
	leverage float64
	mark     float64
	tradePx  float64
	s2       float64
	conv     float64
	feeRate  float64
	amm      *AMMBounds
}

// maxTradeBounds 最大多 / 空成交数量, 相对当前持仓
//
// 目标持仓 N, 方向 d = ±1, 可用资金 A = 余额 + 钱包:
//
//	S3*A >= |N|*Sm/lvg + f*S2*|N-pos| + (N-pos)*(p-Sm)
//
// 在 N 与 d 同号时解得 N = X / c:
//
//	c = d*Sm/lvg + d*f*S2 + (p - Sm)
//	X = S3*A + pos*(d*f*S2 + p - Sm)
//
// 结果再与 AMM 侧上限取较紧者
func maxTradeBounds(in boundsInput) (maxLong, maxShort float64) {
	lvg := in.leverage
	if lvg <= 0 {
		lvg = 1
	}
	available := in.balance + in.wallet

	solve := func(d float64) (float64, bool) {
		c := d*in.mark/lvg + d*in.feeRate*in.s2 + (in.tradePx - in.mark)
		if c*d <= 0 {
			return 0, false
		}
		x := in.conv*available + in.pos*(d*in.feeRate*in.s2+in.tradePx-in.mark)
		return x / c, true
	}

	// 多
	maxLong = Unbounded
	if n, ok := solve(1); ok {
		// 空头平仓总是允许
		if in.pos < 0 {
			n = math.Max(n, 0)
		}
		maxLong = math.Max(n-in.pos, 0)
	}

	// 空
	maxShort = -Unbounded
	if n, ok := solve(-1); ok {
		if in.pos > 0 {
			n = math.Min(n, 0)
		}
		maxShort = math.Min(n-in.pos, 0)
	}

	if in.amm != nil {
		maxLong = math.Min(maxLong, math.Max(in.amm.MaxLongTrade, 0))
		maxShort = math.Max(maxShort, math.Min(in.amm.MaxShortTrade, 0))
	}
	return maxLong, maxShort
}
