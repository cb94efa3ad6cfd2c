// 文件: pkg/margin/engine.go
// 链上原始状态 -> 保证金账户视图
//
// 【流程】
// 1. 查静态参数 (未知合约直接失败, 不做任何计算)
// 2. 空仓: 只填现金 / 标记价格 / 换算价格
// 3. 有仓: 开仓均价 -> 强平价格 -> 未实现盈亏 -> 杠杆

package margin

import (
	"fmt"
	"math"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
)

// BuildFromRawState 解码单个账户
// 纯函数, 可并发调用
func BuildFromRawState(symbol string, raw RawTraderState, lookup ParamsLookup, px IndexPrices) (MarginAccountState, error) {
	params, err := lookup.StaticParams(symbol)
	if err != nil {
		return MarginAccountState{}, err
	}
	if len(raw) < TraderStateLen {
		return MarginAccountState{}, fmt.Errorf("%w: %s got %d fields, want %d",
			ErrInvalidTraderState, symbol, len(raw), TraderStateLen)
	}

	state := MarginAccountState{
		Symbol:                params.Symbol,
		Side:                  SideClosed,
		MarkPrice:             math.Abs(raw[IdxMarkPrice].Float()),
		CollateralCC:          raw[IdxCashCC].Float(),
		CollToQuoteConversion: raw[IdxCollToQuoteS3].Float(),
	}

	// 空仓
	if raw[IdxPositionBC].IsZero() {
		return state, nil
	}

	pos := raw[IdxPositionBC].Float()
	lockedIn := raw[IdxLockedInValueQC].Float()
	availableCash := raw[IdxAvailableCashCC].Float()
	sm := state.MarkPrice

	// 开仓均价在定点域内相除, 与合约一致
	entry, err := fixedpoint.Div64x64(raw[IdxLockedInValueQC], raw[IdxPositionBC])
	if err != nil {
		return MarginAccountState{}, fmt.Errorf("%s entry price: %w", symbol, err)
	}

	conv := collateralConversion(params.CollateralCurrency, raw, px)
	if conv == 0 {
		return MarginAccountState{}, fmt.Errorf("%s collateral conversion: %w", symbol, fixedpoint.ErrDivisionByZero)
	}

	// 未结资金费 = 可用现金 - 账户现金
	unpaidFundingCC := raw[IdxAvailableCashCC].Sub(raw[IdxCashCC]).Float()
	pnl := pos*sm - lockedIn + unpaidFundingCC*conv

	state.PositionNotionalBaseCCY = math.Abs(pos)
	state.Side = sideOf(lockedIn, pos)
	state.EntryPrice = math.Abs(entry.Float())
	state.UnrealizedPnlQuoteCCY = pnl
	state.UnrealizedFundingCollateralCCY = unpaidFundingCC
	state.CollToQuoteConversion = conv
	state.LiquidationPrice = ComputeLiquidationPrice(params.CollateralCurrency,
		lockedIn, pos, availableCash, params.MaintenanceMarginRate, conv, sm)
	state.LiquidationLeverage = 1 / params.MaintenanceMarginRate
	state.Leverage = Leverage(pos, sm, conv, MarginBalance(state.CollateralCC, pnl, conv))

	return state, nil
}

// collateralConversion 原始状态的换算价格
func collateralConversion(ccy CollateralCurrency, raw RawTraderState, px IndexPrices) float64 {
	return conversion(ccy, raw[IdxIndexS2].Float(), raw[IdxCollToQuoteS3].Float(), px)
}

// conversion 保证金币 -> quote 的换算价格, 解码和推演共用
//
//	quote:  1
//	base:   外部 S2, 缺省用链上 S2
//	quanto: 链上 S3, 缺省用外部 S3
func conversion(ccy CollateralCurrency, chainS2, chainS3 float64, px IndexPrices) float64 {
	switch ccy {
	case CollateralBase:
		if px.S2 > 0 {
			return px.S2
		}
		return chainS2
	case CollateralQuanto:
		if chainS3 != 0 {
			return chainS3
		}
		return px.S3
	default:
		return 1
	}
}

// sideOf 方向取锁定价值的符号, 锁定价值为 0 时退回到持仓符号
func sideOf(lockedIn, pos float64) Side {
	s := sgn(lockedIn)
	if s == 0 {
		s = sgn(pos)
	}
	if s > 0 {
		return SideBuy
	}
	return SideSell
}

// CollateralConversion 已解码账户的换算价格, 与 BuildFromRawState 取价顺序一致
// 给不持有原始状态的调用方使用 (如仓位推演)
//
// base 合约链上 S3 即 S2, 用账户记录的换算价格兜底
func CollateralConversion(ccy CollateralCurrency, account MarginAccountState, px IndexPrices) float64 {
	return conversion(ccy, account.CollToQuoteConversion, account.CollToQuoteConversion, px)
}
