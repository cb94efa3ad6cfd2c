// 文件: pkg/projection/trade.go
// 下单推演
//
// 【流程】
// 1. 校验订单 (合约 / 方向 / 数量 / 杠杆 / 费率)
// 2. 数量 < 1 手: 不成交
// 3. 成交后剩余仓位 < 10 手: 按全平处理
// 4. 区分开仓 / 减仓 / 反手, 结算资金费和已实现盈亏
// 5. 开仓和反手按目标杠杆计算入金, 再加手续费
// 6. 用强平闭式解重新计算账户视图

package projection

import (
	"fmt"
	"math"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

// ProjectTrade 推演一笔订单成交后的账户
func ProjectTrade(
	account margin.MarginAccountState,
	order Order,
	params margin.PerpetualStaticParams,
	prices MarketPrices,
	fees TradeFees,
	bounds TradeBounds,
) (TradeProjection, error) {
	// 1. 校验
	if err := validateOrder(account, order, params, fees); err != nil {
		return TradeProjection{}, err
	}

	mark, tradePx, s2, conv, err := resolvePrices(account, order, params, prices)
	if err != nil {
		return TradeProjection{}, err
	}

	pos0 := account.SignedPosition()
	lockedIn0 := account.LockedInValue()
	// 资金费在成交时结算进现金
	cash := account.CollateralCC + account.UnrealizedFundingCollateralCCY
	balance0 := cash + (pos0*mark-lockedIn0)/conv

	maxLong, maxShort := maxTradeBounds(boundsInput{
		pos:      pos0,
		balance:  balance0,
		wallet:   bounds.WalletBalanceCC,
		leverage: bounds.Leverage,
		mark:     mark,
		tradePx:  tradePx,
		s2:       s2,
		conv:     conv,
		feeRate:  fees.Rate(),
		amm:      bounds.AMM,
	})

	result := TradeProjection{
		Account:       account,
		Kind:          TradeNone,
		TradePrice:    tradePx,
		MaxLongTrade:  maxLong,
		MaxShortTrade: maxShort,
	}

	// 2. 不足一手
	if math.Abs(order.Quantity) < params.LotSizeBC {
		return result, nil
	}

	// 3. 剩余仓位过小按全平
	trade := order.Quantity
	if order.Side == margin.SideSell {
		trade = -trade
	}
	newPos := pos0 + trade
	if math.Abs(newPos) < params.MinimalPositionSize() {
		trade = -pos0
		newPos = 0
	}
	if trade == 0 {
		return result, nil
	}

	// 4. 成交类型 / 锁定价值 / 已实现盈亏
	kind := classify(pos0, newPos)
	var lockedIn, realized float64
	switch kind {
	case TradeOpen:
		lockedIn = lockedIn0 + trade*tradePx
	case TradeClose:
		lockedIn = lockedIn0 * newPos / pos0
		realized = -trade*tradePx - (lockedIn0 - lockedIn)
	case TradeFlip:
		realized = pos0*tradePx - lockedIn0
		lockedIn = newPos * tradePx
	}
	cash += realized / conv

	// 5. 入金
	feeBreakdown := FeeBreakdown{
		ExchangeFeeCC:    math.Abs(trade) * float64(fees.ExchangeFeeTbps) / tbpsDenominator * s2 / conv,
		BrokerFeeCC:      math.Abs(trade) * float64(fees.BrokerFeeTbps) / tbpsDenominator * s2 / conv,
		ReferralRebateCC: params.ReferralRebateCC,
	}

	deposit := 0.0
	if lvg, ok := targetLeverage(kind, account, order, params, newPos); ok {
		// 成交后 (入金前) 的保证金余额 = b0 - trade*(p - Sm)/S3 + 已实现部分已计入 cash
		postBalance := cash + (newPos*mark-lockedIn)/conv
		target := math.Abs(newPos) * mark / (conv * lvg)
		deposit = target - postBalance
		if kind != TradeClose && deposit < 0 {
			deposit = 0
		}
		deposit += feeBreakdown.Total()
	}

	// 手续费按 交易所 -> 经纪商 -> 推荐返佣 的顺序从现金中扣除
	cash += deposit
	cash -= feeBreakdown.ExchangeFeeCC
	cash -= feeBreakdown.BrokerFeeCC
	cash -= feeBreakdown.ReferralRebateCC

	// 6. 推演后的账户
	result.Account = projectAccount(account.Symbol, params, newPos, lockedIn, cash, mark, conv)
	result.Kind = kind
	result.TradeAmount = trade
	result.RequiredDeposit = deposit
	result.RealizedPnlQuoteCCY = realized
	result.Fees = feeBreakdown
	return result, nil
}

func validateOrder(account margin.MarginAccountState, order Order, params margin.PerpetualStaticParams, fees TradeFees) error {
	if order.Symbol != params.Symbol {
		return fmt.Errorf("%w: order %s, params %s", margin.ErrPerpetualNotFound, order.Symbol, params.Symbol)
	}
	if account.Symbol != "" && account.Symbol != params.Symbol {
		return fmt.Errorf("%w: account %s, params %s", margin.ErrPerpetualNotFound, account.Symbol, params.Symbol)
	}
	if order.Side != margin.SideBuy && order.Side != margin.SideSell {
		return fmt.Errorf("%w: side must be %s or %s, got %q", ErrInvalidOrder, margin.SideBuy, margin.SideSell, order.Side)
	}
	if order.Quantity < 0 || math.IsNaN(order.Quantity) || math.IsInf(order.Quantity, 0) {
		return fmt.Errorf("%w: quantity %v", ErrInvalidOrder, order.Quantity)
	}
	if order.Leverage < 0 || math.IsNaN(order.Leverage) {
		return fmt.Errorf("%w: leverage %v", ErrInvalidOrder, order.Leverage)
	}
	if order.LimitPrice < 0 {
		return fmt.Errorf("%w: limit price %v", ErrInvalidOrder, order.LimitPrice)
	}
	if fees.BrokerFeeTbps < 0 || fees.ExchangeFeeTbps < 0 {
		return fmt.Errorf("%w: fee %d/%d tbps", ErrInvalidOrder, fees.ExchangeFeeTbps, fees.BrokerFeeTbps)
	}
	return nil
}

// resolvePrices 补齐缺省价格
func resolvePrices(account margin.MarginAccountState, order Order, params margin.PerpetualStaticParams, prices MarketPrices) (mark, tradePx, s2, conv float64, err error) {
	mark = prices.Mark
	if mark <= 0 {
		mark = account.MarkPrice
	}
	if mark <= 0 {
		return 0, 0, 0, 0, fmt.Errorf("%w: %s mark price %v", ErrInvalidPrices, params.Symbol, mark)
	}

	tradePx = prices.Trade
	if tradePx <= 0 {
		tradePx = order.LimitPrice
	}
	if tradePx <= 0 {
		tradePx = mark
	}

	s2 = prices.S2
	if s2 <= 0 {
		s2 = mark
	}

	conv = margin.CollateralConversion(params.CollateralCurrency, account, prices.Index())
	if conv <= 0 {
		return 0, 0, 0, 0, fmt.Errorf("%s collateral conversion %v: %w", params.Symbol, conv, fixedpoint.ErrDivisionByZero)
	}
	return mark, tradePx, s2, conv, nil
}

// classify 按成交前后持仓判断类型
func classify(pos0, newPos float64) TradeKind {
	switch {
	case pos0 == 0:
		return TradeOpen
	case newPos == 0:
		return TradeClose
	case (pos0 > 0) != (newPos > 0):
		return TradeFlip
	case math.Abs(newPos) > math.Abs(pos0):
		return TradeOpen
	default:
		return TradeClose
	}
}

// targetLeverage 需要按杠杆入金时返回目标杠杆
//
//	开仓 / 反手: 订单杠杆, 未指定则用最大杠杆
//	减仓: 仅在保持杠杆时按当前杠杆
func targetLeverage(kind TradeKind, account margin.MarginAccountState, order Order, params margin.PerpetualStaticParams, newPos float64) (float64, bool) {
	switch kind {
	case TradeOpen, TradeFlip:
		if order.Leverage > 0 {
			return order.Leverage, true
		}
		return params.MaxLeverage(), true
	case TradeClose:
		if !order.KeepPositionLeverage || newPos == 0 {
			return 0, false
		}
		if account.Leverage <= 0 || margin.IsInfiniteLeverage(account.Leverage) {
			return 0, false
		}
		return account.Leverage, true
	}
	return 0, false
}

// projectAccount 用闭式解重建账户视图, 资金费已结算为 0
func projectAccount(symbol string, params margin.PerpetualStaticParams, pos, lockedIn, cash, mark, conv float64) margin.MarginAccountState {
	if symbol == "" {
		symbol = params.Symbol
	}
	state := margin.MarginAccountState{
		Symbol:                symbol,
		Side:                  margin.SideClosed,
		MarkPrice:             mark,
		CollateralCC:          cash,
		CollToQuoteConversion: conv,
	}
	if pos == 0 {
		return state
	}

	pnl := pos*mark - lockedIn
	state.PositionNotionalBaseCCY = math.Abs(pos)
	state.Side = margin.SideBuy
	if pos < 0 {
		state.Side = margin.SideSell
	}
	state.EntryPrice = math.Abs(lockedIn / pos)
	state.UnrealizedPnlQuoteCCY = pnl
	state.LiquidationPrice = margin.ComputeLiquidationPrice(params.CollateralCurrency,
		lockedIn, pos, cash, params.MaintenanceMarginRate, conv, mark)
	state.LiquidationLeverage = 1 / params.MaintenanceMarginRate
	state.Leverage = margin.Leverage(pos, mark, conv, margin.MarginBalance(cash, pnl, conv))
	return state
}
