// 文件: pkg/projection/collateral.go
// 存取保证金推演

package projection

import (
	"fmt"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

// ProjectCollateralAction 存入 (delta > 0) 或取出 (delta < 0) 保证金后的账户
//
// 取出后现金加未结资金费不能为负。
// 保证金余额 <= 0 时杠杆记为 0, 强平价格钉在当前指数价格。
func ProjectCollateralAction(
	account margin.MarginAccountState,
	delta float64,
	params margin.PerpetualStaticParams,
	prices margin.IndexPrices,
) (margin.MarginAccountState, error) {
	if account.Symbol != "" && account.Symbol != params.Symbol {
		return margin.MarginAccountState{}, fmt.Errorf("%w: account %s, params %s",
			margin.ErrPerpetualNotFound, account.Symbol, params.Symbol)
	}
	if delta+account.CollateralCC+account.UnrealizedFundingCollateralCCY < 0 {
		return margin.MarginAccountState{}, fmt.Errorf("%w: %s withdraw %v exceeds collateral %v",
			ErrInsufficientMargin, params.Symbol, -delta, account.CollateralCC+account.UnrealizedFundingCollateralCCY)
	}

	out := account
	out.CollateralCC += delta

	// 空仓只调整现金
	if account.IsFlat() {
		out.Leverage = 0
		out.LiquidationPrice = margin.LiquidationPrice{}
		out.LiquidationLeverage = 0
		return out, nil
	}

	conv := margin.CollateralConversion(params.CollateralCurrency, account, prices)
	if conv <= 0 {
		return margin.MarginAccountState{}, fmt.Errorf("%s collateral conversion %v: %w",
			params.Symbol, conv, fixedpoint.ErrDivisionByZero)
	}
	mark := account.MarkPrice

	balance := margin.MarginBalance(out.CollateralCC, out.UnrealizedPnlQuoteCCY, conv)
	if balance <= 0 {
		out.Leverage = 0
		out.LiquidationPrice = pinnedLiquidationPrice(params.CollateralCurrency, prices, mark)
		return out, nil
	}

	pos := account.SignedPosition()
	availableCash := out.CollateralCC + out.UnrealizedFundingCollateralCCY
	out.LiquidationPrice = margin.ComputeLiquidationPrice(params.CollateralCurrency,
		account.LockedInValue(), pos, availableCash, params.MaintenanceMarginRate, conv, mark)
	out.LiquidationLeverage = 1 / params.MaintenanceMarginRate
	out.Leverage = margin.Leverage(pos, mark, conv, balance)
	out.CollToQuoteConversion = conv
	return out, nil
}

// pinnedLiquidationPrice 已穿仓账户的强平价格 = 当前指数价格
func pinnedLiquidationPrice(ccy margin.CollateralCurrency, prices margin.IndexPrices, mark float64) margin.LiquidationPrice {
	s2 := prices.S2
	if s2 <= 0 {
		s2 = mark
	}
	switch ccy {
	case margin.CollateralBase:
		return margin.LiquidationPrice{S2: s2, S3: s2, HasS3: true}
	case margin.CollateralQuanto:
		return margin.LiquidationPrice{S2: s2, S3: prices.S3, HasS3: true}
	}
	return margin.LiquidationPrice{S2: s2}
}
