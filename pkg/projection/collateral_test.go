package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

var regimeParams = margin.NewParamsTable(
	btcParams,
	margin.PerpetualStaticParams{
		ID:                    100002,
		Symbol:                "BTC-USD-BTC",
		S2Symbol:              "BTC-USD",
		InitialMarginRate:     0.1,
		MaintenanceMarginRate: 0.05,
		LotSizeBC:             0.001,
		CollateralCurrency:    margin.CollateralBase,
	},
	margin.PerpetualStaticParams{
		ID:                    100003,
		Symbol:                "ETH-USD-MATIC",
		S2Symbol:              "ETH-USD",
		S3Symbol:              "MATIC-USD",
		InitialMarginRate:     0.1,
		MaintenanceMarginRate: 0.05,
		LotSizeBC:             0.01,
		CollateralCurrency:    margin.CollateralQuanto,
	},
)

// chainState 链上 getTraderState 的 11 个字段, 未给出的字段为 0
func chainState(availableCash, cash, pos, lockedIn, mark, s3, s2 float64) margin.RawTraderState {
	raw := make(margin.RawTraderState, margin.TraderStateLen)
	for i := range raw {
		raw[i] = fixedpoint.MustFixed64x64(0)
	}
	raw[margin.IdxAvailableCashCC] = fixedpoint.MustFixed64x64(availableCash)
	raw[margin.IdxCashCC] = fixedpoint.MustFixed64x64(cash)
	raw[margin.IdxPositionBC] = fixedpoint.MustFixed64x64(pos)
	raw[margin.IdxLockedInValueQC] = fixedpoint.MustFixed64x64(lockedIn)
	raw[margin.IdxMarkPrice] = fixedpoint.MustFixed64x64(mark)
	raw[margin.IdxCollToQuoteS3] = fixedpoint.MustFixed64x64(s3)
	raw[margin.IdxIndexS2] = fixedpoint.MustFixed64x64(s2)
	return raw
}

func TestProjectCollateralActionZeroDelta(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		raw    margin.RawTraderState
		px     margin.IndexPrices
	}{
		{
			name:   "Quote",
			symbol: "BTC-USD-USD",
			raw:    chainState(2050, 2000, 1, 20000, 21000, 1, 21000),
			px:     margin.IndexPrices{S2: 21000, S3: 1},
		},
		{
			name:   "Base",
			symbol: "BTC-USD-BTC",
			raw:    chainState(0.1, 0.1, 1, 20000, 21000, 21000, 21000),
			px:     margin.IndexPrices{S2: 21500},
		},
		{
			name:   "Quanto chain S3 differs from index",
			symbol: "ETH-USD-MATIC",
			raw:    chainState(1000, 1000, 10, 15000, 1500, 0.8, 1500),
			px:     margin.IndexPrices{S2: 1500, S3: 1.2},
		},
		{
			name:   "Quanto short with unpaid funding",
			symbol: "ETH-USD-MATIC",
			raw:    chainState(990, 1000, -10, -15000, 1450, 0.8, 1450),
			px:     margin.IndexPrices{S2: 1450, S3: 0.7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := regimeParams.StaticParams(tt.symbol)
			require.NoError(t, err)
			acct, err := margin.BuildFromRawState(tt.symbol, tt.raw, regimeParams, tt.px)
			require.NoError(t, err)
			require.False(t, acct.IsFlat())

			out, err := ProjectCollateralAction(acct, 0, params, tt.px)
			require.NoError(t, err)

			assert.InDelta(t, acct.Leverage, out.Leverage, 1e-9)
			assert.InDelta(t, acct.LiquidationPrice.S2, out.LiquidationPrice.S2, 1e-6)
			assert.Equal(t, acct.LiquidationPrice.HasS3, out.LiquidationPrice.HasS3)
			assert.InDelta(t, acct.LiquidationPrice.S3, out.LiquidationPrice.S3, 1e-9)
			assert.InDelta(t, acct.CollToQuoteConversion, out.CollToQuoteConversion, 1e-12)
			assert.Equal(t, acct.CollateralCC, out.CollateralCC)
		})
	}
}

func TestProjectCollateralActionQuantoKeepsChainS3(t *testing.T) {
	params, err := regimeParams.StaticParams("ETH-USD-MATIC")
	require.NoError(t, err)
	px := margin.IndexPrices{S2: 1500, S3: 1.2}
	acct, err := margin.BuildFromRawState("ETH-USD-MATIC", chainState(1000, 1000, 10, 15000, 1500, 0.8, 1500), regimeParams, px)
	require.NoError(t, err)
	require.InDelta(t, 18.75, acct.Leverage, 1e-9)

	out, err := ProjectCollateralAction(acct, 0, params, px)
	require.NoError(t, err)
	assert.InDelta(t, 18.75, out.Leverage, 1e-9)
	assert.InDelta(t, 0.8, out.LiquidationPrice.S3, 1e-12)
}
