package risk

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

// Engine 是风险引擎对象。
// 输入一批链上账户状态 → 解码 → 输出风险率、等级、预警价格。
//
// 【并发】
// 每个账户独立计算, 用 errgroup 限制并发数。
// 单个账户失败只记在它自己的 Result.Err 上, 不影响整批。
type Engine struct {
	params margin.ParamsLookup
	prices PriceResolver
	limit  int

	// 单个账户完成后的回调 (指标), 可并发调用
	onResult func(Result)
}

// Option 引擎选项
type Option func(*Engine)

// WithConcurrency 最大并发数, <= 0 不限制
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.limit = n }
}

// WithResultHook 每个账户评估完成后调用
func WithResultHook(fn func(Result)) Option {
	return func(e *Engine) { e.onResult = fn }
}

// NewEngine prices 可以为 nil, 此时每个 Entry 必须自带价格
func NewEngine(params margin.ParamsLookup, prices PriceResolver, opts ...Option) *Engine {
	e := &Engine{params: params, prices: prices, limit: 16}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate 评估一批账户
// 只有 ctx 取消时返回错误
func (e *Engine) Evaluate(ctx context.Context, entries []Entry) (Report, error) {
	results := make([]Result, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i := range entries {
		// 取消后不再派发
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = e.EvaluateOne(gctx, entries[i])
			if e.onResult != nil {
				e.onResult(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{Results: results, Levels: make(map[RiskLevel]int)}
	for _, r := range results {
		if r.Err != nil {
			report.Failed++
			continue
		}
		report.Levels[r.Level]++
	}
	return report, nil
}

// EvaluateOne 评估单个账户
func (e *Engine) EvaluateOne(ctx context.Context, in Entry) Result {
	res := Result{Trader: in.Trader, Symbol: in.Symbol}

	// 1. 静态参数
	params, err := e.params.StaticParams(in.Symbol)
	if err != nil {
		res.Err = err
		return res
	}

	// 2. 指数价格
	switch {
	case in.Prices != nil:
		res.Prices = *in.Prices
	case e.prices != nil:
		res.Prices, res.IsMarketClosed, err = e.prices.IndexPrices(ctx, params)
		if err != nil {
			res.Err = err
			return res
		}
	default:
		res.Err = ErrNoPrices
		return res
	}

	// 3. 解码账户
	acct, err := margin.BuildFromRawState(in.Symbol, in.Raw, e.params, res.Prices)
	if err != nil {
		res.Err = err
		return res
	}
	res.Account = acct

	// 4. 风险率 / 等级 / 预警价格
	res.RiskRatio = RiskRatio(acct)
	res.Level = LevelOf(res.RiskRatio)
	res.WarningPrices = CalculateWarningPrices(acct, params, res.Prices)
	return res
}

// RiskRatio 当前杠杆 / 强平杠杆
func RiskRatio(acct margin.MarginAccountState) float64 {
	if acct.IsFlat() {
		return 0
	}
	if margin.IsInfiniteLeverage(acct.Leverage) || acct.LiquidationLeverage <= 0 {
		return math.Inf(1)
	}
	return acct.Leverage / acct.LiquidationLeverage
}

// CalculateWarningPrices 计算各级预警价格
//
// 风险率达到 θ 时杠杆 = θ/mr, 等价于维持保证金率为 mr/θ 时的强平条件,
// 所以直接用强平公式, 把 mr 换成 mr/θ。
func CalculateWarningPrices(acct margin.MarginAccountState, params margin.PerpetualStaticParams, px margin.IndexPrices) WarningPrices {
	if acct.IsFlat() {
		return WarningPrices{}
	}
	conv := margin.CollateralConversion(params.CollateralCurrency, acct, px)
	lockedIn := acct.LockedInValue()
	pos := acct.SignedPosition()
	cash := acct.CollateralCC + acct.UnrealizedFundingCollateralCCY
	mr := params.MaintenanceMarginRate

	at := func(threshold float64) float64 {
		return margin.ComputeLiquidationPrice(params.CollateralCurrency,
			lockedIn, pos, cash, mr/threshold, conv, acct.MarkPrice).S2
	}
	return WarningPrices{
		Warning:     at(WarningThreshold),
		Danger:      at(DangerThreshold),
		Liquidation: at(LiquidateThreshold),
	}
}
