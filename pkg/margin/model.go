// 文件: pkg/margin/model.go
// 保证金账户模型
//
// 【三种币种】
// - S2: 指数价格 base/quote (如 BTC-USD)
// - S3: 保证金币种/quote 的换算价格 (如 MATIC-USD)
// - Sm: 标记价格

package margin

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrPerpetualNotFound  = errors.New("perpetual not found")
	ErrInvalidTraderState = errors.New("invalid trader state")
	ErrInvalidParams      = errors.New("invalid perpetual params")
)

// InfiniteLeverage 保证金余额 <= 0 时的杠杆
var InfiniteLeverage = math.Inf(1)

// IsInfiniteLeverage 判断杠杆哨兵值
func IsInfiniteLeverage(lvg float64) bool { return math.IsInf(lvg, 1) }

// =============================================================================
// 保证金币种
// =============================================================================

// CollateralCurrency 保证金币种类型, 数值与合约枚举一致
type CollateralCurrency uint8

const (
	CollateralQuote  CollateralCurrency = iota // 保证金 = quote (如 BTC-USD-USD)
	CollateralBase                             // 保证金 = base (如 BTC-USD-BTC)
	CollateralQuanto                           // 保证金为第三种币 (如 BTC-USD-MATIC)
)

func (c CollateralCurrency) String() string {
	switch c {
	case CollateralQuote:
		return "QUOTE"
	case CollateralBase:
		return "BASE"
	case CollateralQuanto:
		return "QUANTO"
	default:
		return "UNKNOWN"
	}
}

// ParseCollateralCurrency 配置文件中的文本形式
func ParseCollateralCurrency(s string) (CollateralCurrency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "QUOTE", "0":
		return CollateralQuote, nil
	case "BASE", "1":
		return CollateralBase, nil
	case "QUANTO", "2":
		return CollateralQuanto, nil
	}
	return 0, fmt.Errorf("%w: unknown collateral currency %q", ErrInvalidParams, s)
}

// =============================================================================
// 方向
// =============================================================================

type Side string

const (
	SideBuy    Side = "BUY"
	SideSell   Side = "SELL"
	SideClosed Side = "CLOSED"
)

// =============================================================================
// 永续合约静态参数
// =============================================================================

// PerpetualStaticParams 合约上线后不变的参数
type PerpetualStaticParams struct {
	ID                    uint32             `json:"id"`
	PoolID                uint32             `json:"poolId"`
	Symbol                string             `json:"symbol"`   // BTC-USD-MATIC
	S2Symbol              string             `json:"s2Symbol"` // BTC-USD
	S3Symbol              string             `json:"s3Symbol"` // MATIC-USD, quote 保证金时为空
	InitialMarginRate     float64            `json:"initialMarginRate"`
	MaintenanceMarginRate float64            `json:"maintenanceMarginRate"`
	LotSizeBC             float64            `json:"lotSizeBC"`
	ReferralRebateCC      float64            `json:"referralRebateCC"`
	CollateralCurrency    CollateralCurrency `json:"collateralCurrency"`
}

// MinimalPositionSize 最小持仓, 小于它的剩余仓位按全平处理
func (p PerpetualStaticParams) MinimalPositionSize() float64 {
	return 10 * p.LotSizeBC
}

// MaxLeverage 初始保证金率对应的最大杠杆
func (p PerpetualStaticParams) MaxLeverage() float64 {
	return 1 / p.InitialMarginRate
}

// Validate 参数校验
func (p PerpetualStaticParams) Validate() error {
	if p.Symbol == "" || strings.Count(p.Symbol, "-") != 2 {
		return fmt.Errorf("%w: symbol %q must be BASE-QUOTE-COLLATERAL", ErrInvalidParams, p.Symbol)
	}
	if p.S2Symbol == "" {
		return fmt.Errorf("%w: %s missing S2 symbol", ErrInvalidParams, p.Symbol)
	}
	if p.CollateralCurrency == CollateralQuanto && p.S3Symbol == "" {
		return fmt.Errorf("%w: %s quanto perpetual needs S3 symbol", ErrInvalidParams, p.Symbol)
	}
	if p.CollateralCurrency > CollateralQuanto {
		return fmt.Errorf("%w: %s collateral currency %d", ErrInvalidParams, p.Symbol, p.CollateralCurrency)
	}
	if p.MaintenanceMarginRate <= 0 || p.MaintenanceMarginRate >= 1 {
		return fmt.Errorf("%w: %s maintenance margin rate %v", ErrInvalidParams, p.Symbol, p.MaintenanceMarginRate)
	}
	if p.InitialMarginRate < p.MaintenanceMarginRate || p.InitialMarginRate >= 1 {
		return fmt.Errorf("%w: %s initial margin rate %v", ErrInvalidParams, p.Symbol, p.InitialMarginRate)
	}
	if p.LotSizeBC <= 0 {
		return fmt.Errorf("%w: %s lot size %v", ErrInvalidParams, p.Symbol, p.LotSizeBC)
	}
	if p.ReferralRebateCC < 0 {
		return fmt.Errorf("%w: %s referral rebate %v", ErrInvalidParams, p.Symbol, p.ReferralRebateCC)
	}
	return nil
}

// IndexPrices 外部提供的指数价格
type IndexPrices struct {
	S2 float64 `json:"s2"`
	S3 float64 `json:"s3"`
}

// =============================================================================
// 链上原始状态
// =============================================================================

// getTraderState 返回数组的下标
const (
	IdxMarginBalance = iota
	IdxAvailableMargin
	IdxAvailableCashCC
	IdxCashCC
	IdxPositionBC
	IdxLockedInValueQC
	IdxUnitAccumulatedFundingStart
	IdxLeverage
	IdxMarkPrice
	IdxCollToQuoteS3
	IdxIndexS2

	TraderStateLen
)

// RawTraderState 链上 64.64 格式的原始账户字段, 顺序与合约一致
type RawTraderState []fixedpoint.Fixed64x64

// ParseRawTraderState 从原始整数文本解析
func ParseRawTraderState(fields []string) (RawTraderState, error) {
	if len(fields) < TraderStateLen {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrInvalidTraderState, len(fields), TraderStateLen)
	}
	raw := make(RawTraderState, len(fields))
	for i, s := range fields {
		v, err := fixedpoint.Fixed64x64FromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %w", ErrInvalidTraderState, i, err)
		}
		raw[i] = v
	}
	return raw, nil
}

// Strings 原始整数文本, 与 ParseRawTraderState 对应
func (r RawTraderState) Strings() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = v.String()
	}
	return out
}

// =============================================================================
// 保证金账户视图
// =============================================================================

// LiquidationPrice 强平价格
// S3 只在 base / quanto 保证金下有意义
type LiquidationPrice struct {
	S2    float64 `json:"s2"`
	S3    float64 `json:"s3"`
	HasS3 bool    `json:"hasS3"`
}

// MarginAccountState 解码后的账户状态
// PositionNotionalBaseCCY 为绝对值, 方向在 Side 中
type MarginAccountState struct {
	Symbol                         string           `json:"symbol"`
	PositionNotionalBaseCCY        float64          `json:"positionNotionalBaseCCY"`
	Side                           Side             `json:"side"`
	EntryPrice                     float64          `json:"entryPrice"`
	Leverage                       float64          `json:"leverage"`
	MarkPrice                      float64          `json:"markPrice"`
	UnrealizedPnlQuoteCCY          float64          `json:"unrealizedPnlQuoteCCY"`
	UnrealizedFundingCollateralCCY float64          `json:"unrealizedFundingCollateralCCY"`
	CollateralCC                   float64          `json:"collateralCC"`
	LiquidationPrice               LiquidationPrice `json:"liquidationPrice"`
	LiquidationLeverage            float64          `json:"liquidationLvg"`
	CollToQuoteConversion          float64          `json:"collToQuoteConversion"`
}

// IsFlat 无持仓
func (m MarginAccountState) IsFlat() bool {
	return m.Side == SideClosed || m.PositionNotionalBaseCCY == 0
}

// SignedPosition 带方向的持仓 (+多, -空)
func (m MarginAccountState) SignedPosition() float64 {
	switch m.Side {
	case SideBuy:
		return m.PositionNotionalBaseCCY
	case SideSell:
		return -m.PositionNotionalBaseCCY
	}
	return 0
}

// LockedInValue 带方向的锁定价值 L = pos * entry
func (m MarginAccountState) LockedInValue() float64 {
	return m.SignedPosition() * m.EntryPrice
}

// MarginBalanceCC 保证金余额 (保证金币种)
// 未实现盈亏里已包含未结资金费
func (m MarginAccountState) MarginBalanceCC() float64 {
	if m.IsFlat() || m.CollToQuoteConversion == 0 {
		return m.CollateralCC
	}
	return m.CollateralCC + m.UnrealizedPnlQuoteCCY/m.CollToQuoteConversion
}
