// 文件: pkg/projection/model.go
// 仓位推演: 下单 / 调整保证金之前, 预估成交后的账户状态
//
// 【输入】
// - 当前账户视图 (margin.MarginAccountState)
// - 合约静态参数
// - 价格 (指数 S2 / 换算 S3 / 标记 / 成交价)
//
// 【输出】
// - 推演后的账户视图
// - 需要存入的保证金 (含手续费)
// - 当前可交易的最大多 / 空数量

package projection

import (
	"errors"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInvalidPrices      = errors.New("invalid prices")
)

// tbps: 1e-5
const tbpsDenominator = 1e5

// Order 待推演的订单
type Order struct {
	Symbol               string      `json:"symbol"`
	Side                 margin.Side `json:"side"`
	Quantity             float64     `json:"quantity"`   // 正数, base 币
	LimitPrice           float64     `json:"limitPrice"` // 0 表示市价
	Leverage             float64     `json:"leverage"`   // 0 表示按最大杠杆
	KeepPositionLeverage bool        `json:"keepPositionLeverage"`
}

// MarketPrices 推演用价格
// Mark / Trade 为 0 时分别退回账户标记价格和订单限价
type MarketPrices struct {
	S2    float64 `json:"s2"`
	S3    float64 `json:"s3"`
	Mark  float64 `json:"mark"`
	Trade float64 `json:"trade"`
}

// Index 指数价格部分
func (p MarketPrices) Index() margin.IndexPrices {
	return margin.IndexPrices{S2: p.S2, S3: p.S3}
}

// TradeFees 手续费率 (tbps)
type TradeFees struct {
	ExchangeFeeTbps int32 `json:"exchangeFeeTbps"`
	BrokerFeeTbps   int32 `json:"brokerFeeTbps"`
}

// Rate 合计费率 (小数)
func (f TradeFees) Rate() float64 {
	return float64(f.ExchangeFeeTbps+f.BrokerFeeTbps) / tbpsDenominator
}

// AMMBounds AMM 侧可成交的最大数量 (多 >= 0, 空 <= 0)
type AMMBounds struct {
	MaxLongTrade  float64 `json:"maxLongTrade"`
	MaxShortTrade float64 `json:"maxShortTrade"`
}

// TradeBounds 计算最大可交易数量所需的外部条件
type TradeBounds struct {
	AMM             *AMMBounds `json:"amm,omitempty"` // nil 表示 AMM 不设限
	WalletBalanceCC float64    `json:"walletBalanceCC"`
	Leverage        float64    `json:"leverage"` // 0 时按 1 倍
}

// TradeKind 成交类型
type TradeKind string

const (
	TradeNone  TradeKind = "NONE"  // 数量过小, 不成交
	TradeOpen  TradeKind = "OPEN"  // 开仓或加仓
	TradeClose TradeKind = "CLOSE" // 减仓或全平
	TradeFlip  TradeKind = "FLIP"  // 反手
)

// FeeBreakdown 手续费明细 (保证金币)
type FeeBreakdown struct {
	ExchangeFeeCC    float64 `json:"exchangeFeeCC"`
	BrokerFeeCC      float64 `json:"brokerFeeCC"`
	ReferralRebateCC float64 `json:"referralRebateCC"`
}

func (f FeeBreakdown) Total() float64 {
	return f.ExchangeFeeCC + f.BrokerFeeCC + f.ReferralRebateCC
}

// TradeProjection 推演结果
type TradeProjection struct {
	Account             margin.MarginAccountState `json:"account"`
	Kind                TradeKind                 `json:"kind"`
	TradeAmount         float64                   `json:"tradeAmount"` // 带符号, 已按最小持仓修正
	TradePrice          float64                   `json:"tradePrice"`
	RequiredDeposit     float64                   `json:"requiredDeposit"`
	RealizedPnlQuoteCCY float64                   `json:"realizedPnlQuoteCCY"`
	Fees                FeeBreakdown              `json:"fees"`
	MaxLongTrade        float64                   `json:"maxLongTrade"`
	MaxShortTrade       float64                   `json:"maxShortTrade"`
}
