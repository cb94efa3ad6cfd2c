package risk

import (
	"context"
	"errors"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

var ErrNoPrices = errors.New("risk engine has no price resolver")

// RiskLevel 风险等级
//
// 风险率 = 当前杠杆 / 强平杠杆 (1/维持保证金率)。
// 账户余额 <= 0 时杠杆为 +Inf, 风险率也是 +Inf, 直接进入强平。
type RiskLevel int

const (
	RiskLevelSafe      RiskLevel = iota // 绿色：安全 (风险率 < 70%)
	RiskLevelWarning                    // 黄色：预警 (风险率 70% - 90%)
	RiskLevelDanger                     // 红色：危险 (风险率 90% - 100%)
	RiskLevelLiquidate                  // 强平：引擎接管 (风险率 >= 100%)
)

// 风险阈值配置
const (
	WarningThreshold   = 0.70 // 70% 触发预警
	DangerThreshold    = 0.90 // 90% 触发危险
	LiquidateThreshold = 1.00 // 100% 触发强平
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelSafe:
		return "SAFE"
	case RiskLevelWarning:
		return "WARNING"
	case RiskLevelDanger:
		return "DANGER"
	case RiskLevelLiquidate:
		return "LIQUIDATE"
	}
	return "UNKNOWN"
}

// LevelOf 风险率 -> 等级
func LevelOf(ratio float64) RiskLevel {
	switch {
	case ratio >= LiquidateThreshold:
		return RiskLevelLiquidate
	case ratio >= DangerThreshold:
		return RiskLevelDanger
	case ratio >= WarningThreshold:
		return RiskLevelWarning
	}
	return RiskLevelSafe
}

// PriceResolver 按合约查指数价格, pricefeed.Resolver 实现了它
type PriceResolver interface {
	IndexPrices(ctx context.Context, params margin.PerpetualStaticParams) (margin.IndexPrices, bool, error)
}

// Entry 一个待评估的账户 (链上原始状态)
type Entry struct {
	Trader string                `json:"trader"`
	Symbol string                `json:"symbol"`
	Raw    margin.RawTraderState `json:"-"`

	// Prices 不为空时直接使用, 不走 PriceResolver
	Prices *margin.IndexPrices `json:"prices,omitempty"`
}

// WarningPrices 各级预警对应的 S2 价格
// 0 表示该方向没有这样的价格
type WarningPrices struct {
	Warning     float64 `json:"warning"`
	Danger      float64 `json:"danger"`
	Liquidation float64 `json:"liquidation"`
}

// Result 单个账户的评估结果
// Err 不为空时其余字段无意义
type Result struct {
	Trader         string                    `json:"trader"`
	Symbol         string                    `json:"symbol"`
	Account        margin.MarginAccountState `json:"account"`
	Prices         margin.IndexPrices        `json:"prices"`
	IsMarketClosed bool                      `json:"isMarketClosed"`
	RiskRatio      float64                   `json:"riskRatio"`
	Level          RiskLevel                 `json:"level"`
	WarningPrices  WarningPrices             `json:"warningPrices"`
	Err            error                     `json:"-"`
}

// Report 一批账户的评估结果, 顺序与输入一致
type Report struct {
	Results []Result          `json:"results"`
	Failed  int               `json:"failed"`
	Levels  map[RiskLevel]int `json:"levels"`
}

// AtRisk 等级 >= min 的账户
func (r Report) AtRisk(min RiskLevel) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err == nil && res.Level >= min {
			out = append(out, res)
		}
	}
	return out
}
