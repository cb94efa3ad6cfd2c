// 文件: pkg/futures/spec.go
// 永续合约静态规格
//
// 设计目标:
// 1. 存储层用 decimal 列保存费率 / 手数, 不丢精度
// 2. 计算层只拿 margin.PerpetualStaticParams (float64, 不可变值)
// 3. 规格上线后只改状态, 参数变更走 UpdateRiskParams

package futures

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

// =============================================================================
// 合约状态 (与链上 perpetual state 对应)
// =============================================================================

// ContractStatus 合约状态
type ContractStatus int8

const (
	StatusInitializing ContractStatus = iota // 待上线
	StatusNormal                             // 正常交易
	StatusEmergency                          // 紧急状态, 只能平仓
	StatusSettle                             // 结算中
	StatusCleared                            // 已清算下架
)

func (s ContractStatus) String() string {
	switch s {
	case StatusInitializing:
		return "INITIALIZING"
	case StatusNormal:
		return "NORMAL"
	case StatusEmergency:
		return "EMERGENCY"
	case StatusSettle:
		return "SETTLE"
	case StatusCleared:
		return "CLEARED"
	default:
		return "UNKNOWN"
	}
}

// ParseContractStatus 配置文件中的文本形式
func ParseContractStatus(s string) (ContractStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INITIALIZING", "":
		return StatusInitializing, true
	case "NORMAL":
		return StatusNormal, true
	case "EMERGENCY":
		return StatusEmergency, true
	case "SETTLE":
		return StatusSettle, true
	case "CLEARED":
		return StatusCleared, true
	}
	return 0, false
}

// =============================================================================
// ContractSpec
// =============================================================================

// ContractSpec 永续合约规格
//
// Symbol 形如 BTC-USD-MATIC (base-quote-保证金币)
// S2Symbol 为指数价格交易对, S3Symbol 为保证金换算交易对
type ContractSpec struct {
	// ===== 主键 (链上 perpetual id) =====
	PerpetualID uint32 `gorm:"column:perpetual_id;primaryKey;autoIncrement:false" json:"perpetualId"`
	PoolID      uint32 `gorm:"column:pool_id;index" json:"poolId"`

	// ===== 标识 =====
	Symbol   string `gorm:"column:symbol;type:varchar(48);uniqueIndex" json:"symbol"`
	S2Symbol string `gorm:"column:s2_symbol;type:varchar(32)" json:"s2Symbol"`
	S3Symbol string `gorm:"column:s3_symbol;type:varchar(32)" json:"s3Symbol"`

	// ===== 保证金 =====
	CollateralCurrency    margin.CollateralCurrency `gorm:"column:collateral_currency" json:"collateralCurrency"`
	InitialMarginRate     decimal.Decimal           `gorm:"column:initial_margin_rate;type:decimal(36,18)" json:"initialMarginRate"`
	MaintenanceMarginRate decimal.Decimal           `gorm:"column:maintenance_margin_rate;type:decimal(36,18)" json:"maintenanceMarginRate"`

	// ===== 交易参数 =====
	LotSizeBC        decimal.Decimal `gorm:"column:lot_size_bc;type:decimal(36,18)" json:"lotSizeBC"`
	ReferralRebateCC decimal.Decimal `gorm:"column:referral_rebate_cc;type:decimal(36,18)" json:"referralRebateCC"`

	// ===== 价格源 =====
	PriceIDs []string `gorm:"column:price_ids;serializer:json" json:"priceIds"`

	// ===== 生命周期 =====
	Status    ContractStatus `gorm:"column:status;index" json:"status"`
	CreatedAt int64          `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt int64          `gorm:"column:updated_at" json:"updatedAt"`
}

// IsActive 是否有活跃账户 (未清算)
func (s *ContractSpec) IsActive() bool {
	return s.Status == StatusNormal || s.Status == StatusEmergency
}

// Params 转成计算层使用的不可变参数
func (s *ContractSpec) Params() margin.PerpetualStaticParams {
	return margin.PerpetualStaticParams{
		ID:                    s.PerpetualID,
		PoolID:                s.PoolID,
		Symbol:                s.Symbol,
		S2Symbol:              s.S2Symbol,
		S3Symbol:              s.S3Symbol,
		InitialMarginRate:     s.InitialMarginRate.InexactFloat64(),
		MaintenanceMarginRate: s.MaintenanceMarginRate.InexactFloat64(),
		LotSizeBC:             s.LotSizeBC.InexactFloat64(),
		ReferralRebateCC:      s.ReferralRebateCC.InexactFloat64(),
		CollateralCurrency:    s.CollateralCurrency,
	}
}

// SpecFromParams 由计算参数构造规格 (状态为待上线)
func SpecFromParams(p margin.PerpetualStaticParams) *ContractSpec {
	return &ContractSpec{
		PerpetualID:           p.ID,
		PoolID:                p.PoolID,
		Symbol:                p.Symbol,
		S2Symbol:              p.S2Symbol,
		S3Symbol:              p.S3Symbol,
		CollateralCurrency:    p.CollateralCurrency,
		InitialMarginRate:     decimal.NewFromFloat(p.InitialMarginRate),
		MaintenanceMarginRate: decimal.NewFromFloat(p.MaintenanceMarginRate),
		LotSizeBC:             decimal.NewFromFloat(p.LotSizeBC),
		ReferralRebateCC:      decimal.NewFromFloat(p.ReferralRebateCC),
		Status:                StatusInitializing,
	}
}
