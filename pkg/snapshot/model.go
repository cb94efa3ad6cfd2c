// 文件: pkg/snapshot/model.go
// 账户快照 - 存储模型
//
// 每个 trader + perpetual 一行, 只保留最新状态。
// 杠杆 / 风险率为 +Inf 时存 NULL。

package snapshot

import (
	"math"
	"strconv"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/event"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/risk"
)

// AccountRecord 账户快照 (margin_accounts)
type AccountRecord struct {
	ID                 int64    `gorm:"primaryKey;autoIncrement"`
	Trader             string   `gorm:"type:varchar(64);not null;uniqueIndex:uk_trader_perp,priority:1"`
	PerpetualID        uint32   `gorm:"not null;uniqueIndex:uk_trader_perp,priority:2"`
	Symbol             string   `gorm:"type:varchar(32);not null;index"`
	Side               string   `gorm:"type:varchar(8);not null"`
	PositionBC         float64  `gorm:"not null"`
	EntryPrice         float64  `gorm:"not null"`
	Leverage           *float64 ``
	MarkPrice          float64  `gorm:"not null"`
	UnrealizedPnlQC    float64  `gorm:"column:unrealized_pnl_qc;not null"`
	CollateralCC       float64  `gorm:"column:collateral_cc;not null"`
	LiquidationPriceS2 float64  `gorm:"column:liquidation_price_s2;not null"`
	LiquidationPriceS3 float64  `gorm:"column:liquidation_price_s3;not null"`
	RiskRatio          *float64 ``
	Level              string   `gorm:"type:varchar(16);not null;index"`
	IsMarketClosed     bool     `gorm:"not null"`
	BlockNumber        uint64   `gorm:"not null"`
	EventID            int64    `gorm:"not null"`
	UpdatedAt          int64    `gorm:"autoUpdateTime:milli"`
}

func (AccountRecord) TableName() string {
	return "margin_accounts"
}

// Key trader:perpetual_id
func (r *AccountRecord) Key() string {
	return r.Trader + ":" + strconv.FormatUint(uint64(r.PerpetualID), 10)
}

// RecordFromEvent 账户事件 -> 存储模型
func RecordFromEvent(ev *event.MarginAccountEvent) *AccountRecord {
	acct := ev.Account.State()
	ratio := risk.RiskRatio(acct)

	rec := &AccountRecord{
		Trader:             ev.Trader,
		PerpetualID:        ev.PerpetualID,
		Symbol:             acct.Symbol,
		Side:               string(acct.Side),
		PositionBC:         acct.PositionNotionalBaseCCY,
		EntryPrice:         acct.EntryPrice,
		Leverage:           ev.Account.Leverage,
		MarkPrice:          acct.MarkPrice,
		UnrealizedPnlQC:    acct.UnrealizedPnlQuoteCCY,
		CollateralCC:       acct.CollateralCC,
		LiquidationPriceS2: acct.LiquidationPrice.S2,
		LiquidationPriceS3: acct.LiquidationPrice.S3,
		Level:              risk.LevelOf(ratio).String(),
		IsMarketClosed:     ev.IsMarketClosed,
		BlockNumber:        ev.BlockNumber,
		EventID:            ev.ID,
	}
	if !math.IsInf(ratio, 1) {
		rec.RiskRatio = &ratio
	}
	return rec
}
