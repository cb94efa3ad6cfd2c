// 文件: pkg/snapshot/repo.go
// 账户快照 - MySQL 仓库 (GORM)

package snapshot

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 快照写入接口
type Store interface {
	UpsertAccounts(ctx context.Context, records []*AccountRecord) error
}

var _ Store = (*MySQLRepository)(nil)

// MySQLRepository 快照仓库
type MySQLRepository struct {
	db *gorm.DB
}

// NewMySQLRepository 创建仓库并建表
func NewMySQLRepository(db *gorm.DB) (*MySQLRepository, error) {
	if err := db.AutoMigrate(&AccountRecord{}); err != nil {
		return nil, err
	}
	return &MySQLRepository{db: db}, nil
}

// upsertColumns 冲突时覆盖的列
var upsertColumns = []string{
	"symbol", "side", "position_bc", "entry_price", "leverage", "mark_price",
	"unrealized_pnl_qc", "collateral_cc", "liquidation_price_s2", "liquidation_price_s3",
	"risk_ratio", "level", "is_market_closed", "block_number", "event_id", "updated_at",
}

// UpsertAccounts 批量写入, (trader, perpetual_id) 冲突时覆盖
func (r *MySQLRepository) UpsertAccounts(ctx context.Context, records []*AccountRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trader"}, {Name: "perpetual_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		CreateInBatches(records, 200).Error
}

// Get 单个账户, 不存在返回 nil
func (r *MySQLRepository) Get(ctx context.Context, trader string, perpetualID uint32) (*AccountRecord, error) {
	var rec AccountRecord
	err := r.db.WithContext(ctx).
		Where("trader = ? AND perpetual_id = ?", trader, perpetualID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByLevel 指定等级的账户, 风险率从高到低 (NULL 即 +Inf 排最前)
func (r *MySQLRepository) ListByLevel(ctx context.Context, level string, limit int) ([]*AccountRecord, error) {
	var recs []*AccountRecord
	q := r.db.WithContext(ctx).
		Where("level = ?", level).
		Order("risk_ratio IS NOT NULL, risk_ratio DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&recs).Error
	return recs, err
}
