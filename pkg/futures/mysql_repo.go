// 文件: pkg/futures/mysql_repo.go
// 合约规格 MySQL 存储实现
//
// 【设计】
// - 使用 GORM 作为 ORM
// - 主键为链上 perpetual id, 不自增
// - 所有操作带 context 支持超时控制

package futures

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 确保实现了接口
var _ ContractRepository = (*MySQLContractRepository)(nil)

// MySQLContractRepository MySQL 实现
type MySQLContractRepository struct {
	db *gorm.DB
}

// NewMySQLContractRepository 创建 MySQL 存储
func NewMySQLContractRepository(db *gorm.DB) *MySQLContractRepository {
	return &MySQLContractRepository{db: db}
}

// OpenMySQL 打开连接并迁移表结构
func OpenMySQL(dsn string, silent bool) (*gorm.DB, error) {
	cfg := &gorm.Config{TranslateError: true}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ContractSpec{}); err != nil {
		return nil, err
	}
	return db, nil
}

// TableName GORM 表名
func (ContractSpec) TableName() string {
	return "perpetual_specs"
}

// =============================================================================
// 接口实现
// =============================================================================

// Create 创建合约
func (r *MySQLContractRepository) Create(ctx context.Context, spec *ContractSpec) error {
	now := time.Now().UnixMilli()
	spec.CreatedAt = now
	spec.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(spec).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrSymbolExists
		}
		return err
	}
	return nil
}

// GetBySymbol 根据 symbol 查询
func (r *MySQLContractRepository) GetBySymbol(ctx context.Context, symbol string) (*ContractSpec, error) {
	return r.first(ctx, "symbol = ?", symbol)
}

// GetByID 根据 perpetual id 查询
func (r *MySQLContractRepository) GetByID(ctx context.Context, id uint32) (*ContractSpec, error) {
	return r.first(ctx, "perpetual_id = ?", id)
}

func (r *MySQLContractRepository) first(ctx context.Context, query string, arg any) (*ContractSpec, error) {
	var spec ContractSpec
	err := r.db.WithContext(ctx).
		Where(query, arg).
		First(&spec).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSymbolNotFound
		}
		return nil, err
	}
	return &spec, nil
}

// Update 更新合约
func (r *MySQLContractRepository) Update(ctx context.Context, spec *ContractSpec) error {
	spec.UpdatedAt = time.Now().UnixMilli()

	result := r.db.WithContext(ctx).
		Model(&ContractSpec{}).
		Where("symbol = ?", spec.Symbol).
		Updates(spec)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSymbolNotFound
	}
	return nil
}

// UpdateStatus 更新状态 (乐观锁: 当前状态必须是 from)
func (r *MySQLContractRepository) UpdateStatus(ctx context.Context, symbol string, from, to ContractStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ContractSpec{}).
		Where("symbol = ? AND status = ?", symbol, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSymbolNotFound
	}
	return nil
}

// List 列出未清算的合约
func (r *MySQLContractRepository) List(ctx context.Context) ([]*ContractSpec, error) {
	var specs []*ContractSpec
	err := r.db.WithContext(ctx).
		Where("status != ?", StatusCleared).
		Order("perpetual_id").
		Find(&specs).Error
	return specs, err
}

// ListByStatus 按状态查询
func (r *MySQLContractRepository) ListByStatus(ctx context.Context, status ContractStatus) ([]*ContractSpec, error) {
	var specs []*ContractSpec
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("perpetual_id").
		Find(&specs).Error
	return specs, err
}

// Delete 下架
func (r *MySQLContractRepository) Delete(ctx context.Context, symbol string) error {
	return r.UpdateStatus(ctx, symbol, StatusEmergency, StatusCleared)
}

// isDuplicateKeyError 判断是否为重复键错误
// TranslateError 打开时 GORM 会转成 ErrDuplicatedKey, 否则看 MySQL 1062
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "Duplicate entry") || strings.Contains(s, "1062")
}
