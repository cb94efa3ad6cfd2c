// 文件: pkg/futures/manager.go
// 合约规格管理器 - 业务逻辑层
//
// 【职责】
// 1. 参数验证
// 2. 业务规则校验 (状态机)
// 3. 调用 Repository 完成存储
// 4. 不关心底层是 MySQL / Redis / 内存

package futures

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrSymbolExists      = errors.New("contract symbol already exists")
	ErrSymbolNotFound    = errors.New("contract symbol not found")
	ErrInvalidSpec       = errors.New("invalid contract specification")
	ErrContractNotActive = errors.New("contract is not active for trading")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// ContractManager - 合约管理器
// =============================================================================

// ContractManager 合约规格管理器
//
// 【设计】只依赖 ContractRepository 接口
// - 可以传入 MySQLContractRepository (无缓存)
// - 可以传入 CachedContractRepository (有缓存)
// - 单元测试时传入 MemoryContractRepository
type ContractManager struct {
	repo ContractRepository
}

// NewContractManager 创建合约管理器
func NewContractManager(repo ContractRepository) *ContractManager {
	return &ContractManager{repo: repo}
}

// =============================================================================
// 创建合约
// =============================================================================

// CreateContractRequest 创建合约请求
type CreateContractRequest struct {
	PerpetualID uint32
	PoolID      uint32

	Symbol   string // BTC-USD-MATIC
	S2Symbol string // 为空时取 symbol 前两段
	S3Symbol string

	CollateralCurrency    string // QUOTE / BASE / QUANTO
	InitialMarginRate     decimal.Decimal
	MaintenanceMarginRate decimal.Decimal // 为空时取初始保证金率的一半
	LotSizeBC             decimal.Decimal
	ReferralRebateCC      decimal.Decimal

	PriceIDs []string
}

// CreateContract 创建新合约 (状态 INITIALIZING)
func (m *ContractManager) CreateContract(ctx context.Context, req *CreateContractRequest) (*ContractSpec, error) {
	// 1. 参数验证
	if err := ValidateCreateRequest(req); err != nil {
		return nil, err
	}
	ccy, err := parseCollateral(req.CollateralCurrency)
	if err != nil {
		return nil, err
	}

	// 2. 构建 Spec
	spec := &ContractSpec{
		PerpetualID:           req.PerpetualID,
		PoolID:                req.PoolID,
		Symbol:                req.Symbol,
		S2Symbol:              req.S2Symbol,
		S3Symbol:              req.S3Symbol,
		CollateralCurrency:    ccy,
		InitialMarginRate:     req.InitialMarginRate,
		MaintenanceMarginRate: req.MaintenanceMarginRate,
		LotSizeBC:             req.LotSizeBC,
		ReferralRebateCC:      req.ReferralRebateCC,
		PriceIDs:              req.PriceIDs,
		Status:                StatusInitializing,
	}
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	// 3. 保存
	if err := m.repo.Create(ctx, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// =============================================================================
// 查询合约
// =============================================================================

// GetContract 获取合约规格
func (m *ContractManager) GetContract(ctx context.Context, symbol string) (*ContractSpec, error) {
	return m.repo.GetBySymbol(ctx, symbol)
}

// GetTradingContracts 获取所有正常交易的合约
func (m *ContractManager) GetTradingContracts(ctx context.Context) ([]*ContractSpec, error) {
	return m.repo.ListByStatus(ctx, StatusNormal)
}

// GetAllContracts 获取所有未清算合约
func (m *ContractManager) GetAllContracts(ctx context.Context) ([]*ContractSpec, error) {
	return m.repo.List(ctx)
}

// =============================================================================
// 生命周期管理
//
//	INITIALIZING -> NORMAL -> EMERGENCY -> SETTLE -> CLEARED
//	                              \---------------> CLEARED (Delete)
// =============================================================================

// Activate 上线 (INITIALIZING -> NORMAL)
func (m *ContractManager) Activate(ctx context.Context, symbol string) error {
	return m.transition(ctx, symbol, StatusInitializing, StatusNormal)
}

// Emergency 紧急状态 (NORMAL -> EMERGENCY)
func (m *ContractManager) Emergency(ctx context.Context, symbol string) error {
	return m.transition(ctx, symbol, StatusNormal, StatusEmergency)
}

// StartSettlement 开始结算 (EMERGENCY -> SETTLE)
func (m *ContractManager) StartSettlement(ctx context.Context, symbol string) error {
	return m.transition(ctx, symbol, StatusEmergency, StatusSettle)
}

// FinishSettlement 结算完成 (SETTLE -> CLEARED)
func (m *ContractManager) FinishSettlement(ctx context.Context, symbol string) error {
	return m.transition(ctx, symbol, StatusSettle, StatusCleared)
}

// Delist 直接下架 (EMERGENCY -> CLEARED)
func (m *ContractManager) Delist(ctx context.Context, symbol string) error {
	spec, err := m.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if spec.Status != StatusEmergency {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, symbol, spec.Status)
	}
	return m.repo.Delete(ctx, symbol)
}

func (m *ContractManager) transition(ctx context.Context, symbol string, from, to ContractStatus) error {
	spec, err := m.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if spec.Status != from {
		return fmt.Errorf("%w: %s is %s, want %s", ErrInvalidTransition, symbol, spec.Status, from)
	}
	return m.repo.UpdateStatus(ctx, symbol, from, to)
}

// =============================================================================
// 更新合约参数
// =============================================================================

// UpdateRiskParams 更新保证金率
// 已清算的合约不允许修改
func (m *ContractManager) UpdateRiskParams(ctx context.Context, symbol string, initial, maintenance decimal.Decimal) error {
	spec, err := m.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if spec.Status == StatusCleared {
		return fmt.Errorf("%w: %s", ErrContractNotActive, symbol)
	}

	spec.InitialMarginRate = initial
	spec.MaintenanceMarginRate = maintenance
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	return m.repo.Update(ctx, spec)
}

func parseCollateral(s string) (margin.CollateralCurrency, error) {
	ccy, err := margin.ParseCollateralCurrency(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return ccy, nil
}
