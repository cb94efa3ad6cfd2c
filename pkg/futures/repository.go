// 文件: pkg/futures/repository.go
// 合约规格存储接口
//
// 【实现】
// - MySQLContractRepository:  GORM
// - CachedContractRepository: Redis 缓存装饰器
// - MemoryContractRepository: 内存 / YAML 快照, 离线计算和测试用

package futures

import "context"

// ContractRepository 合约规格存储接口
type ContractRepository interface {
	// Create 创建合约
	// 如果 symbol 或 id 已存在，返回 ErrSymbolExists
	Create(ctx context.Context, spec *ContractSpec) error

	// GetBySymbol 根据 symbol 查询
	// 不存在返回 ErrSymbolNotFound
	GetBySymbol(ctx context.Context, symbol string) (*ContractSpec, error)

	// GetByID 根据链上 perpetual id 查询
	GetByID(ctx context.Context, id uint32) (*ContractSpec, error)

	// Update 更新合约参数 (根据 Symbol)
	Update(ctx context.Context, spec *ContractSpec) error

	// UpdateStatus 状态迁移, 当前状态必须为 from
	UpdateStatus(ctx context.Context, symbol string, from, to ContractStatus) error

	// List 列出未清算的合约
	List(ctx context.Context) ([]*ContractSpec, error)

	// ListByStatus 按状态查询
	ListByStatus(ctx context.Context, status ContractStatus) ([]*ContractSpec, error)

	// Delete 下架 (EMERGENCY -> CLEARED)
	Delete(ctx context.Context, symbol string) error
}
