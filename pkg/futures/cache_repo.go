// 文件: pkg/futures/cache_repo.go
// 合约规格 Redis 缓存层
//
// 【设计模式】装饰器模式 (Decorator Pattern)
// - 包装底层 Repository，透明添加缓存能力
// - 调用方无感知，只看到 ContractRepository 接口
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填
// - 写: 先写 DB，成功后删除缓存 (Cache Aside)

package futures

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ ContractRepository = (*CachedContractRepository)(nil)

// =============================================================================
// 缓存配置
// =============================================================================

const (
	cacheKeyPrefix = "perp:spec:"

	// 单个合约: perp:spec:symbol:{symbol}
	cacheKeySymbol = cacheKeyPrefix + "symbol:%s"

	// id -> symbol: perp:spec:id:{id}
	cacheKeyID = cacheKeyPrefix + "id:%d"

	// 正常交易列表: perp:spec:normal
	cacheKeyNormalList = cacheKeyPrefix + "normal"

	// 静态参数上线后基本不变
	cacheTTL = 24 * time.Hour

	// 列表可能有状态变化
	listCacheTTL = 5 * time.Minute
)

// CachedContractRepository Redis 缓存装饰器
type CachedContractRepository struct {
	repo  ContractRepository // 被装饰的底层 Repository
	redis *redis.Client
}

// NewCachedContractRepository 创建带缓存的 Repository
//
// 用法:
//
//	mysqlRepo := NewMySQLContractRepository(db)
//	cachedRepo := NewCachedContractRepository(mysqlRepo, redisClient)
//	registry, err := LoadRegistry(ctx, cachedRepo)
func NewCachedContractRepository(repo ContractRepository, rds *redis.Client) *CachedContractRepository {
	return &CachedContractRepository{
		repo:  repo,
		redis: rds,
	}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

// GetBySymbol 根据 symbol 查询 (带缓存)
func (r *CachedContractRepository) GetBySymbol(ctx context.Context, symbol string) (*ContractSpec, error) {
	cacheKey := fmt.Sprintf(cacheKeySymbol, symbol)

	// 1. 查缓存
	data, err := r.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var spec ContractSpec
		if json.Unmarshal(data, &spec) == nil {
			return &spec, nil
		}
	}

	// 2. Cache miss, 查底层
	spec, err := r.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存 (异步，不阻塞主流程)
	go r.setCache(context.Background(), spec)

	return spec, nil
}

// GetByID 先用 id 缓存换出 symbol, 再走 symbol 缓存
func (r *CachedContractRepository) GetByID(ctx context.Context, id uint32) (*ContractSpec, error) {
	symbol, err := r.redis.Get(ctx, fmt.Sprintf(cacheKeyID, id)).Result()
	if err == nil && symbol != "" {
		return r.GetBySymbol(ctx, symbol)
	}

	spec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	go r.setCache(context.Background(), spec)
	return spec, nil
}

// ListByStatus 按状态查询 (只缓存 NORMAL 列表)
func (r *CachedContractRepository) ListByStatus(ctx context.Context, status ContractStatus) ([]*ContractSpec, error) {
	if status != StatusNormal {
		return r.repo.ListByStatus(ctx, status)
	}

	data, err := r.redis.Get(ctx, cacheKeyNormalList).Bytes()
	if err == nil {
		var specs []*ContractSpec
		if json.Unmarshal(data, &specs) == nil {
			return specs, nil
		}
	}

	specs, err := r.repo.ListByStatus(ctx, StatusNormal)
	if err != nil {
		return nil, err
	}
	go r.setCacheList(context.Background(), cacheKeyNormalList, specs)
	return specs, nil
}

// List 不缓存
func (r *CachedContractRepository) List(ctx context.Context) ([]*ContractSpec, error) {
	return r.repo.List(ctx)
}

// =============================================================================
// 写操作 (写穿 + 删缓存)
// =============================================================================

func (r *CachedContractRepository) Create(ctx context.Context, spec *ContractSpec) error {
	if err := r.repo.Create(ctx, spec); err != nil {
		return err
	}
	r.invalidateListCache(ctx)
	return nil
}

func (r *CachedContractRepository) Update(ctx context.Context, spec *ContractSpec) error {
	if err := r.repo.Update(ctx, spec); err != nil {
		return err
	}
	r.invalidateCache(ctx, spec.Symbol)
	return nil
}

func (r *CachedContractRepository) UpdateStatus(ctx context.Context, symbol string, from, to ContractStatus) error {
	if err := r.repo.UpdateStatus(ctx, symbol, from, to); err != nil {
		return err
	}
	r.invalidateCache(ctx, symbol)
	return nil
}

func (r *CachedContractRepository) Delete(ctx context.Context, symbol string) error {
	if err := r.repo.Delete(ctx, symbol); err != nil {
		return err
	}
	r.invalidateCache(ctx, symbol)
	return nil
}

// =============================================================================
// 缓存操作
// =============================================================================

func (r *CachedContractRepository) setCache(ctx context.Context, spec *ContractSpec) {
	data, err := json.Marshal(spec)
	if err != nil {
		return
	}
	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(cacheKeySymbol, spec.Symbol), data, cacheTTL)
	pipe.Set(ctx, fmt.Sprintf(cacheKeyID, spec.PerpetualID), spec.Symbol, cacheTTL)
	_, _ = pipe.Exec(ctx)
}

func (r *CachedContractRepository) setCacheList(ctx context.Context, key string, specs []*ContractSpec) {
	data, err := json.Marshal(specs)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, listCacheTTL)
}

// invalidateCache 删除指定合约的缓存 (id 映射不变, 保留)
func (r *CachedContractRepository) invalidateCache(ctx context.Context, symbol string) {
	r.redis.Del(ctx, fmt.Sprintf(cacheKeySymbol, symbol))
	r.invalidateListCache(ctx)
}

func (r *CachedContractRepository) invalidateListCache(ctx context.Context) {
	r.redis.Del(ctx, cacheKeyNormalList)
}
