// 文件: pkg/futures/repo_integration_test.go
// MySQL / Redis 存储集成测试
//
// 需要本地 MySQL (3307) 和 Redis (6379), 连不上时跳过

package futures

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

// =============================================================================
// 测试配置
// =============================================================================

const (
	testDSN      = "root:123456@tcp(127.0.0.1:3307)/d8x_risk?charset=utf8mb4&parseTime=True&loc=Local"
	testRedisURL = "localhost:6379"
)

// 测试合约 id 段, 清理时按范围删除
const testIDBase = 900000

// =============================================================================
// 测试辅助
// =============================================================================

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := OpenMySQL(testDSN, true)
	if err != nil {
		t.Skipf("mysql not available: %v", err)
	}
	db.Exec("DELETE FROM perpetual_specs WHERE perpetual_id >= ?", testIDBase)
	return db
}

func setupTestRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: testRedisURL})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return rdb
}

func testSpec(id uint32, symbol string) *ContractSpec {
	spec := SpecFromParams(testParams(id, symbol, symbol[:7], "", margin.CollateralQuote))
	spec.PriceIDs = []string{"0x01"}
	return spec
}

// =============================================================================
// 测试: MySQL
// =============================================================================

func TestMySQLContractRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMySQLContractRepository(db)
	ctx := context.Background()

	spec := testSpec(testIDBase+1, "TST-USD-USD")
	require.NoError(t, repo.Create(ctx, spec))

	// 重复
	err := repo.Create(ctx, testSpec(testIDBase+2, "TST-USD-USD"))
	assert.ErrorIs(t, err, ErrSymbolExists)

	got, err := repo.GetByID(ctx, testIDBase+1)
	require.NoError(t, err)
	assert.Equal(t, "TST-USD-USD", got.Symbol)
	assert.Equal(t, []string{"0x01"}, got.PriceIDs)
	assert.True(t, got.MaintenanceMarginRate.Equal(spec.MaintenanceMarginRate))

	_, err = repo.GetBySymbol(ctx, "NOPE-USD-USD")
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	// 状态迁移 (乐观锁)
	require.NoError(t, repo.UpdateStatus(ctx, "TST-USD-USD", StatusInitializing, StatusNormal))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "TST-USD-USD", StatusInitializing, StatusNormal), ErrSymbolNotFound)

	normal, err := repo.ListByStatus(ctx, StatusNormal)
	require.NoError(t, err)
	found := false
	for _, s := range normal {
		found = found || s.Symbol == "TST-USD-USD"
	}
	assert.True(t, found)

	require.NoError(t, repo.UpdateStatus(ctx, "TST-USD-USD", StatusNormal, StatusEmergency))
	require.NoError(t, repo.Delete(ctx, "TST-USD-USD"))

	got, err = repo.GetBySymbol(ctx, "TST-USD-USD")
	require.NoError(t, err)
	assert.Equal(t, StatusCleared, got.Status)
}

// =============================================================================
// 测试: Redis 缓存
// =============================================================================

func TestCachedContractRepository(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()
	rdb.Del(ctx, cacheKeyNormalList)

	// 底层用内存实现, 只验证缓存行为
	mem := NewMemoryContractRepository()
	repo := NewCachedContractRepository(mem, rdb)

	require.NoError(t, repo.Create(ctx, testSpec(testIDBase+10, "TSC-USD-USD")))
	require.NoError(t, repo.UpdateStatus(ctx, "TSC-USD-USD", StatusInitializing, StatusNormal))

	got, err := repo.GetByID(ctx, testIDBase+10)
	require.NoError(t, err)
	assert.Equal(t, "TSC-USD-USD", got.Symbol)

	// 等待异步回填
	require.Eventually(t, func() bool {
		return rdb.Exists(ctx, "perp:spec:symbol:TSC-USD-USD").Val() == 1
	}, time.Second, 10*time.Millisecond)

	// 写操作删缓存
	require.NoError(t, repo.UpdateStatus(ctx, "TSC-USD-USD", StatusNormal, StatusEmergency))
	assert.Equal(t, int64(0), rdb.Exists(ctx, "perp:spec:symbol:TSC-USD-USD").Val())

	got, err = repo.GetBySymbol(ctx, "TSC-USD-USD")
	require.NoError(t, err)
	assert.Equal(t, StatusEmergency, got.Status)

	rdb.Del(ctx, "perp:spec:symbol:TSC-USD-USD", "perp:spec:id:900010", cacheKeyNormalList)
}
