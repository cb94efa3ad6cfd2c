// 文件: pkg/snapshot/repo_integration_test.go
// 需要本地 MySQL (3307), 连不上时跳过

package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testDSN = "root:123456@tcp(127.0.0.1:3307)/d8x_risk?charset=utf8mb4&parseTime=True&loc=Local"

func setupRepo(t *testing.T) *MySQLRepository {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("mysql not available: %v", err)
	}
	repo, err := NewMySQLRepository(db)
	require.NoError(t, err)
	db.Exec("DELETE FROM margin_accounts WHERE trader LIKE ?", "0xtest%")
	return repo
}

func TestMySQLRepository_Upsert(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	ratio := 0.35
	lvg := 7.0
	rec := &AccountRecord{
		Trader: "0xtest-a", PerpetualID: 100001, Symbol: "BTC-USD-USD", Side: "BUY",
		PositionBC: 1, EntryPrice: 20000, Leverage: &lvg, MarkPrice: 21000,
		CollateralCC: 2000, RiskRatio: &ratio, Level: "SAFE", BlockNumber: 1,
	}
	require.NoError(t, repo.UpsertAccounts(ctx, []*AccountRecord{rec}))

	// 同一账户再次写入覆盖
	under := *rec
	under.ID = 0
	under.Leverage = nil
	under.RiskRatio = nil
	under.Level = "LIQUIDATE"
	under.BlockNumber = 2
	require.NoError(t, repo.UpsertAccounts(ctx, []*AccountRecord{&under}))

	got, err := repo.Get(ctx, "0xtest-a", 100001)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "LIQUIDATE", got.Level)
	assert.Nil(t, got.Leverage)
	assert.Equal(t, uint64(2), got.BlockNumber)

	list, err := repo.ListByLevel(ctx, "LIQUIDATE", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	missing, err := repo.Get(ctx, "0xtest-none", 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
