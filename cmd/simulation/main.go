// 文件: cmd/simulation/main.go
// 离线压力演练
//
// 读合约元数据快照, 构造几个账户, 让 S2 随机游走后暴跌,
// 每一步重新生成链上状态并走一遍 行情 → 三角换算 → 风险引擎,
// 打印风险等级变化。不需要 Kafka / NATS / MySQL。

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/event"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/futures"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/logger"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/metrics"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/pricefeed"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/risk"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/service"
)

// =============================================================================
// 模拟账户
// =============================================================================

// simAccount 模拟账户: 现金 (保证金币) + 仓位 (base) + 开仓价
type simAccount struct {
	Trader string
	Cash   float64
	Pos    float64
	Entry  float64
}

var accounts = []simAccount{
	{Trader: "0x01-conservative", Cash: 20000, Pos: 0.5, Entry: 20000},
	{Trader: "0x02-moderate", Cash: 5000, Pos: 1, Entry: 20000},
	{Trader: "0x03-aggressive", Cash: 1800, Pos: 1, Entry: 20000},
	{Trader: "0x04-short", Cash: 3000, Pos: -1, Entry: 20000},
}

// rawState 按当前价格生成链上状态
func rawState(a simAccount, mark, s2, s3 float64) ([]string, error) {
	raw := make(margin.RawTraderState, margin.TraderStateLen)
	values := map[int]float64{
		margin.IdxAvailableCashCC: a.Cash,
		margin.IdxCashCC:          a.Cash,
		margin.IdxPositionBC:      a.Pos,
		margin.IdxLockedInValueQC: a.Pos * a.Entry,
		margin.IdxMarkPrice:       mark,
		margin.IdxCollToQuoteS3:   s3,
		margin.IdxIndexS2:         s2,
	}
	for idx, v := range values {
		f, err := fixedpoint.FloatToFixed64x64(v)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", idx, err)
		}
		raw[idx] = f
	}
	return raw.Strings(), nil
}

func main() {
	metadata := flag.String("metadata", "config/perpetuals.yml", "perpetual metadata snapshot")
	symbol := flag.String("symbol", "BTC-USD-MATIC", "perpetual to simulate")
	steps := flag.Int("steps", 40, "price steps")
	crash := flag.Float64("crash", 0.15, "drop applied after half of the steps")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	log, err := logger.New("info", "development")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := simulate(context.Background(), log, *metadata, *symbol, *steps, *crash, *seed); err != nil {
		log.Fatal("simulation failed", zap.Error(err))
	}
}

func simulate(ctx context.Context, log *zap.Logger, metadata, symbol string, steps int, crash float64, seed int64) error {
	// 1. 元数据
	repo := futures.NewMemoryContractRepository()
	if _, err := repo.LoadYAML(ctx, metadata); err != nil {
		return err
	}
	registry, err := futures.LoadRegistry(ctx, repo)
	if err != nil {
		return err
	}
	params, err := registry.StaticParams(symbol)
	if err != nil {
		return err
	}
	log.Info("simulating",
		zap.String("symbol", params.Symbol),
		zap.String("collateral", params.CollateralCurrency.String()),
		zap.Float64("maintenanceMarginRate", params.MaintenanceMarginRate))

	// 2. 行情
	book := pricefeed.NewQuoteBook(time.Minute)
	available := []string{params.S2Symbol}
	if params.S3Symbol != "" {
		available = append(available, params.S3Symbol)
	}
	resolver := pricefeed.NewResolver(book, available, registry.RequiredPairs())

	// 3. 引擎 + 处理器
	m := metrics.New()
	engine := risk.NewEngine(registry, resolver)
	proc := service.NewProcessor(registry, engine, resolver, m, service.DefaultConfig(), log)

	rng := rand.New(rand.NewSource(seed))
	s2 := accounts[0].Entry
	s3 := 0.8
	if params.S3Symbol == "" {
		s3 = 1
	}
	if params.CollateralCurrency == margin.CollateralBase {
		s3 = s2
	}

	last := make(map[string]risk.RiskLevel, len(accounts))
	for step := 0; step < steps; step++ {
		// 随机游走, 过半后暴跌
		s2 *= 1 + (rng.Float64()-0.5)*0.01
		if step == steps/2 {
			s2 *= 1 - crash
			log.Warn("price crash", zap.Int("step", step), zap.Float64("s2", s2))
		}
		if params.CollateralCurrency == margin.CollateralBase {
			s3 = s2
		}

		now := time.Now()
		if err := book.Update(pricefeed.Quote{Pair: params.S2Symbol, Price: s2, Timestamp: now}); err != nil {
			return err
		}
		if params.S3Symbol != "" {
			if err := book.Update(pricefeed.Quote{Pair: params.S3Symbol, Price: s3, Timestamp: now}); err != nil {
				return err
			}
		}

		msgs := make([]event.TraderStateMessage, 0, len(accounts))
		for _, a := range accounts {
			fields, err := rawState(a, s2, s2, s3)
			if err != nil {
				return err
			}
			msgs = append(msgs, event.TraderStateMessage{
				PerpetualID: params.ID,
				Trader:      a.Trader,
				Fields:      fields,
				BlockNumber: uint64(step + 1),
				Timestamp:   now.UnixMilli(),
			})
		}

		report, err := proc.Process(ctx, msgs)
		if err != nil {
			return err
		}
		for _, res := range report.Results {
			if res.Err != nil {
				log.Warn("evaluate failed", zap.String("trader", res.Trader), zap.Error(res.Err))
				continue
			}
			if prev, ok := last[res.Trader]; ok && prev == res.Level {
				continue
			}
			last[res.Trader] = res.Level
			log.Info("risk level",
				zap.Int("step", step),
				zap.String("trader", res.Trader),
				zap.String("level", res.Level.String()),
				zap.Float64("s2", s2),
				zap.Float64("riskRatio", res.RiskRatio),
				zap.Float64("liquidationPrice", res.WarningPrices.Liquidation))
		}
	}

	// 4. 汇总
	counts := proc.Index().Counts()
	var b strings.Builder
	for _, lvl := range []risk.RiskLevel{risk.RiskLevelSafe, risk.RiskLevelWarning, risk.RiskLevelDanger, risk.RiskLevelLiquidate} {
		fmt.Fprintf(&b, "%s=%d ", lvl, counts[lvl])
	}
	log.Info("simulation finished", zap.String("levels", strings.TrimSpace(b.String())), zap.Float64("s2", s2))

	// 推演: 给最危险的账户补保证金
	for _, t := range proc.Index().ByLevel(risk.RiskLevelDanger) {
		after, err := proc.ProjectCollateral(ctx, t.Trader, t.Symbol, t.Result.Account.CollateralCC)
		if err != nil {
			log.Warn("projection failed", zap.String("trader", t.Trader), zap.Error(err))
			continue
		}
		log.Info("deposit projection",
			zap.String("trader", t.Trader),
			zap.Float64("deposit", t.Result.Account.CollateralCC),
			zap.Float64("riskRatio", risk.RiskRatio(after)))
	}
	return nil
}
