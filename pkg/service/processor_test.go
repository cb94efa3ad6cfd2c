package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/event"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/futures"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/kafka"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/metrics"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/projection"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/risk"
)

// =============================================================================
// 测试替身
// =============================================================================

type recordingSink struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (s *recordingSink) Send(msg kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) byTopic(topic string) []kafka.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []kafka.Message
	for _, m := range s.msgs {
		if m.Topic() == topic {
			out = append(out, m)
		}
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *recordingNotifier) Publish(subject string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

type staticPrices struct {
	mu sync.Mutex
	px margin.IndexPrices
}

func (s *staticPrices) set(px margin.IndexPrices) {
	s.mu.Lock()
	s.px = px
	s.mu.Unlock()
}

func (s *staticPrices) IndexPrices(context.Context, margin.PerpetualStaticParams) (margin.IndexPrices, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.px, false, nil
}

// =============================================================================
// 工具
// =============================================================================

const (
	btcID = 100001
	ethID = 100002
)

// stateFields 链上状态文本: 可用现金 / 现金 / 持仓 / 锁定价值 / 标记价格
func stateFields(t *testing.T, avail, cash, pos, lockedIn, mark float64) []string {
	t.Helper()
	raw := make(margin.RawTraderState, margin.TraderStateLen)
	set := func(idx int, v float64) {
		f, err := fixedpoint.FloatToFixed64x64(v)
		require.NoError(t, err)
		raw[idx] = f
	}
	set(margin.IdxAvailableCashCC, avail)
	set(margin.IdxCashCC, cash)
	set(margin.IdxPositionBC, pos)
	set(margin.IdxLockedInValueQC, lockedIn)
	set(margin.IdxMarkPrice, mark)
	set(margin.IdxCollToQuoteS3, 1)
	set(margin.IdxIndexS2, mark)
	return raw.Strings()
}

type fixture struct {
	proc     *Processor
	sink     *recordingSink
	notifier *recordingNotifier
	prices   *staticPrices
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg, err := futures.NewRegistry(margin.PerpetualStaticParams{
		ID: btcID, PoolID: 1, Symbol: "BTC-USD-USD", S2Symbol: "BTC-USD",
		InitialMarginRate: 0.1, MaintenanceMarginRate: 0.05, LotSizeBC: 0.001,
		CollateralCurrency: margin.CollateralQuote,
	}, margin.PerpetualStaticParams{
		ID: ethID, PoolID: 2, Symbol: "ETH-USD-ETH", S2Symbol: "ETH-USD",
		InitialMarginRate: 0.1, MaintenanceMarginRate: 0.05, LotSizeBC: 0.01,
		CollateralCurrency: margin.CollateralBase,
	})
	require.NoError(t, err)

	prices := &staticPrices{px: margin.IndexPrices{S2: 21000}}
	m := metrics.New()
	engine := risk.NewEngine(reg, prices, risk.WithConcurrency(2))

	f := &fixture{
		proc:     NewProcessor(reg, engine, prices, m, cfg, nil),
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
		prices:   prices,
		metrics:  m,
	}
	f.proc.SetSink(f.sink)
	f.proc.SetNotifier(f.notifier)
	return f
}

// =============================================================================
// 批量评估
// =============================================================================

func TestProcess(t *testing.T) {
	f := newFixture(t, Config{})

	msgs := []event.TraderStateMessage{
		// 按 perpetual id 解析
		{PerpetualID: btcID, Trader: "0xsafe", Fields: stateFields(t, 2000, 2000, 1, 20000, 21000), BlockNumber: 10},
		// 按合约名解析, 已穿仓
		{Symbol: "BTC-USD-USD", Trader: "0xunder", Fields: stateFields(t, 100, 100, 1, 20000, 19000), BlockNumber: 10},
		{PerpetualID: 999, Trader: "0xunknown", Fields: stateFields(t, 1, 1, 1, 1, 1)},
		{PerpetualID: btcID, Trader: "0xshort", Fields: []string{"1", "2"}},
	}

	report, err := f.proc.Process(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, risk.RiskLevelSafe, report.Results[0].Level)
	assert.Equal(t, risk.RiskLevelLiquidate, report.Results[1].Level)

	// 出口
	events := f.sink.byTopic(event.TopicMarginAccount)
	require.Len(t, events, 2)
	first := events[0].(*event.MarginAccountEvent)
	assert.Equal(t, "0xsafe", first.Trader)
	assert.Equal(t, uint32(btcID), first.PerpetualID)
	assert.Equal(t, uint64(10), first.BlockNumber)
	assert.Equal(t, "0xsafe:BTC-USD-USD", first.Key())
	require.NotNil(t, first.Account.Leverage)
	assert.InDelta(t, 7, *first.Account.Leverage, 1e-9)

	assert.Equal(t, []string{"margin.account.BTC-USD-USD", "margin.account.BTC-USD-USD"}, f.notifier.subjects)

	// 索引
	assert.Equal(t, 2, f.proc.Index().Len())
	tracked, ok := f.proc.Index().Get("0xunder", "BTC-USD-USD")
	require.True(t, ok)
	assert.Equal(t, uint32(btcID), tracked.PerpetualID)

	// 指标
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.AccountsBuilt.WithLabelValues("BTC-USD-USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AccountErrors.WithLabelValues("unknown_perpetual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AccountErrors.WithLabelValues("invalid_state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RiskLevels.WithLabelValues("LIQUIDATE")))
}

func TestProcess_StaleBlockIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.proc.Process(ctx, []event.TraderStateMessage{
		{PerpetualID: btcID, Trader: "0xa", Fields: stateFields(t, 2000, 2000, 1, 20000, 21000), BlockNumber: 20},
	})
	require.NoError(t, err)
	_, err = f.proc.Process(ctx, []event.TraderStateMessage{
		{PerpetualID: btcID, Trader: "0xa", Fields: stateFields(t, 100, 100, 1, 20000, 21000), BlockNumber: 19},
	})
	require.NoError(t, err)

	tracked, ok := f.proc.Index().Get("0xa", "BTC-USD-USD")
	require.True(t, ok)
	assert.Equal(t, uint64(20), tracked.BlockNumber)
	assert.Equal(t, risk.RiskLevelSafe, tracked.Result.Level)
}

func TestReprice(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// base 保证金: 1 ETH 现金, 多 10 ETH, 开仓价 = 标记价格 = 2000
	// 杠杆 = 10*2000 / (2000*1) = 10, 风险率 0.5
	f.prices.set(margin.IndexPrices{S2: 2000})
	_, err := f.proc.Process(ctx, []event.TraderStateMessage{
		{PerpetualID: ethID, Trader: "0xa", Fields: stateFields(t, 1, 1, 10, 20000, 2000)},
		{PerpetualID: btcID, Trader: "0xb", Fields: stateFields(t, 2000, 2000, 1, 20000, 21000)},
	})
	require.NoError(t, err)
	tracked, _ := f.proc.Index().Get("0xa", "ETH-USD-ETH")
	assert.Equal(t, risk.RiskLevelSafe, tracked.Result.Level)
	assert.InDelta(t, 0.5, tracked.Result.RiskRatio, 1e-9)

	// 保证金币贬值: 杠杆 = 10*2000 / (900*1) ≈ 22.2
	f.prices.set(margin.IndexPrices{S2: 900})
	report, err := f.proc.Reprice(ctx, "ETH-USD-ETH")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	tracked, _ = f.proc.Index().Get("0xa", "ETH-USD-ETH")
	assert.Equal(t, risk.RiskLevelLiquidate, tracked.Result.Level)
	assert.Len(t, f.proc.Index().ByLevel(risk.RiskLevelDanger), 1)

	// 全量重算
	report, err = f.proc.Reprice(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)

	// 没有跟踪的账户
	report, err = f.proc.Reprice(ctx, "DOGE-USD-USD")
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}

// =============================================================================
// 入口 / 批处理循环
// =============================================================================

func TestHandleMessage(t *testing.T) {
	f := newFixture(t, Config{})

	assert.NoError(t, f.proc.HandleMessage("other-topic", 0, 0, nil, []byte("garbage")))
	assert.ErrorIs(t, f.proc.HandleMessage(event.TopicTraderState, 0, 0, nil, []byte("garbage")), event.ErrInvalidMessage)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AccountErrors.WithLabelValues("decode")))

	msg := event.TraderStateMessage{PerpetualID: btcID, Trader: "0xa", Fields: stateFields(t, 2000, 2000, 1, 20000, 21000)}
	data, err := msg.Value()
	require.NoError(t, err)
	require.NoError(t, f.proc.HandleMessage(event.TopicTraderState, 0, 1, []byte("0xa"), data))
	assert.Len(t, f.proc.queue, 1)
}

func TestRun_BatchAndDrain(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2, FlushEvery: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx) }()

	for _, trader := range []string{"0xa", "0xb", "0xc"} {
		require.NoError(t, f.proc.Enqueue(ctx, event.TraderStateMessage{
			PerpetualID: btcID, Trader: trader, Fields: stateFields(t, 2000, 2000, 1, 20000, 21000),
		}))
	}

	// 满 2 条触发一次 flush
	require.Eventually(t, func() bool { return f.proc.Index().Len() >= 2 }, time.Second, 5*time.Millisecond)

	// 关闭时处理剩余的 1 条
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, 3, f.proc.Index().Len())
	assert.ErrorIs(t, f.proc.Enqueue(context.Background(), event.TraderStateMessage{}), ErrProcessorStopped)
}

// 停止期间并发入队: 返回成功的消息都必须被处理
func TestRun_EnqueueDuringStop(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 16, FlushEvery: time.Hour, QueueSize: 8})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx) }()

	fields := stateFields(t, 2000, 2000, 1, 20000, 21000)
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				err := f.proc.Enqueue(context.Background(), event.TraderStateMessage{
					PerpetualID: btcID, Trader: fmt.Sprintf("0x%d-%d", w, i), Fields: fields,
				})
				if err != nil {
					assert.ErrorIs(t, err, ErrProcessorStopped)
					return
				}
				accepted.Add(1)
			}
		}(w)
	}

	require.Eventually(t, func() bool { return accepted.Load() >= 100 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	wg.Wait()

	assert.Equal(t, int(accepted.Load()), f.proc.Index().Len())
}

// =============================================================================
// 推演
// =============================================================================

func TestProjectCollateral(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.proc.ProjectCollateral(ctx, "0xa", "BTC-USD-USD", 100)
	assert.ErrorIs(t, err, ErrAccountNotTracked)
	_, err = f.proc.ProjectCollateral(ctx, "0xa", "DOGE-USD-USD", 100)
	assert.ErrorIs(t, err, margin.ErrPerpetualNotFound)

	_, err = f.proc.Process(ctx, []event.TraderStateMessage{
		{PerpetualID: btcID, Trader: "0xa", Fields: stateFields(t, 2000, 2000, 1, 20000, 21000)},
	})
	require.NoError(t, err)
	before, _ := f.proc.Index().Get("0xa", "BTC-USD-USD")

	after, err := f.proc.ProjectCollateral(ctx, "0xa", "BTC-USD-USD", 1000)
	require.NoError(t, err)
	assert.InDelta(t, before.Result.Account.CollateralCC+1000, after.CollateralCC, 1e-9)
	assert.Less(t, after.Leverage, before.Result.Account.Leverage)

	_, err = f.proc.ProjectCollateral(ctx, "0xa", "BTC-USD-USD", -1e9)
	assert.ErrorIs(t, err, projection.ErrInsufficientMargin)

	events := f.sink.byTopic(event.TopicProjection)
	require.Len(t, events, 1)
	assert.Equal(t, event.ProjectionCollateral, events[0].(*event.ProjectionEvent).Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Projections.WithLabelValues("COLLATERAL")))

	// 推演不改变索引
	unchanged, _ := f.proc.Index().Get("0xa", "BTC-USD-USD")
	assert.Equal(t, before.Result.Account.CollateralCC, unchanged.Result.Account.CollateralCC)
}

func TestProjectTrade(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.proc.Process(ctx, []event.TraderStateMessage{
		{PerpetualID: btcID, Trader: "0xa", Fields: stateFields(t, 2000, 2000, 1, 20000, 21000)},
	})
	require.NoError(t, err)

	out, err := f.proc.ProjectTrade(ctx, "0xa",
		projection.Order{Symbol: "BTC-USD-USD", Side: margin.SideBuy, Quantity: 0.5, Leverage: 5},
		projection.TradeFees{ExchangeFeeTbps: 60}, projection.TradeBounds{})
	require.NoError(t, err)
	assert.Equal(t, projection.TradeOpen, out.Kind)
	assert.InDelta(t, 0.5, out.TradeAmount, 1e-12)
	assert.InDelta(t, 1.5, out.Account.PositionNotionalBaseCCY, 1e-12)

	events := f.sink.byTopic(event.TopicProjection)
	require.Len(t, events, 1)
	ev := events[0].(*event.ProjectionEvent)
	assert.Equal(t, event.ProjectionTrade, ev.Kind)
	assert.Equal(t, "0xa:BTC-USD-USD", ev.Key())

	_, err = f.proc.ProjectTrade(ctx, "0xa",
		projection.Order{Symbol: "BTC-USD-USD", Side: "HOLD", Quantity: 1},
		projection.TradeFees{}, projection.TradeBounds{})
	assert.ErrorIs(t, err, projection.ErrInvalidOrder)
}
