// 文件: pkg/service/processor.go
// 保证金风控处理器

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/event"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/kafka"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/metrics"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/nats"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/pricefeed"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/projection"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/risk"
)

var (
	ErrAccountNotTracked = errors.New("account not tracked")
	ErrProcessorStopped  = errors.New("processor stopped")
)

// Registry 合约静态参数和 id 映射, futures.Registry 实现了它
type Registry interface {
	margin.ParamsLookup
	event.SymbolResolver
}

// EventSink 事件出口, kafka.Producer 实现了它
type EventSink interface {
	Send(msg kafka.Message) error
}

// Notifier 推送出口, nats.Publisher 实现了它
type Notifier interface {
	Publish(subject string, data any) error
}

// Config 批处理参数
type Config struct {
	BatchSize  int
	FlushEvery time.Duration
	QueueSize  int
}

// DefaultConfig 默认批处理参数
func DefaultConfig() Config {
	return Config{BatchSize: 256, FlushEvery: time.Second, QueueSize: 4096}
}

// =============================================================================
// Processor - 保证金风控处理器
// =============================================================================

// Processor 保证金风控处理器
//
// 【职责】
// 1. 入: trader-state 消息 → 解析合约和链上状态 → 入队
// 2. 批量: 攒够 BatchSize 或每隔 FlushEvery 交给风险引擎
// 3. 出: 账户快照写 Kafka (margin-account), 可选推 NATS
// 4. 推演: 基于最近一次账户状态推演下单 / 存取保证金
// 5. 重算: 行情变化后按最新价格重算已跟踪的账户
type Processor struct {
	registry Registry
	engine   *risk.Engine
	prices   risk.PriceResolver // 推演取价, 可为 nil
	index    *AccountIndex
	metrics  *metrics.Metrics
	logger   *zap.Logger

	sink     EventSink // Kafka (可选)
	notifier Notifier  // NATS (可选)

	cfg   Config
	queue chan event.TraderStateMessage
	done  chan struct{}
	now   func() time.Time

	// 入队持读锁, 停止时持写锁; 停止后不再有消息进入队列
	stopMu  sync.RWMutex
	stopped bool
}

// NewProcessor prices 可以为 nil, 此时推演使用账户上次评估时的价格
func NewProcessor(
	registry Registry,
	engine *risk.Engine,
	prices risk.PriceResolver,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = def.FlushEvery
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		registry: registry,
		engine:   engine,
		prices:   prices,
		index:    NewAccountIndex(),
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		queue:    make(chan event.TraderStateMessage, cfg.QueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// SetSink 设置 Kafka 出口
func (p *Processor) SetSink(sink EventSink) { p.sink = sink }

// SetNotifier 设置 NATS 出口
func (p *Processor) SetNotifier(n Notifier) { p.notifier = n }

// Index 账户索引 (只读使用)
func (p *Processor) Index() *AccountIndex { return p.index }

// =============================================================================
// 入口
// =============================================================================

// HandleMessage 实现 kafka.MessageHandler
func (p *Processor) HandleMessage(topic string, _ int32, _ int64, _, value []byte) error {
	if topic != event.TopicTraderState {
		return nil
	}
	msg, err := event.DecodeTraderState(value)
	if err != nil {
		p.metrics.AccountErrors.WithLabelValues("decode").Inc()
		return err
	}
	return p.Enqueue(context.Background(), *msg)
}

// Enqueue 入队, 队列满时阻塞到 ctx 结束
func (p *Processor) Enqueue(ctx context.Context, msg event.TraderStateMessage) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return ErrProcessorStopped
	}
	select {
	case p.queue <- msg:
		return nil
	case <-p.done:
		return ErrProcessorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop 唤醒阻塞的入队方, 等进行中的入队结束
func (p *Processor) stop() {
	close(p.done)
	p.stopMu.Lock()
	p.stopped = true
	p.stopMu.Unlock()
}

// Run 批处理循环, ctx 结束时处理完已入队的消息后返回
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]event.TraderStateMessage, 0, p.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if _, err := p.Process(ctx, batch); err != nil {
			p.logger.Warn("flush batch failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
			if len(batch) >= p.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			p.stop()
			// 排空队列
		drain:
			for {
				select {
				case msg := <-p.queue:
					batch = append(batch, msg)
				default:
					break drain
				}
			}
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(drainCtx)
			cancel()
			return nil
		}
	}
}

// =============================================================================
// 批量评估
// =============================================================================

// Process 解析并评估一批消息, 返回风险报告
//
// 解析失败的消息计入指标后跳过, 不出现在报告里
func (p *Processor) Process(ctx context.Context, msgs []event.TraderStateMessage) (risk.Report, error) {
	tracked := make([]Tracked, 0, len(msgs))
	for i := range msgs {
		t, err := p.decode(&msgs[i])
		if err != nil {
			p.metrics.AccountErrors.WithLabelValues(errorKind(err)).Inc()
			p.logger.Warn("skip trader state",
				zap.String("trader", msgs[i].Trader),
				zap.Uint32("perpetualId", msgs[i].PerpetualID),
				zap.Error(err))
			continue
		}
		tracked = append(tracked, t)
	}
	return p.evaluate(ctx, tracked)
}

// Reprice 按最新价格重算已跟踪的账户, symbols 为空时重算全部
func (p *Processor) Reprice(ctx context.Context, symbols ...string) (risk.Report, error) {
	var tracked []Tracked
	if len(symbols) == 0 {
		tracked = p.index.ByLevel(risk.RiskLevelSafe)
	} else {
		for _, s := range symbols {
			tracked = append(tracked, p.index.BySymbol(s)...)
		}
	}
	return p.evaluate(ctx, tracked)
}

func (p *Processor) decode(msg *event.TraderStateMessage) (Tracked, error) {
	symbol, raw, err := msg.Resolve(p.registry)
	if err != nil {
		return Tracked{}, err
	}
	params, err := p.registry.StaticParams(symbol)
	if err != nil {
		return Tracked{}, err
	}
	return Tracked{
		Trader:      msg.Trader,
		Symbol:      params.Symbol,
		PerpetualID: params.ID,
		Raw:         raw,
		BlockNumber: msg.BlockNumber,
	}, nil
}

func (p *Processor) evaluate(ctx context.Context, tracked []Tracked) (risk.Report, error) {
	if len(tracked) == 0 {
		return risk.Report{Levels: make(map[risk.RiskLevel]int)}, nil
	}
	entries := make([]risk.Entry, len(tracked))
	for i, t := range tracked {
		entries[i] = risk.Entry{Trader: t.Trader, Symbol: t.Symbol, Raw: t.Raw}
	}

	start := p.now()
	report, err := p.engine.Evaluate(ctx, entries)
	if err != nil {
		return risk.Report{}, err
	}
	p.metrics.ObserveEvaluation(start)

	ts := p.now().UnixMilli()
	updates := make([]Tracked, 0, len(tracked))
	for i, res := range report.Results {
		t := tracked[i]
		if res.Err != nil {
			p.metrics.AccountErrors.WithLabelValues(errorKind(res.Err)).Inc()
			if errorKind(res.Err) == "price" {
				p.metrics.PriceMisses.WithLabelValues(t.Symbol).Inc()
			}
			p.logger.Debug("evaluate account failed",
				zap.String("trader", t.Trader),
				zap.String("symbol", t.Symbol),
				zap.Error(res.Err))
			continue
		}
		t.Result = res
		updates = append(updates, t)

		p.metrics.AccountsBuilt.WithLabelValues(t.Symbol).Inc()
		p.metrics.RiskLevels.WithLabelValues(res.Level.String()).Inc()
		if res.Level >= risk.RiskLevelDanger {
			p.logger.Info("account at risk",
				zap.String("trader", t.Trader),
				zap.String("symbol", t.Symbol),
				zap.String("level", res.Level.String()),
				zap.Float64("riskRatio", res.RiskRatio))
		}

		ev := event.NewMarginAccountEvent(t.Trader, t.PerpetualID, res.Account, res.Prices, res.IsMarketClosed, ts)
		ev.BlockNumber = t.BlockNumber
		p.publish(ev, nats.SubjectAccount(t.Symbol))
	}
	p.index.BatchUpdate(updates, nil)
	return report, nil
}

// =============================================================================
// 推演
// =============================================================================

// ProjectTrade 推演一笔订单, 基于该账户最近一次评估的状态
func (p *Processor) ProjectTrade(
	ctx context.Context,
	trader string,
	order projection.Order,
	fees projection.TradeFees,
	bounds projection.TradeBounds,
) (projection.TradeProjection, error) {
	t, params, px, err := p.current(ctx, trader, order.Symbol)
	if err != nil {
		return projection.TradeProjection{}, err
	}
	order.Symbol = params.Symbol

	out, err := projection.ProjectTrade(t.Result.Account, order, params,
		projection.MarketPrices{S2: px.S2, S3: px.S3}, fees, bounds)
	if err != nil {
		return projection.TradeProjection{}, err
	}
	p.metrics.Projections.WithLabelValues(string(event.ProjectionTrade)).Inc()
	p.publish(event.NewTradeProjectionEvent(trader, order, out, p.now().UnixMilli()), "")
	return out, nil
}

// ProjectCollateral 推演存入 (delta > 0) 或取出 (delta < 0) 保证金
func (p *Processor) ProjectCollateral(ctx context.Context, trader, symbol string, delta float64) (margin.MarginAccountState, error) {
	t, params, px, err := p.current(ctx, trader, symbol)
	if err != nil {
		return margin.MarginAccountState{}, err
	}

	out, err := projection.ProjectCollateralAction(t.Result.Account, delta, params, px)
	if err != nil {
		return margin.MarginAccountState{}, err
	}
	p.metrics.Projections.WithLabelValues(string(event.ProjectionCollateral)).Inc()
	p.publish(event.NewCollateralProjectionEvent(trader, delta, out, p.now().UnixMilli()), "")
	return out, nil
}

// current 已跟踪账户 + 静态参数 + 推演用指数价格
func (p *Processor) current(ctx context.Context, trader, symbol string) (Tracked, margin.PerpetualStaticParams, margin.IndexPrices, error) {
	params, err := p.registry.StaticParams(symbol)
	if err != nil {
		return Tracked{}, margin.PerpetualStaticParams{}, margin.IndexPrices{}, err
	}
	t, ok := p.index.Get(trader, params.Symbol)
	if !ok {
		return Tracked{}, params, margin.IndexPrices{}, fmt.Errorf("%w: %s %s", ErrAccountNotTracked, trader, params.Symbol)
	}

	px := t.Result.Prices
	if p.prices != nil {
		fresh, _, err := p.prices.IndexPrices(ctx, params)
		if err == nil {
			px = fresh
		} else {
			p.logger.Debug("fall back to last evaluated prices",
				zap.String("symbol", params.Symbol), zap.Error(err))
		}
	}
	return t, params, px, nil
}

// =============================================================================
// 发布
// =============================================================================

func (p *Processor) publish(msg kafka.Message, subject string) {
	if p.sink != nil {
		if err := p.sink.Send(msg); err != nil {
			p.metrics.PublishErrors.WithLabelValues(msg.Topic()).Inc()
			p.logger.Warn("send event failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	}
	if p.notifier != nil && subject != "" {
		if err := p.notifier.Publish(subject, msg); err != nil {
			p.metrics.PublishErrors.WithLabelValues(subject).Inc()
			p.logger.Warn("notify failed", zap.String("subject", subject), zap.Error(err))
		}
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, margin.ErrPerpetualNotFound):
		return "unknown_perpetual"
	case errors.Is(err, margin.ErrInvalidTraderState):
		return "invalid_state"
	case errors.Is(err, event.ErrInvalidMessage):
		return "decode"
	case errors.Is(err, risk.ErrNoPrices), errors.Is(err, pricefeed.ErrPriceUnavailable):
		return "price"
	}
	return "other"
}
