// 文件: pkg/pricefeed/book.go
// 行情快照 - 各交易对的最新报价
//
// 【职责】
// 1. 存储行情源推送的最新价格
// 2. 按交易对批量查询 (实现 Source)
// 3. 超过 MaxAge 未更新的报价视为休市
//
// 【并发】
// 读多写少, RWMutex; 返回的都是副本

package pricefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/triangulation"
)

var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrInvalidQuote     = errors.New("invalid quote")
)

// Quote 单个交易对的报价
type Quote struct {
	Pair           string    `json:"pair"`
	Price          float64   `json:"price"`
	IsMarketClosed bool      `json:"isMarketClosed"`
	Timestamp      time.Time `json:"ts"`
}

// Source 行情源
// 缺失的交易对不出现在返回的 map 中
type Source interface {
	Quotes(ctx context.Context, pairs []string) (map[string]triangulation.PriceQuote, error)
}

// =============================================================================
// QuoteBook
// =============================================================================

var _ Source = (*QuoteBook)(nil)

// QuoteBook 内存行情快照
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration // 0 表示不检查
	now    func() time.Time

	// 价格更新回调
	onUpdate func(q Quote)
}

// NewQuoteBook 创建行情快照
func NewQuoteBook(maxAge time.Duration) *QuoteBook {
	return &QuoteBook{
		quotes: make(map[string]Quote),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// OnUpdate 设置更新回调, 在锁外调用
func (b *QuoteBook) OnUpdate(fn func(q Quote)) {
	b.onUpdate = fn
}

// Update 写入报价
// 时间戳为空时用当前时间; 比已有报价旧的丢弃
func (b *QuoteBook) Update(q Quote) error {
	if q.Pair == "" || q.Price <= 0 {
		return ErrInvalidQuote
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = b.now()
	}

	b.mu.Lock()
	if old, ok := b.quotes[q.Pair]; ok && old.Timestamp.After(q.Timestamp) {
		b.mu.Unlock()
		return nil
	}
	b.quotes[q.Pair] = q
	b.mu.Unlock()

	if b.onUpdate != nil {
		b.onUpdate(q)
	}
	return nil
}

// Get 单个报价
func (b *QuoteBook) Get(pair string) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[pair]
	if !ok {
		return Quote{}, false
	}
	q.IsMarketClosed = q.IsMarketClosed || b.stale(q)
	return q, true
}

// Quotes 实现 Source
func (b *QuoteBook) Quotes(_ context.Context, pairs []string) (map[string]triangulation.PriceQuote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]triangulation.PriceQuote, len(pairs))
	for _, p := range pairs {
		q, ok := b.quotes[p]
		if !ok {
			continue
		}
		out[p] = triangulation.PriceQuote{
			Price:          q.Price,
			IsMarketClosed: q.IsMarketClosed || b.stale(q),
		}
	}
	return out, nil
}

// Pairs 已有报价的交易对
func (b *QuoteBook) Pairs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.quotes))
	for p := range b.quotes {
		out = append(out, p)
	}
	return out
}

func (b *QuoteBook) stale(q Quote) bool {
	return b.maxAge > 0 && b.now().Sub(q.Timestamp) > b.maxAge
}
