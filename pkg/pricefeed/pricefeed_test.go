package pricefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/triangulation"
)

// =============================================================================
// 测试辅助
// =============================================================================

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBook(maxAge time.Duration) (*QuoteBook, *time.Time) {
	now := t0
	b := NewQuoteBook(maxAge)
	b.now = func() time.Time { return now }
	return b, &now
}

type failingSource struct{}

func (failingSource) Quotes(context.Context, []string) (map[string]triangulation.PriceQuote, error) {
	return nil, errors.New("boom")
}

var quantoParams = margin.PerpetualStaticParams{
	ID:                 100001,
	Symbol:             "BTC-USDC-MATIC",
	S2Symbol:           "BTC-USDC",
	S3Symbol:           "MATIC-USDC",
	CollateralCurrency: margin.CollateralQuanto,
}

// =============================================================================
// 测试: QuoteBook
// =============================================================================

func TestQuoteBook_UpdateAndGet(t *testing.T) {
	b, _ := newTestBook(0)

	var updates []string
	b.OnUpdate(func(q Quote) { updates = append(updates, q.Pair) })

	require.NoError(t, b.Update(Quote{Pair: "BTC-USD", Price: 20000}))
	q, ok := b.Get("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 20000.0, q.Price)
	assert.Equal(t, t0, q.Timestamp)

	// 旧报价丢弃
	require.NoError(t, b.Update(Quote{Pair: "BTC-USD", Price: 19000, Timestamp: t0.Add(-time.Second)}))
	q, _ = b.Get("BTC-USD")
	assert.Equal(t, 20000.0, q.Price)
	assert.Equal(t, []string{"BTC-USD"}, updates)

	assert.ErrorIs(t, b.Update(Quote{Pair: "ETH-USD", Price: 0}), ErrInvalidQuote)
	assert.ErrorIs(t, b.Update(Quote{Price: 1}), ErrInvalidQuote)

	_, ok = b.Get("ETH-USD")
	assert.False(t, ok)
	assert.Equal(t, []string{"BTC-USD"}, b.Pairs())
}

func TestQuoteBook_Staleness(t *testing.T) {
	b, now := newTestBook(10 * time.Second)
	require.NoError(t, b.Update(Quote{Pair: "BTC-USD", Price: 20000}))

	quotes, err := b.Quotes(context.Background(), []string{"BTC-USD", "ETH-USD"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.False(t, quotes["BTC-USD"].IsMarketClosed)

	*now = t0.Add(11 * time.Second)
	quotes, _ = b.Quotes(context.Background(), []string{"BTC-USD"})
	assert.True(t, quotes["BTC-USD"].IsMarketClosed)

	q, _ := b.Get("BTC-USD")
	assert.True(t, q.IsMarketClosed)
}

// =============================================================================
// 测试: Resolver
// =============================================================================

func TestResolver_IndexPrices(t *testing.T) {
	b, _ := newTestBook(0)
	require.NoError(t, b.Update(Quote{Pair: "BTC-USD", Price: 20000}))
	require.NoError(t, b.Update(Quote{Pair: "USDC-USD", Price: 0.95}))
	require.NoError(t, b.Update(Quote{Pair: "MATIC-USD", Price: 0.76}))

	r := NewResolver(b,
		[]string{"BTC-USD", "USDC-USD", "MATIC-USD"},
		[]string{"BTC-USDC", "MATIC-USDC"})
	assert.Equal(t, []string{"BTC-USD", "MATIC-USD", "USDC-USD"}, r.SourcePairs())
	assert.Empty(t, r.Missing())

	px, closed, err := r.IndexPrices(context.Background(), quantoParams)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.InDelta(t, 21052.631578947, px.S2, 1e-6)
	assert.InDelta(t, 0.8, px.S3, 1e-12)

	all, err := r.Prices(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestResolver_Unavailable(t *testing.T) {
	b, _ := newTestBook(0)
	require.NoError(t, b.Update(Quote{Pair: "BTC-USD", Price: 20000}))

	// MATIC-USD 没有报价
	r := NewResolver(b,
		[]string{"BTC-USD", "USDC-USD", "MATIC-USD"},
		[]string{"BTC-USDC", "MATIC-USDC"})
	_, closed, err := r.IndexPrices(context.Background(), quantoParams)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assert.True(t, closed)

	// 行情源没有路径
	r = NewResolver(b, []string{"BTC-USD"}, []string{"DOGE-USD"})
	assert.Equal(t, []string{"DOGE-USD"}, r.Missing())

	// quote 保证金不需要 S3
	r = NewResolver(b, []string{"BTC-USD"}, []string{"BTC-USD"})
	px, _, err := r.IndexPrices(context.Background(), margin.PerpetualStaticParams{
		Symbol: "BTC-USD-USD", S2Symbol: "BTC-USD",
	})
	require.NoError(t, err)
	assert.Equal(t, 20000.0, px.S2)
	assert.Zero(t, px.S3)

	r = NewResolver(failingSource{}, []string{"BTC-USD"}, []string{"BTC-USD"})
	_, _, err = r.IndexPrices(context.Background(), margin.PerpetualStaticParams{S2Symbol: "BTC-USD"})
	assert.Error(t, err)
}

// =============================================================================
// 测试: NATS 消息处理 (不需要 NATS 服务)
// =============================================================================

func TestNATSFeed_Handle(t *testing.T) {
	b, _ := newTestBook(0)
	f := &NATSFeed{book: b, logger: zap.NewNop()}

	require.NoError(t, f.Handle("prices.BTC-USD", []byte(`{"price":21000.5}`)))
	q, ok := b.Get("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 21000.5, q.Price)

	require.NoError(t, f.Handle("prices.x", []byte(`{"pair":"ETH-USD","price":1500,"isMarketClosed":true}`)))
	q, ok = b.Get("ETH-USD")
	require.True(t, ok)
	assert.True(t, q.IsMarketClosed)

	assert.ErrorIs(t, f.Handle("prices.BTC-USD", []byte(`not json`)), ErrInvalidQuote)
	assert.ErrorIs(t, f.Handle("prices.BTC-USD", []byte(`{"price":-1}`)), ErrInvalidQuote)
	assert.ErrorIs(t, f.Handle("prices.", []byte(`{"price":1}`)), ErrInvalidQuote)
	assert.NoError(t, f.Close())
}
