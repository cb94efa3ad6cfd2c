// 文件: pkg/pricefeed/resolver.go
// 指数价格解析: 行情源报价 -> 三角换算 -> margin.IndexPrices

package pricefeed

import (
	"context"
	"fmt"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/triangulation"
)

// Resolver 合约指数价格解析器
// 构造时预先计算所有路径, 之后只读
type Resolver struct {
	source Source
	table  *triangulation.Table
}

// NewResolver available 为行情源实际提供的交易对, required 为合约需要的 S2/S3
func NewResolver(source Source, available, required []string) *Resolver {
	return &Resolver{
		source: source,
		table:  triangulation.NewTable(available, required),
	}
}

// SourcePairs 需要订阅的行情源交易对
func (r *Resolver) SourcePairs() []string { return r.table.SourcePairs() }

// Missing 找不到换算路径的交易对
func (r *Resolver) Missing() []string { return r.table.Missing() }

// Prices 所有目标交易对的合成价格
func (r *Resolver) Prices(ctx context.Context) (map[string]triangulation.PriceQuote, error) {
	quotes, err := r.source.Quotes(ctx, r.table.SourcePairs())
	if err != nil {
		return nil, err
	}
	return r.table.Prices(quotes), nil
}

// IndexPrices 合约的 S2 / S3
//
// 返回的 bool 为休市标记 (任一腿休市或报价过期)。
// S2 无法得出, 或 quanto 合约的 S3 无法得出, 返回 ErrPriceUnavailable。
func (r *Resolver) IndexPrices(ctx context.Context, params margin.PerpetualStaticParams) (margin.IndexPrices, bool, error) {
	pairs := []string{params.S2Symbol}
	if params.S3Symbol != "" {
		pairs = append(pairs, params.S3Symbol)
	}
	quotes, err := r.source.Quotes(ctx, r.sourcePairsFor(pairs))
	if err != nil {
		return margin.IndexPrices{}, true, err
	}

	var px margin.IndexPrices
	s2, closed := r.table.Price(params.S2Symbol, quotes)
	if s2 == triangulation.UnavailablePrice {
		return px, true, fmt.Errorf("%w: %s", ErrPriceUnavailable, params.S2Symbol)
	}
	px.S2 = s2

	if params.S3Symbol != "" {
		s3, closed3 := r.table.Price(params.S3Symbol, quotes)
		if s3 == triangulation.UnavailablePrice {
			if params.CollateralCurrency == margin.CollateralQuanto {
				return px, true, fmt.Errorf("%w: %s", ErrPriceUnavailable, params.S3Symbol)
			}
		} else {
			px.S3 = s3
			closed = closed || closed3
		}
	}
	return px, closed, nil
}

func (r *Resolver) sourcePairsFor(targets []string) []string {
	var out []string
	for _, t := range targets {
		if p, ok := r.table.Path(t); ok {
			out = append(out, p.Symbols...)
		}
	}
	return out
}
