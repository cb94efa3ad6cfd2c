package triangulation

import "sort"

// Table 一组目标交易对的换算路径, 构造后只读, 可并发使用
type Table struct {
	available []string
	paths     map[string]Path
}

// NewTable 对每个 required 交易对预先计算路径
// 重复的目标只计算一次
func NewTable(available, required []string) *Table {
	t := &Table{
		available: append([]string(nil), available...),
		paths:     make(map[string]Path, len(required)),
	}
	for _, pair := range required {
		if _, ok := t.paths[pair]; ok {
			continue
		}
		t.paths[pair] = Triangulate(t.available, pair)
	}
	return t
}

// Path 返回目标交易对的路径, 未登记的目标返回 false
func (t *Table) Path(pair string) (Path, bool) {
	p, ok := t.paths[pair]
	return p, ok
}

// Price 合成单个目标价格, 未登记的目标视为无路径
func (t *Table) Price(pair string, prices map[string]PriceQuote) (float64, bool) {
	return CalculateTriangulatedPrice(t.paths[pair], prices)
}

// Prices 合成全部目标价格
func (t *Table) Prices(prices map[string]PriceQuote) map[string]PriceQuote {
	out := make(map[string]PriceQuote, len(t.paths))
	for pair, p := range t.paths {
		px, closed := CalculateTriangulatedPrice(p, prices)
		out[pair] = PriceQuote{Price: px, IsMarketClosed: closed}
	}
	return out
}

// SourcePairs 所有路径用到的行情源交易对, 去重排序
// 行情订阅只需要这些
func (t *Table) SourcePairs() []string {
	seen := make(map[string]struct{})
	for _, p := range t.paths {
		for _, s := range p.Symbols {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Missing 找不到路径的目标, 排序后返回
func (t *Table) Missing() []string {
	var out []string
	for pair, p := range t.paths {
		if p.IsEmpty() {
			out = append(out, pair)
		}
	}
	sort.Strings(out)
	return out
}
