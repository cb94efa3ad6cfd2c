// 文件: pkg/triangulation/triangulator.go
// 价格三角换算
//
// 【场景】
// 行情源只报一部分交易对 (如 BTC-USD, USDC-USD),
// 需要的价格 (如 BTC-USDC) 通过链式乘除得到: BTC-USD / USDC-USD
//
// 【约定】
// - 交易对格式 "BASE-QUOTE"
// - 找不到路径或缺腿时返回 (-1, true), 不返回错误, 批量计算不中断

package triangulation

import (
	"slices"
	"strings"
)

// UnavailablePrice 无法得出价格时的哨兵值
const UnavailablePrice = -1.0

// PriceQuote 单个交易对的报价
type PriceQuote struct {
	Price          float64 `json:"price"`
	IsMarketClosed bool    `json:"isMarketClosed"`
}

// Path 换算路径
// Symbols[i] 是行情源中实际存在的交易对, Invert[i] 为 true 时该腿做除法
type Path struct {
	Symbols []string `json:"symbols"`
	Invert  []bool   `json:"invert"`
}

// Len 腿数
func (p Path) Len() int { return len(p.Symbols) }

// IsEmpty 无路径
func (p Path) IsEmpty() bool { return len(p.Symbols) == 0 }

func splitPair(pair string) (base, quote string) {
	base, quote, _ = strings.Cut(pair, "-")
	return base, quote
}

func joinPair(base, quote string) string {
	return base + "-" + quote
}

// FindPaths 枚举所有从 target 的 base 走到 quote 的路径
//
// 第 k 条边为 bases[k] -> quotes[k]。
// 每走一条边, 在剩余的边里去掉它本身以及它的反向边, 再递归搜索 quotes[k] -> quote。
// 返回顺序即遍历顺序。
func FindPaths(bases, quotes []string, target string) [][]string {
	base, quote := splitPair(target)

	var paths [][]string
	for k := range bases {
		if bases[k] != base {
			continue
		}
		edge := joinPair(bases[k], quotes[k])

		if quotes[k] == quote {
			paths = append(paths, []string{edge})
			continue
		}

		// 去掉已用的边和它的反向
		nextBases := make([]string, 0, len(bases))
		nextQuotes := make([]string, 0, len(quotes))
		for j := range bases {
			if j == k || joinPair(quotes[j], bases[j]) == edge {
				continue
			}
			nextBases = append(nextBases, bases[j])
			nextQuotes = append(nextQuotes, quotes[j])
		}

		for _, sub := range FindPaths(nextBases, nextQuotes, joinPair(quotes[k], quote)) {
			path := make([]string, 0, len(sub)+1)
			path = append(path, edge)
			path = append(path, sub...)
			paths = append(paths, path)
		}
	}
	return paths
}

// SelectShortestPath 取第一条最短路径, 长度为 1 时提前结束
// 同长度时按遍历顺序取先出现的
func SelectShortestPath(paths [][]string) []string {
	minIdx := -1
	for j, p := range paths {
		if minIdx < 0 || len(p) < len(paths[minIdx]) {
			minIdx = j
			if len(p) == 1 {
				break
			}
		}
	}
	if minIdx < 0 {
		return nil
	}
	return paths[minIdx]
}

// Triangulate 在可用交易对上求 target 的最短换算路径
//
// 搜索图包含每个可用交易对的正反两个方向 (正向在前)。
// 路径上的腿若原样存在于 available 中则直接使用, 否则使用反向交易对并标记 Invert。
func Triangulate(available []string, target string) Path {
	bases := make([]string, 0, 2*len(available))
	quotes := make([]string, 0, 2*len(available))
	for _, pair := range available {
		b, q := splitPair(pair)
		bases = append(bases, b)
		quotes = append(quotes, q)
	}
	// 追加反向边
	n := len(bases)
	bases = append(bases, quotes[:n]...)
	quotes = append(quotes, bases[:n]...)

	shortest := SelectShortestPath(FindPaths(bases, quotes, target))
	if len(shortest) == 0 {
		return Path{}
	}

	path := Path{
		Symbols: make([]string, 0, len(shortest)),
		Invert:  make([]bool, 0, len(shortest)),
	}
	for _, leg := range shortest {
		if slices.Contains(available, leg) {
			path.Symbols = append(path.Symbols, leg)
			path.Invert = append(path.Invert, false)
			continue
		}
		b, q := splitPair(leg)
		path.Symbols = append(path.Symbols, joinPair(q, b))
		path.Invert = append(path.Invert, true)
	}
	return path
}

// CalculateTriangulatedPrice 按路径合成价格
//
// 从 1.0 开始逐腿乘 (Invert=false) 或除 (Invert=true)。
// 任意一腿缺报价, 或路径为空, 返回 (UnavailablePrice, true)。
// 休市标记取各腿的逻辑或。
func CalculateTriangulatedPrice(path Path, prices map[string]PriceQuote) (float64, bool) {
	if path.IsEmpty() {
		return UnavailablePrice, true
	}

	px := 1.0
	closed := false
	for i, sym := range path.Symbols {
		q, ok := prices[sym]
		if !ok {
			return UnavailablePrice, true
		}
		if path.Invert[i] {
			px /= q.Price
		} else {
			px *= q.Price
		}
		closed = closed || q.IsMarketClosed
	}
	return px, closed
}
