// 文件: pkg/service/index.go
// 账户索引: 每个 trader:symbol 最近一次的原始状态和评估结果
//
// Copy-on-Write: 读无锁, 写复制整张表后原子替换。
// 读方 (推演 / 按价格重算) 远多于写方 (批量 flush)。

package service

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/risk"
)

// Tracked 索引中的一条记录
type Tracked struct {
	Trader      string
	Symbol      string
	PerpetualID uint32
	Raw         margin.RawTraderState
	BlockNumber uint64
	Result      risk.Result
}

// Key trader:symbol
func (t Tracked) Key() string { return accountKey(t.Trader, t.Symbol) }

func accountKey(trader, symbol string) string { return trader + ":" + symbol }

// AccountIndex 账户索引
type AccountIndex struct {
	data    atomic.Pointer[map[string]Tracked]
	writeMu sync.Mutex
}

// NewAccountIndex 创建空索引
func NewAccountIndex() *AccountIndex {
	idx := &AccountIndex{}
	empty := make(map[string]Tracked)
	idx.data.Store(&empty)
	return idx
}

// Get 无锁读取
func (idx *AccountIndex) Get(trader, symbol string) (Tracked, bool) {
	t, ok := (*idx.data.Load())[accountKey(trader, symbol)]
	return t, ok
}

// Len 账户数
func (idx *AccountIndex) Len() int { return len(*idx.data.Load()) }

// BatchUpdate 写入和删除, 读者要么看到旧表要么看到新表
//
// 同一账户区块号更小的状态不会覆盖已有状态
func (idx *AccountIndex) BatchUpdate(updates []Tracked, removes []string) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	old := idx.data.Load()
	next := make(map[string]Tracked, len(*old)+len(updates))
	for k, v := range *old {
		next[k] = v
	}
	for _, k := range removes {
		delete(next, k)
	}
	for _, t := range updates {
		key := t.Key()
		if prev, ok := next[key]; ok && t.BlockNumber != 0 && t.BlockNumber < prev.BlockNumber {
			continue
		}
		next[key] = t
	}
	idx.data.Store(&next)
}

// Set 单条写入
func (idx *AccountIndex) Set(t Tracked) { idx.BatchUpdate([]Tracked{t}, nil) }

// Remove 单条删除
func (idx *AccountIndex) Remove(trader, symbol string) {
	idx.BatchUpdate(nil, []string{accountKey(trader, symbol)})
}

// BySymbol 持有该合约的账户, 按 trader 排序
func (idx *AccountIndex) BySymbol(symbol string) []Tracked {
	var out []Tracked
	for _, t := range *idx.data.Load() {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sortTracked(out)
	return out
}

// ByLevel 最近一次评估等级 >= min 且评估成功的账户
func (idx *AccountIndex) ByLevel(min risk.RiskLevel) []Tracked {
	var out []Tracked
	for _, t := range *idx.data.Load() {
		if t.Result.Err == nil && t.Result.Level >= min {
			out = append(out, t)
		}
	}
	sortTracked(out)
	return out
}

// Counts 各等级账户数 (不含评估失败的)
func (idx *AccountIndex) Counts() map[risk.RiskLevel]int {
	counts := make(map[risk.RiskLevel]int)
	for _, t := range *idx.data.Load() {
		if t.Result.Err == nil {
			counts[t.Result.Level]++
		}
	}
	return counts
}

func sortTracked(ts []Tracked) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Symbol != ts[j].Symbol {
			return ts[i].Symbol < ts[j].Symbol
		}
		return ts[i].Trader < ts[j].Trader
	})
}
