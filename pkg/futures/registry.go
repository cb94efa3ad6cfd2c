// 文件: pkg/futures/registry.go
// 合约参数注册表 (只读快照)
//
// 【设计】
// - 启动时从 Repository 加载一次, 之后不可变, 多 goroutine 直接读
// - 参数变更 -> 重新 LoadRegistry, 调用方原子替换指针
// - 同时支持长名 (BTC-USD-MATIC) 和链上短名 (BTC-USD-MATC) 查询

package futures

import (
	"context"
	"fmt"
	"sort"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

var _ margin.ParamsLookup = (*Registry)(nil)

// Registry 合约静态参数注册表
type Registry struct {
	bySymbol   map[string]margin.PerpetualStaticParams
	short      map[string]string // 短名 -> 长名
	idToSymbol map[uint32]string
	symbolToID map[string]uint32
	symbols    []string
}

// NewRegistry 由参数列表构建注册表
// symbol 或 id 重复时报错
func NewRegistry(params ...margin.PerpetualStaticParams) (*Registry, error) {
	r := &Registry{
		bySymbol:   make(map[string]margin.PerpetualStaticParams, len(params)),
		short:      make(map[string]string, len(params)),
		idToSymbol: make(map[uint32]string, len(params)),
		symbolToID: make(map[string]uint32, len(params)),
		symbols:    make([]string, 0, len(params)),
	}
	for _, p := range params {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.bySymbol[p.Symbol]; ok {
			return nil, fmt.Errorf("%w: %s", ErrSymbolExists, p.Symbol)
		}
		if other, ok := r.idToSymbol[p.ID]; ok {
			return nil, fmt.Errorf("%w: id %d used by %s and %s", ErrSymbolExists, p.ID, other, p.Symbol)
		}
		r.bySymbol[p.Symbol] = p
		r.idToSymbol[p.ID] = p.Symbol
		r.symbolToID[p.Symbol] = p.ID
		r.symbols = append(r.symbols, p.Symbol)

		if s4, err := Bytes4Symbol(p.Symbol); err == nil && s4 != p.Symbol {
			r.short[s4] = p.Symbol
		}
	}
	sort.Strings(r.symbols)
	return r, nil
}

// LoadRegistry 加载正常交易和紧急状态的合约
// 紧急状态下仍有持仓需要计算
func LoadRegistry(ctx context.Context, repo ContractRepository) (*Registry, error) {
	specs, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	params := make([]margin.PerpetualStaticParams, 0, len(specs))
	for _, s := range specs {
		if !s.IsActive() {
			continue
		}
		params = append(params, s.Params())
	}
	return NewRegistry(params...)
}

// =============================================================================
// 查询
// =============================================================================

func (r *Registry) resolve(symbol string) string {
	if _, ok := r.bySymbol[symbol]; ok {
		return symbol
	}
	return r.short[symbol]
}

// StaticParams 实现 margin.ParamsLookup
func (r *Registry) StaticParams(symbol string) (margin.PerpetualStaticParams, error) {
	p, ok := r.bySymbol[r.resolve(symbol)]
	if !ok {
		return margin.PerpetualStaticParams{}, fmt.Errorf("%w: %s", margin.ErrPerpetualNotFound, symbol)
	}
	return p, nil
}

// SymbolByID perpetual id -> 长名
func (r *Registry) SymbolByID(id uint32) (string, bool) {
	s, ok := r.idToSymbol[id]
	return s, ok
}

// IDBySymbol 长名或短名 -> perpetual id
func (r *Registry) IDBySymbol(symbol string) (uint32, bool) {
	id, ok := r.symbolToID[r.resolve(symbol)]
	return id, ok
}

// Symbols 所有合约长名 (已排序)
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Len 合约数量
func (r *Registry) Len() int { return len(r.symbols) }

// RequiredPairs 计算保证金账户需要的指数价格对 (S2 + S3), 去重排序
func (r *Registry) RequiredPairs() []string {
	seen := make(map[string]struct{})
	for _, p := range r.bySymbol {
		seen[p.S2Symbol] = struct{}{}
		if p.S3Symbol != "" {
			seen[p.S3Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
