package margin

import "fmt"

// ParamsLookup 按合约名查询静态参数
type ParamsLookup interface {
	StaticParams(symbol string) (PerpetualStaticParams, error)
}

// ParamsTable 内存中的参数表, 适合测试和离线计算
type ParamsTable map[string]PerpetualStaticParams

var _ ParamsLookup = ParamsTable(nil)

func (t ParamsTable) StaticParams(symbol string) (PerpetualStaticParams, error) {
	p, ok := t[symbol]
	if !ok {
		return PerpetualStaticParams{}, fmt.Errorf("%w: %s", ErrPerpetualNotFound, symbol)
	}
	return p, nil
}

// NewParamsTable 以 Symbol 为键建表
func NewParamsTable(params ...PerpetualStaticParams) ParamsTable {
	t := make(ParamsTable, len(params))
	for _, p := range params {
		t[p.Symbol] = p
	}
	return t
}
