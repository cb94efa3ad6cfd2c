// 文件: pkg/futures/memory_repo.go
// 内存存储 + YAML 快照
//
// 离线计算 (cmd/simulation) 和单元测试不依赖 MySQL, 用这里的实现

package futures

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
)

var _ ContractRepository = (*MemoryContractRepository)(nil)

// MemoryContractRepository 内存实现, 并发安全
type MemoryContractRepository struct {
	mu       sync.RWMutex
	bySymbol map[string]*ContractSpec
	byID     map[uint32]string
}

// NewMemoryContractRepository 创建空的内存存储
func NewMemoryContractRepository() *MemoryContractRepository {
	return &MemoryContractRepository{
		bySymbol: make(map[string]*ContractSpec),
		byID:     make(map[uint32]string),
	}
}

func (r *MemoryContractRepository) Create(_ context.Context, spec *ContractSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySymbol[spec.Symbol]; ok {
		return ErrSymbolExists
	}
	if _, ok := r.byID[spec.PerpetualID]; ok {
		return ErrSymbolExists
	}
	now := time.Now().UnixMilli()
	spec.CreatedAt = now
	spec.UpdatedAt = now

	cp := *spec
	r.bySymbol[spec.Symbol] = &cp
	r.byID[spec.PerpetualID] = spec.Symbol
	return nil
}

func (r *MemoryContractRepository) GetBySymbol(_ context.Context, symbol string) (*ContractSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.bySymbol[symbol]
	if !ok {
		return nil, ErrSymbolNotFound
	}
	cp := *spec
	return &cp, nil
}

func (r *MemoryContractRepository) GetByID(ctx context.Context, id uint32) (*ContractSpec, error) {
	r.mu.RLock()
	symbol, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSymbolNotFound
	}
	return r.GetBySymbol(ctx, symbol)
}

func (r *MemoryContractRepository) Update(_ context.Context, spec *ContractSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.bySymbol[spec.Symbol]
	if !ok {
		return ErrSymbolNotFound
	}
	spec.PerpetualID = old.PerpetualID
	spec.CreatedAt = old.CreatedAt
	spec.UpdatedAt = time.Now().UnixMilli()
	cp := *spec
	r.bySymbol[spec.Symbol] = &cp
	return nil
}

func (r *MemoryContractRepository) UpdateStatus(_ context.Context, symbol string, from, to ContractStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.bySymbol[symbol]
	if !ok || spec.Status != from {
		return ErrSymbolNotFound
	}
	spec.Status = to
	spec.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *MemoryContractRepository) List(_ context.Context) ([]*ContractSpec, error) {
	return r.filter(func(s *ContractSpec) bool { return s.Status != StatusCleared }), nil
}

func (r *MemoryContractRepository) ListByStatus(_ context.Context, status ContractStatus) ([]*ContractSpec, error) {
	return r.filter(func(s *ContractSpec) bool { return s.Status == status }), nil
}

func (r *MemoryContractRepository) Delete(ctx context.Context, symbol string) error {
	return r.UpdateStatus(ctx, symbol, StatusEmergency, StatusCleared)
}

// filter 按 perpetual id 排序返回副本
func (r *MemoryContractRepository) filter(keep func(*ContractSpec) bool) []*ContractSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ContractSpec, 0, len(r.bySymbol))
	for _, s := range r.bySymbol {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PerpetualID < out[j].PerpetualID })
	return out
}

// =============================================================================
// YAML 快照
// =============================================================================

// yamlSnapshot 元数据文件格式
//
//	perpetuals:
//	  - id: 100001
//	    poolId: 1
//	    symbol: BTC-USD-MATIC
//	    s2: BTC-USD
//	    s3: MATIC-USD
//	    collateral: QUANTO
//	    initialMarginRate: "0.1"
//	    maintenanceMarginRate: "0.05"
//	    lotSizeBC: "0.0001"
//	    status: NORMAL
type yamlSnapshot struct {
	Perpetuals []yamlPerpetual `yaml:"perpetuals"`
}

type yamlPerpetual struct {
	ID                    uint32   `yaml:"id"`
	PoolID                uint32   `yaml:"poolId"`
	Symbol                string   `yaml:"symbol"`
	S2                    string   `yaml:"s2"`
	S3                    string   `yaml:"s3"`
	Collateral            string   `yaml:"collateral"`
	InitialMarginRate     string   `yaml:"initialMarginRate"`
	MaintenanceMarginRate string   `yaml:"maintenanceMarginRate"`
	LotSizeBC             string   `yaml:"lotSizeBC"`
	ReferralRebateCC      string   `yaml:"referralRebateCC"`
	PriceIDs              []string `yaml:"priceIds"`
	Status                string   `yaml:"status"`
}

func (p yamlPerpetual) spec() (*ContractSpec, error) {
	ccy, err := margin.ParseCollateralCurrency(p.Collateral)
	if err != nil {
		return nil, err
	}
	status, ok := ParseContractStatus(p.Status)
	if !ok {
		return nil, fmt.Errorf("%w: %s status %q", ErrInvalidSpec, p.Symbol, p.Status)
	}

	spec := &ContractSpec{
		PerpetualID:        p.ID,
		PoolID:             p.PoolID,
		Symbol:             p.Symbol,
		S2Symbol:           p.S2,
		S3Symbol:           p.S3,
		CollateralCurrency: ccy,
		PriceIDs:           p.PriceIDs,
		Status:             status,
	}
	fields := []struct {
		name string
		text string
		dst  *decimal.Decimal
	}{
		{"initialMarginRate", p.InitialMarginRate, &spec.InitialMarginRate},
		{"maintenanceMarginRate", p.MaintenanceMarginRate, &spec.MaintenanceMarginRate},
		{"lotSizeBC", p.LotSizeBC, &spec.LotSizeBC},
		{"referralRebateCC", p.ReferralRebateCC, &spec.ReferralRebateCC},
	}
	for _, f := range fields {
		if f.text == "" {
			continue
		}
		d, err := decimal.NewFromString(f.text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrInvalidSpec, p.Symbol, f.name, err)
		}
		*f.dst = d
	}
	return spec, nil
}

// ParseYAML 解析元数据快照
func ParseYAML(data []byte) ([]*ContractSpec, error) {
	var snap yamlSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	specs := make([]*ContractSpec, 0, len(snap.Perpetuals))
	for _, p := range snap.Perpetuals {
		spec, err := p.spec()
		if err != nil {
			return nil, err
		}
		if err := ValidateSpec(spec); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// LoadYAML 读取快照文件到内存存储
func (r *MemoryContractRepository) LoadYAML(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	specs, err := ParseYAML(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	for _, spec := range specs {
		if err := r.Create(ctx, spec); err != nil {
			return 0, fmt.Errorf("%s: %s: %w", path, spec.Symbol, err)
		}
	}
	return len(specs), nil
}
