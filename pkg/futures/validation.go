// 文件: pkg/futures/validation.go
// 合约参数验证

package futures

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateCreateRequest 验证创建请求, 并补默认值
func ValidateCreateRequest(req *CreateContractRequest) error {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidSpec)
	}
	if req.PerpetualID == 0 {
		return fmt.Errorf("%w: perpetual id is required", ErrInvalidSpec)
	}
	if req.S2Symbol == "" {
		// 默认取 symbol 前两段: BTC-USD-MATIC -> BTC-USD
		if parts := strings.Split(req.Symbol, "-"); len(parts) == 3 {
			req.S2Symbol = parts[0] + "-" + parts[1]
		}
	}
	if req.MaintenanceMarginRate.IsZero() && req.InitialMarginRate.IsPositive() {
		// 默认维持保证金率 = 初始保证金率 / 2
		req.MaintenanceMarginRate = req.InitialMarginRate.Div(decimal.NewFromInt(2))
	}
	if len(req.PriceIDs) == 0 {
		return fmt.Errorf("%w: at least one price id is required", ErrInvalidSpec)
	}
	return nil
}

// ValidateSpec 校验存储的规格能转成合法的计算参数
func ValidateSpec(spec *ContractSpec) error {
	if err := spec.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return nil
}
