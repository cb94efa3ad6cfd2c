// 文件: pkg/futures/symbol.go
// 币种符号与链上 bytes4 形式的转换
//
// 链上币种是 4 字节, 长名按规则压缩:
//   - 不足 4 位补 \0
//   - 超过 4 位时从尾部开始删元音, 直到剩 4 位 (MATIC -> MATC)
//   - 仍然过长就截断

package futures

import (
	"fmt"
	"strings"
)

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	}
	return false
}

// To4Chars 压缩成 4 字节 (可能含 \0 填充)
func To4Chars(s string) string {
	b := []byte(s)
	for len(b) < 4 {
		b = append(b, 0)
	}
	for k := len(b) - 1; len(b) > 4 && k >= 0; k-- {
		if isVowel(b[k]) {
			b = append(b[:k], b[k+1:]...)
		}
	}
	return string(b[:4])
}

// ShortCurrency 去掉 \0 的 4 字节形式, 用于拼接合约名
func ShortCurrency(s string) string {
	return strings.TrimRight(To4Chars(s), "\x00")
}

// Bytes4Symbol BTC-USD-MATIC -> BTC-USD-MATC
func Bytes4Symbol(symbol string) (string, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: symbol %q must be BASE-QUOTE-COLLATERAL", ErrInvalidSpec, symbol)
	}
	for i, p := range parts {
		parts[i] = ShortCurrency(p)
	}
	return strings.Join(parts, "-"), nil
}
