// 文件: pkg/event/event.go
// Kafka / NATS 消息定义
//
// 【流向】
//   trader-state      (入)  链上读出的原始账户状态
//   margin-account    (出)  解码后的保证金账户
//   margin-projection (出)  交易 / 存取保证金的推演结果
//
// 【注意】
// 杠杆可能是 +Inf (保证金余额 <= 0), JSON 无法表示, 序列化为 null

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/kafka"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/projection"
)

// Topics
const (
	TopicTraderState   = "trader-state"
	TopicMarginAccount = "margin-account"
	TopicProjection    = "margin-projection"
)

var ErrInvalidMessage = errors.New("invalid event message")

// SymbolResolver perpetual id -> symbol
type SymbolResolver interface {
	SymbolByID(id uint32) (string, bool)
}

// =============================================================================
// 入: TraderStateMessage
// =============================================================================

// TraderStateMessage 链上 getTraderState 的结果
// Fields 为 64.64 定点数的十进制 (或 0x 十六进制) 文本
type TraderStateMessage struct {
	PerpetualID uint32   `json:"perpetualId"`
	Symbol      string   `json:"symbol,omitempty"`
	Trader      string   `json:"trader"`
	Fields      []string `json:"fields"`
	BlockNumber uint64   `json:"blockNumber,omitempty"`
	Timestamp   int64    `json:"ts"`
}

var _ kafka.Message = (*TraderStateMessage)(nil)

func (m *TraderStateMessage) Topic() string          { return TopicTraderState }
func (m *TraderStateMessage) Key() string            { return m.Trader }
func (m *TraderStateMessage) Value() ([]byte, error) { return json.Marshal(m) }

// DecodeTraderState 解析消息体
func DecodeTraderState(data []byte) (*TraderStateMessage, error) {
	var m TraderStateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if m.Trader == "" {
		return nil, fmt.Errorf("%w: missing trader", ErrInvalidMessage)
	}
	return &m, nil
}

// Resolve 解析出合约名和原始状态
// symbol 为空时按 perpetual id 查
func (m *TraderStateMessage) Resolve(symbols SymbolResolver) (string, margin.RawTraderState, error) {
	symbol := strings.TrimSpace(m.Symbol)
	if symbol == "" {
		s, ok := symbols.SymbolByID(m.PerpetualID)
		if !ok {
			return "", nil, fmt.Errorf("%w: perpetual id %d", margin.ErrPerpetualNotFound, m.PerpetualID)
		}
		symbol = s
	}
	raw, err := margin.ParseRawTraderState(m.Fields)
	if err != nil {
		return "", nil, err
	}
	return symbol, raw, nil
}

// =============================================================================
// 出: MarginAccountEvent
// =============================================================================

// AccountSnapshot 可 JSON 序列化的账户, Leverage 覆盖内嵌字段
type AccountSnapshot struct {
	margin.MarginAccountState
	Leverage *float64 `json:"leverage"`
}

// NewAccountSnapshot +Inf 杠杆记为 null
func NewAccountSnapshot(a margin.MarginAccountState) AccountSnapshot {
	s := AccountSnapshot{MarginAccountState: a}
	if !margin.IsInfiniteLeverage(a.Leverage) {
		lvg := a.Leverage
		s.Leverage = &lvg
	}
	return s
}

// State 还原, null 杠杆还原为 +Inf
func (s AccountSnapshot) State() margin.MarginAccountState {
	a := s.MarginAccountState
	if s.Leverage == nil {
		a.Leverage = margin.InfiniteLeverage
	} else {
		a.Leverage = *s.Leverage
	}
	return a
}

// MarginAccountEvent 账户快照事件
type MarginAccountEvent struct {
	ID             int64              `json:"id"`
	Trader         string             `json:"trader"`
	PerpetualID    uint32             `json:"perpetualId"`
	Account        AccountSnapshot    `json:"account"`
	IndexPrices    margin.IndexPrices `json:"indexPrices"`
	IsMarketClosed bool               `json:"isMarketClosed"`
	BlockNumber    uint64             `json:"blockNumber,omitempty"`
	Timestamp      int64              `json:"ts"`
}

var _ kafka.HeaderedMessage = (*MarginAccountEvent)(nil)

// NewMarginAccountEvent 生成带 ID 的事件
func NewMarginAccountEvent(trader string, perpID uint32, a margin.MarginAccountState, px margin.IndexPrices, closed bool, ts int64) *MarginAccountEvent {
	return &MarginAccountEvent{
		ID:             NextID(),
		Trader:         trader,
		PerpetualID:    perpID,
		Account:        NewAccountSnapshot(a),
		IndexPrices:    px,
		IsMarketClosed: closed,
		Timestamp:      ts,
	}
}

func (e *MarginAccountEvent) Topic() string { return TopicMarginAccount }

// Key 同一账户同一合约保证顺序
func (e *MarginAccountEvent) Key() string            { return e.Trader + ":" + e.Account.Symbol }
func (e *MarginAccountEvent) Value() ([]byte, error) { return json.Marshal(e) }

// Headers 事件 ID, 有区块号时附带
func (e *MarginAccountEvent) Headers() map[string]string {
	h := map[string]string{"event-id": strconv.FormatInt(e.ID, 10)}
	if e.BlockNumber != 0 {
		h["block"] = strconv.FormatUint(e.BlockNumber, 10)
	}
	return h
}

// =============================================================================
// 出: ProjectionEvent
// =============================================================================

// ProjectionKind 推演类型
type ProjectionKind string

const (
	ProjectionTrade      ProjectionKind = "TRADE"
	ProjectionCollateral ProjectionKind = "COLLATERAL"
)

// ProjectionSnapshot 可 JSON 序列化的交易推演
type ProjectionSnapshot struct {
	projection.TradeProjection
	Account AccountSnapshot `json:"account"`
}

// ProjectionEvent 推演结果事件
type ProjectionEvent struct {
	ID        int64               `json:"id"`
	Kind      ProjectionKind      `json:"kind"`
	Trader    string              `json:"trader"`
	Symbol    string              `json:"symbol"`
	Order     *projection.Order   `json:"order,omitempty"`
	Trade     *ProjectionSnapshot `json:"trade,omitempty"`
	Deposit   float64             `json:"deposit,omitempty"` // 存入为正, 取出为负
	Account   AccountSnapshot     `json:"account"`           // 推演后的账户
	Timestamp int64               `json:"ts"`
}

var _ kafka.HeaderedMessage = (*ProjectionEvent)(nil)

// NewTradeProjectionEvent 交易推演
func NewTradeProjectionEvent(trader string, order projection.Order, p projection.TradeProjection, ts int64) *ProjectionEvent {
	snap := &ProjectionSnapshot{TradeProjection: p, Account: NewAccountSnapshot(p.Account)}
	return &ProjectionEvent{
		ID:        NextID(),
		Kind:      ProjectionTrade,
		Trader:    trader,
		Symbol:    order.Symbol,
		Order:     &order,
		Trade:     snap,
		Account:   snap.Account,
		Timestamp: ts,
	}
}

// NewCollateralProjectionEvent 存取保证金推演
func NewCollateralProjectionEvent(trader string, deposit float64, a margin.MarginAccountState, ts int64) *ProjectionEvent {
	return &ProjectionEvent{
		ID:        NextID(),
		Kind:      ProjectionCollateral,
		Trader:    trader,
		Symbol:    a.Symbol,
		Deposit:   deposit,
		Account:   NewAccountSnapshot(a),
		Timestamp: ts,
	}
}

func (e *ProjectionEvent) Topic() string          { return TopicProjection }
func (e *ProjectionEvent) Key() string            { return e.Trader + ":" + e.Symbol }
func (e *ProjectionEvent) Value() ([]byte, error) { return json.Marshal(e) }

func (e *ProjectionEvent) Headers() map[string]string {
	return map[string]string{"event-id": strconv.FormatInt(e.ID, 10), "kind": string(e.Kind)}
}
