package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/fixedpoint"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/margin"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/projection"
)

type idMap map[uint32]string

func (m idMap) SymbolByID(id uint32) (string, bool) {
	s, ok := m[id]
	return s, ok
}

func rawFields(t *testing.T, vals ...float64) []string {
	out := make([]string, margin.TraderStateLen)
	for i := range out {
		out[i] = "0"
	}
	for i, v := range vals {
		f, err := fixedpoint.FloatToFixed64x64(v)
		require.NoError(t, err)
		out[i] = f.String()
	}
	return out
}

func TestNextID(t *testing.T) {
	require.NoError(t, InitSnowflake(7))
	a, b := NextID(), NextID()
	assert.NotEqual(t, a, b)
	assert.Greater(t, b, a)
}

func TestTraderStateMessage_Resolve(t *testing.T) {
	msg := TraderStateMessage{
		PerpetualID: 100001,
		Trader:      "0xabc",
		Fields:      rawFields(t, 0, 0, 0, 1000, 0.5),
	}
	data, err := msg.Value()
	require.NoError(t, err)

	decoded, err := DecodeTraderState(data)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", decoded.Key())
	assert.Equal(t, TopicTraderState, decoded.Topic())

	symbol, raw, err := decoded.Resolve(idMap{100001: "BTC-USD-MATIC"})
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD-MATIC", symbol)
	require.Len(t, raw, margin.TraderStateLen)
	assert.InDelta(t, 0.5, raw[margin.IdxPositionBC].Float(), 1e-15)
	assert.InDelta(t, 1000, raw[margin.IdxCashCC].Float(), 1e-12)

	// 未知 id
	_, _, err = decoded.Resolve(idMap{})
	assert.ErrorIs(t, err, margin.ErrPerpetualNotFound)

	// 字段不足
	decoded.Symbol = "BTC-USD-MATIC"
	decoded.Fields = decoded.Fields[:5]
	_, _, err = decoded.Resolve(idMap{})
	assert.ErrorIs(t, err, margin.ErrInvalidTraderState)
}

func TestDecodeTraderState_Invalid(t *testing.T) {
	_, err := DecodeTraderState([]byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = DecodeTraderState([]byte(`{"fields":[]}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestMarginAccountEvent_InfiniteLeverage(t *testing.T) {
	acct := margin.MarginAccountState{
		Symbol:                  "BTC-USD-MATIC",
		PositionNotionalBaseCCY: 1,
		Side:                    margin.SideBuy,
		Leverage:                margin.InfiniteLeverage,
	}
	ev := NewMarginAccountEvent("0xabc", 100001, acct, margin.IndexPrices{S2: 20000, S3: 0.8}, false, 1700000000000)
	assert.NotZero(t, ev.ID)
	assert.Equal(t, "0xabc:BTC-USD-MATIC", ev.Key())
	assert.NotContains(t, ev.Headers(), "block")
	ev.BlockNumber = 42
	assert.Equal(t, "42", ev.Headers()["block"])

	data, err := ev.Value()
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	account := generic["account"].(map[string]any)
	assert.Nil(t, account["leverage"])
	assert.Equal(t, "BUY", account["side"])

	var back MarginAccountEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, margin.IsInfiniteLeverage(back.Account.State().Leverage))

	// 有限杠杆原样保留
	acct.Leverage = 5
	snap := NewAccountSnapshot(acct)
	require.NotNil(t, snap.Leverage)
	assert.Equal(t, 5.0, snap.State().Leverage)
}

func TestProjectionEvents(t *testing.T) {
	order := projection.Order{Symbol: "BTC-USD-MATIC", Side: margin.SideBuy, Quantity: 1}
	p := projection.TradeProjection{
		Account: margin.MarginAccountState{Symbol: "BTC-USD-MATIC", Leverage: 2},
		Kind:    projection.TradeOpen,
	}
	ev := NewTradeProjectionEvent("0xabc", order, p, 1)
	assert.Equal(t, TopicProjection, ev.Topic())
	assert.Equal(t, ProjectionTrade, ev.Kind)

	data, err := ev.Value()
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	trade := generic["trade"].(map[string]any)
	assert.Equal(t, "OPEN", trade["kind"])
	assert.Equal(t, 2.0, trade["account"].(map[string]any)["leverage"])

	cev := NewCollateralProjectionEvent("0xabc", -10, margin.MarginAccountState{Symbol: "ETH-USD-USD"}, 2)
	assert.Equal(t, "0xabc:ETH-USD-USD", cev.Key())
	assert.Nil(t, cev.Trade)
}
