package kafka

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testMessage struct {
	Trader string `json:"trader"`
	Symbol string `json:"symbol"`
	Block  uint64 `json:"block,omitempty"`
}

func (m testMessage) Topic() string          { return "margin-account" }
func (m testMessage) Key() string            { return m.Trader + ":" + m.Symbol }
func (m testMessage) Value() ([]byte, error) { return json.Marshal(m) }

type headeredMessage struct{ testMessage }

func (m headeredMessage) Headers() map[string]string { return map[string]string{"block": "42"} }

type brokenMessage struct{ testMessage }

func (brokenMessage) Value() ([]byte, error) { return nil, errors.New("boom") }

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_Send(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "0xabc:BTC-USD-MATIC" {
			return errors.New("wrong key")
		}
		if len(msg.Headers) != 0 {
			return errors.New("unexpected headers")
		}
		return nil
	})
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if headerValue(msg, "block") != "42" {
			return errors.New("missing block header")
		}
		return nil
	})
	mp.ExpectInputAndFail(errors.New("broker down"))

	p := NewProducerFromSarama(mp, zap.NewNop())
	var failed []string
	p.OnError(func(topic string) { failed = append(failed, topic) })

	msg := testMessage{Trader: "0xabc", Symbol: "BTC-USD-MATIC"}
	require.NoError(t, p.Send(msg))
	require.NoError(t, p.Send(headeredMessage{msg}))
	require.NoError(t, p.Send(msg))

	// 序列化失败不进入 sarama
	assert.Error(t, p.Send(brokenMessage{msg}))

	require.Eventually(t, func() bool {
		return p.Stats().ErrorCount == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close())
	st := p.Stats()
	assert.Equal(t, int64(3), st.SentCount)
	assert.Equal(t, int64(3), st.ByTopic["margin-account"])
	assert.Equal(t, []string{"margin-account"}, failed)

	assert.ErrorIs(t, p.Send(msg), ErrProducerClosed)
	assert.NoError(t, p.Close())
}

func TestProducerConfig(t *testing.T) {
	sc, err := DefaultProducerConfig([]string{"localhost:9092"}).saramaConfig()
	require.NoError(t, err)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
	assert.Equal(t, sarama.WaitForLocal, sc.Producer.RequiredAcks)
	assert.True(t, sc.Producer.Return.Errors)

	tests := []struct {
		name   string
		mutate func(*ProducerConfig)
		want   error
	}{
		{"unknown compression", func(c *ProducerConfig) { c.Compression = "brotli" }, ErrUnknownCompression},
		{"unknown acks", func(c *ProducerConfig) { c.RequiredAcks = 2 }, ErrUnknownAcks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProducerConfig(nil)
			tt.mutate(&cfg)
			_, err := cfg.saramaConfig()
			assert.ErrorIs(t, err, tt.want)
		})
	}

	codec, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, sarama.CompressionNone, codec)
}

// closingProducer 关闭时关闭 Input 通道, 与 sarama 行为一致
type closingProducer struct {
	sarama.AsyncProducer
	input    chan *sarama.ProducerMessage
	errs     chan *sarama.ProducerError
	received atomic.Int64
	drained  chan struct{}
}

func newClosingProducer() *closingProducer {
	cp := &closingProducer{
		input:   make(chan *sarama.ProducerMessage),
		errs:    make(chan *sarama.ProducerError),
		drained: make(chan struct{}),
	}
	go func() {
		defer close(cp.drained)
		for range cp.input {
			cp.received.Add(1)
		}
	}()
	return cp
}

func (cp *closingProducer) Input() chan<- *sarama.ProducerMessage { return cp.input }
func (cp *closingProducer) Errors() <-chan *sarama.ProducerError { return cp.errs }
func (cp *closingProducer) Close() error {
	close(cp.input)
	<-cp.drained
	close(cp.errs)
	return nil
}

func TestProducer_SendDuringClose(t *testing.T) {
	cp := newClosingProducer()
	p := NewProducerFromSarama(cp, zap.NewNop())

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := p.Send(testMessage{Trader: "0xabc", Symbol: "BTC-USD-MATIC"}); err != nil {
					assert.ErrorIs(t, err, ErrProducerClosed)
					return
				}
				accepted.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return accepted.Load() >= 100 }, time.Second, time.Millisecond)
	require.NoError(t, p.Close())
	wg.Wait()

	assert.Equal(t, accepted.Load(), cp.received.Load())
	assert.Equal(t, accepted.Load(), p.Stats().SentCount)
}
