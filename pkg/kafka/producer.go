// 文件: pkg/kafka/producer.go
// 风控事件生产者 (sarama 异步)
//
// margin-account / margin-projection 按 trader:symbol 做 key,
// hash 分区保证同一账户的事件有序。
// 发送失败只计数、记日志、回调指标, 不重试业务层。

package kafka

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

var (
	ErrProducerClosed     = errors.New("producer is closed")
	ErrUnknownCompression = errors.New("unknown kafka compression")
	ErrUnknownAcks        = errors.New("unknown kafka required acks")
)

// Message 待发送的事件
type Message interface {
	Topic() string          // 目标 topic
	Key() string            // 分区 key
	Value() ([]byte, error) // JSON 消息体
}

// HeaderedMessage 需要附带 header 的事件 (事件 ID / 区块号)
type HeaderedMessage interface {
	Message
	Headers() map[string]string
}

// =============================================================================
// 配置
// =============================================================================

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string
	RequiredAcks   int    // 0 / 1 / -1
	Compression    string // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration
	FlushMessages  int
	MaxRetries     int
}

// DefaultProducerConfig leader 确认, snappy, 100ms 或 100 条刷一次
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// ParseCompression 配置字符串 → sarama 压缩方式, 空串按 none
func ParseCompression(s string) (sarama.CompressionCodec, error) {
	switch s {
	case "", "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	}
	return sarama.CompressionNone, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

func parseAcks(n int) (sarama.RequiredAcks, error) {
	switch n {
	case 0:
		return sarama.NoResponse, nil
	case 1:
		return sarama.WaitForLocal, nil
	case -1:
		return sarama.WaitForAll, nil
	}
	return sarama.WaitForLocal, fmt.Errorf("%w: %d", ErrUnknownAcks, n)
}

// saramaConfig 异步模式只回传错误
func (cfg ProducerConfig) saramaConfig() (*sarama.Config, error) {
	acks, err := parseAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	codec, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = acks
	sc.Producer.Compression = codec
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc, nil
}

// =============================================================================
// Producer
// =============================================================================

// Producer 异步生产者
type Producer struct {
	producer sarama.AsyncProducer
	logger   *zap.Logger

	onError func(topic string)

	sent    atomic.Int64
	failed  atomic.Int64
	byTopic sync.Map // topic -> *atomic.Int64

	// 投递持读锁, 关闭持写锁, 关闭后不再写 Input()
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewProducer 连接 broker
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	sc, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFromSarama(producer, logger), nil
}

// NewProducerFromSarama 包装已有的 sarama 生产者 (测试传 mocks)
func NewProducerFromSarama(producer sarama.AsyncProducer, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{producer: producer, logger: logger}

	p.wg.Add(1)
	go p.drainErrors()
	return p
}

// OnError 发送失败回调, 需在发送前设置
func (p *Producer) OnError(fn func(topic string)) {
	p.onError = fn
}

// Send 序列化后投递, 不等待 broker 确认
func (p *Producer) Send(msg Message) error {
	data, err := msg.Value()
	if err != nil {
		return fmt.Errorf("serialize %s message: %w", msg.Topic(), err)
	}

	pm := &sarama.ProducerMessage{
		Topic: msg.Topic(),
		Key:   sarama.StringEncoder(msg.Key()),
		Value: sarama.ByteEncoder(data),
	}
	if hm, ok := msg.(HeaderedMessage); ok {
		for k, v := range hm.Headers() {
			pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	p.producer.Input() <- pm
	p.sent.Add(1)
	p.topicCounter(pm.Topic).Add(1)
	return nil
}

func (p *Producer) topicCounter(topic string) *atomic.Int64 {
	if c, ok := p.byTopic.Load(topic); ok {
		return c.(*atomic.Int64)
	}
	c, _ := p.byTopic.LoadOrStore(topic, new(atomic.Int64))
	return c.(*atomic.Int64)
}

func (p *Producer) drainErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		p.failed.Add(1)
		p.logger.Error("kafka send error",
			zap.String("topic", err.Msg.Topic),
			zap.Error(err.Err))
		if p.onError != nil {
			p.onError(err.Msg.Topic)
		}
	}
}

// ProducerStats 发送统计
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
	ByTopic    map[string]int64
}

// Stats 当前统计
func (p *Producer) Stats() ProducerStats {
	st := ProducerStats{
		SentCount:  p.sent.Load(),
		ErrorCount: p.failed.Load(),
		ByTopic:    make(map[string]int64),
	}
	p.byTopic.Range(func(k, v any) bool {
		st.ByTopic[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return st
}

// Close 刷出缓冲并等待错误通道关闭, 可重复调用
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.producer.Close()
	p.wg.Wait()
	return err
}

