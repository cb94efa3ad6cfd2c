// 文件: pkg/kafka/consumer.go
// 消费者组 (trader-state 输入, margin-account 落库)
//
// 处理失败的消息同样标记 offset, 失败只计数和记日志。
// 同一账户的状态会被后续区块覆盖。

package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	FromOldest bool          // 新消费组从最早 offset 开始
	RetryDelay time.Duration // Consume 出错后的等待
}

// DefaultConsumerConfig 新消费组从最新 offset 开始
func DefaultConsumerConfig(brokers []string, groupID string, topics []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:    brokers,
		GroupID:    groupID,
		Topics:     topics,
		RetryDelay: time.Second,
	}
}

// MessageHandler 处理一条消息
type MessageHandler func(topic string, partition int32, offset int64, key, value []byte) error

// Consumer 消费者组
type Consumer struct {
	group   sarama.ConsumerGroup
	config  ConsumerConfig
	handler MessageHandler
	logger  *zap.Logger

	onHandlerError func(topic string)
	consumed       atomic.Int64
	failed         atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 连接 broker 并创建消费者组
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		group:   group,
		config:  cfg,
		handler: handler,
		logger:  logger.With(zap.String("group", cfg.GroupID)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnHandlerError 处理失败回调 (指标), 需在 Start 前设置
func (c *Consumer) OnHandlerError(fn func(topic string)) {
	c.onHandlerError = fn
}

// Start 后台消费, rebalance 后自动重新加入
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(c.ctx, c.config.Topics, c); err != nil {
				c.logger.Error("kafka consume error", zap.Strings("topics", c.config.Topics), zap.Error(err))
				select {
				case <-c.ctx.Done():
				case <-time.After(c.config.RetryDelay):
				}
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止消费并关闭连接
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// ConsumerStats 消费统计
type ConsumerStats struct {
	Consumed      int64
	HandlerErrors int64
}

// Stats 当前统计
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{Consumed: c.consumed.Load(), HandlerErrors: c.failed.Load()}
}

// =============================================================================
// sarama.ConsumerGroupHandler
// =============================================================================

func (c *Consumer) Setup(s sarama.ConsumerGroupSession) error {
	c.logger.Info("kafka partitions assigned", zap.Any("claims", s.Claims()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (c *Consumer) Cleanup(s sarama.ConsumerGroupSession) error {
	c.logger.Info("kafka partitions released", zap.Int32("generation", s.GenerationID()))
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.consumed.Add(1)
			if err := c.handler(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value); err != nil {
				c.failed.Add(1)
				c.logger.Warn("kafka handle error",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				if c.onHandlerError != nil {
					c.onHandlerError(msg.Topic)
				}
			}
			session.MarkMessage(msg, "")
		}
	}
}
