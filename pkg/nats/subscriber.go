// 文件: pkg/nats/subscriber.go
// NATS 订阅: 行情输入

package nats

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// MessageHandler 处理一条消息
type MessageHandler func(subject string, data []byte) error

// Connect 连接 NATS, 断线无限重连
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.String("name", name), zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("name", name), zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("nats async error", zap.String("subject", subject), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// Subscriber 订阅者, 处理失败只记日志
type Subscriber struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler MessageHandler
	logger  *zap.Logger

	received atomic.Int64
	rejected atomic.Int64
}

// NewSubscriber 建立独立连接
func NewSubscriber(url string, handler MessageHandler, logger *zap.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := Connect(url, "riskd-subscriber", logger)
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, handler: handler, logger: logger}, nil
}

func (s *Subscriber) dispatch(msg *nats.Msg) {
	s.received.Add(1)
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		s.rejected.Add(1)
		s.logger.Warn("nats handle error",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// Subscribe 订阅主题, 支持通配符
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.dispatch)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Counts 收到 / 处理失败条数
func (s *Subscriber) Counts() (received, rejected int64) {
	return s.received.Load(), s.rejected.Load()
}

// Close 退订并关闭连接
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}

// UnmarshalJSON 反序列化 JSON
func UnmarshalJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
