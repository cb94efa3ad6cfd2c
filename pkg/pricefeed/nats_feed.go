// 文件: pkg/pricefeed/nats_feed.go
// NATS 行情接入
//
// 主题 prices.<PAIR>, 消息体:
//
//	{"pair":"BTC-USD","price":21000.5,"isMarketClosed":false,"ts":"2024-01-01T00:00:00Z"}
//
// pair 为空时从主题里取

package pricefeed

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/nats"
)

// NATSFeed 把 NATS 行情写进 QuoteBook
type NATSFeed struct {
	book   *QuoteBook
	sub    *nats.Subscriber
	logger *zap.Logger
}

// NewNATSFeed 创建并订阅 prices.>
func NewNATSFeed(url string, book *QuoteBook, logger *zap.Logger) (*NATSFeed, error) {
	f := &NATSFeed{book: book, logger: logger}
	sub, err := nats.NewSubscriber(url, f.Handle, logger)
	if err != nil {
		return nil, err
	}
	if err := sub.Subscribe(nats.SubjectPrices); err != nil {
		_ = sub.Close()
		return nil, err
	}
	f.sub = sub
	logger.Info("price feed subscribed", zap.String("subject", nats.SubjectPrices))
	return f, nil
}

// Handle 处理单条行情, 实现 nats.MessageHandler
func (f *NATSFeed) Handle(subject string, data []byte) error {
	q, err := nats.UnmarshalJSON[Quote](data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidQuote, subject, err)
	}
	if q.Pair == "" {
		pair, ok := nats.PairFromSubject(subject)
		if !ok {
			return fmt.Errorf("%w: no pair in %s", ErrInvalidQuote, subject)
		}
		q.Pair = pair
	}
	if err := f.book.Update(*q); err != nil {
		return fmt.Errorf("%s: %w", subject, err)
	}
	f.logger.Debug("quote", zap.String("pair", q.Pair), zap.Float64("price", q.Price))
	return nil
}

// Close 取消订阅
func (f *NATSFeed) Close() error {
	if f.sub == nil {
		return nil
	}
	received, rejected := f.sub.Counts()
	f.logger.Info("price feed closed", zap.Int64("received", received), zap.Int64("rejected", rejected))
	return f.sub.Close()
}
