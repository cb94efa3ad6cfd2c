// 文件: pkg/nats/publisher.go
// NATS 发布: 账户快照按合约分主题推给下游 (看板 / 告警)

package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// 主题
const (
	// 行情: prices.BTC-USD
	SubjectPrices      = "prices.>"
	SubjectPricePrefix = "prices."

	// 账户快照: margin.account.BTC-USD-MATIC
	SubjectAccountPrefix = "margin.account."
)

// SubjectAccount 合约的账户快照主题
func SubjectAccount(symbol string) string { return SubjectAccountPrefix + symbol }

// SubjectPrice 交易对的行情主题
func SubjectPrice(pair string) string { return SubjectPricePrefix + pair }

// PairFromSubject prices.BTC-USD → BTC-USD
func PairFromSubject(subject string) (string, bool) {
	pair, ok := strings.CutPrefix(subject, SubjectPricePrefix)
	if !ok || pair == "" || strings.ContainsAny(pair, ".*>") {
		return "", false
	}
	return pair, true
}

// Publisher JSON 发布者
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher 建立独立连接
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := Connect(url, "riskd-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, logger: logger}, nil
}

// Publish 序列化后发布, 实现 service.Notifier
func (p *Publisher) Publish(subject string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, body); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.published.Add(1)
	return nil
}

// Counts 已发布 / 失败条数
func (p *Publisher) Counts() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close 刷出缓冲后关闭
func (p *Publisher) Close() {
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("nats flush on close", zap.Error(err))
	}
	published, failed := p.Counts()
	p.logger.Info("nats publisher closed", zap.Int64("published", published), zap.Int64("failed", failed))
	p.conn.Close()
}
