// 文件: pkg/snapshot/writer.go
// 账户快照 - 数据库写入器
//
// 消费 Kafka margin-account 事件, 写入 MySQL:
// - 批量写入提高吞吐
// - 同一批内同一账户只写最新一条 (区块号大的优先, 相同时后到的优先)
// - 写入失败记日志, 该批丢弃, 等待下一次事件覆盖

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/event"
)

// WriterConfig 配置
type WriterConfig struct {
	BatchSize     int           // 批量大小
	FlushInterval time.Duration // 刷新间隔
}

// DefaultWriterConfig 默认配置
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     200,
		FlushInterval: 500 * time.Millisecond,
	}
}

// WriterStats 写入统计
type WriterStats struct {
	ReceivedCount int64 // 接收数量
	WrittenCount  int64 // 写入行数 (去重后)
	ErrorCount    int64 // 错误数量
	BatchCount    int64 // 批次数量
}

// =============================================================================
// Writer - 数据库写入器
// =============================================================================

// Writer 快照写入器
type Writer struct {
	store  Store
	cfg    WriterConfig
	logger *zap.Logger

	// 批量缓冲
	buffer   []*AccountRecord
	bufferMu sync.Mutex
	flushCh  chan struct{}

	// 统计
	received atomic.Int64
	written  atomic.Int64
	errors   atomic.Int64
	batches  atomic.Int64

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter 创建写入器, 消费者由调用方创建并把 HandleMessage 作为处理函数
func NewWriter(store Store, cfg WriterConfig, logger *zap.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		buffer:  make([]*AccountRecord, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// =============================================================================
// 消息处理
// =============================================================================

// HandleMessage 实现 kafka.MessageHandler
func (w *Writer) HandleMessage(topic string, _ int32, _ int64, _, value []byte) error {
	if topic != event.TopicMarginAccount {
		return nil
	}
	var ev event.MarginAccountEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		w.errors.Add(1)
		return fmt.Errorf("%w: %w", event.ErrInvalidMessage, err)
	}
	w.received.Add(1)

	// 加入缓冲
	w.bufferMu.Lock()
	w.buffer = append(w.buffer, RecordFromEvent(&ev))
	shouldFlush := len(w.buffer) >= w.cfg.BatchSize
	w.bufferMu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// =============================================================================
// 批量写入
// =============================================================================

// Flush 把缓冲写入数据库
func (w *Writer) Flush(ctx context.Context) error {
	w.bufferMu.Lock()
	records := w.buffer
	w.buffer = make([]*AccountRecord, 0, w.cfg.BatchSize)
	w.bufferMu.Unlock()

	if len(records) == 0 {
		return nil
	}

	latest := dedupe(records)
	if err := w.store.UpsertAccounts(ctx, latest); err != nil {
		w.errors.Add(1)
		w.logger.Error("upsert margin accounts failed", zap.Int("rows", len(latest)), zap.Error(err))
		return err
	}
	w.written.Add(int64(len(latest)))
	w.batches.Add(1)
	return nil
}

// dedupe 同一账户只保留最新, 保持首次出现的顺序
func dedupe(records []*AccountRecord) []*AccountRecord {
	pos := make(map[string]int, len(records))
	out := make([]*AccountRecord, 0, len(records))
	for _, r := range records {
		key := r.Key()
		i, ok := pos[key]
		if !ok {
			pos[key] = len(out)
			out = append(out, r)
			continue
		}
		if r.BlockNumber >= out[i].BlockNumber {
			out[i] = r
		}
	}
	return out
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动定时刷新
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()

		flush := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = w.Flush(ctx)
		}
		for {
			select {
			case <-w.ctx.Done():
				flush() // 最后刷新一次
				return
			case <-ticker.C:
				flush()
			case <-w.flushCh:
				flush()
			}
		}
	}()
}

// Stop 停止并写完缓冲
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Stats 获取统计
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		ReceivedCount: w.received.Load(),
		WrittenCount:  w.written.Load(),
		ErrorCount:    w.errors.Load(),
		BatchCount:    w.batches.Load(),
	}
}
