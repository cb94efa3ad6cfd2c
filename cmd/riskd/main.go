// 文件: cmd/riskd/main.go
// 保证金风控服务
//
// 【数据流】
//   NATS prices.>          → QuoteBook → 三角换算 → 指数价格
//   Kafka trader-state     → Processor → 风险引擎 → Kafka margin-account
//                                                 → NATS margin.account.<symbol>
//   Kafka margin-account   → snapshot.Writer → MySQL margin_accounts (可选)
//
// 合约元数据: MySQL (可选 Redis 缓存), 或 YAML 快照

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/config"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/event"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/futures"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/kafka"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/logger"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/metrics"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/nats"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/pricefeed"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/risk"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/service"
	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/snapshot"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("riskd stopped", zap.Error(err))
	}
	log.Info("riskd stopped")
}

func run(ctx context.Context, cfg *config.Configuration, log *zap.Logger) error {
	if err := event.InitSnowflake(cfg.App.NodeID); err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}
	m := metrics.New()

	// 1. 合约元数据
	repo, db, closeRepo, err := openContractRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	registry, err := futures.LoadRegistry(ctx, repo)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	m.RegisteredPerpetuals.Set(float64(registry.Len()))
	log.Info("perpetuals loaded", zap.Strings("symbols", registry.Symbols()))

	// 2. 行情
	book := pricefeed.NewQuoteBook(cfg.Prices.MaxAge)
	book.OnUpdate(func(pricefeed.Quote) { m.QuotesReceived.Inc() })

	resolver := pricefeed.NewResolver(book, cfg.Prices.Available, registry.RequiredPairs())
	if missing := resolver.Missing(); len(missing) > 0 {
		log.Warn("pairs cannot be triangulated", zap.Strings("pairs", missing))
		for _, pair := range missing {
			m.PriceMisses.WithLabelValues(pair).Inc()
		}
	}

	var publisher *nats.Publisher
	if cfg.NATS.Enabled {
		feed, err := pricefeed.NewNATSFeed(cfg.NATS.URL, book, log)
		if err != nil {
			return fmt.Errorf("price feed: %w", err)
		}
		defer func() { _ = feed.Close() }()

		if cfg.NATS.PublishAccount {
			publisher, err = nats.NewPublisher(cfg.NATS.URL, log)
			if err != nil {
				return fmt.Errorf("nats publisher: %w", err)
			}
			defer publisher.Close()
		}
	}

	// 3. 风险引擎 + 处理器
	engine := risk.NewEngine(registry, resolver, risk.WithConcurrency(cfg.Risk.Concurrency))
	proc := service.NewProcessor(registry, engine, resolver, m, service.Config{
		BatchSize:  cfg.Risk.BatchSize,
		FlushEvery: cfg.Risk.FlushEvery,
	}, log)
	if publisher != nil {
		proc.SetNotifier(publisher)
	}

	// 4. Kafka
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		pcfg := kafka.DefaultProducerConfig(cfg.Kafka.Brokers)
		pcfg.Compression = cfg.Kafka.Compression
		producer, err := kafka.NewProducer(pcfg, log)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
		producer.OnError(func(topic string) { m.PublishErrors.WithLabelValues(topic).Inc() })
		proc.SetSink(producer)

		ccfg := kafka.DefaultConsumerConfig(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{event.TopicTraderState})
		consumer, err = kafka.NewConsumer(ccfg, proc.HandleMessage, log)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	} else {
		log.Warn("kafka disabled, no trader state input")
	}

	// 4.1 快照落库
	if cfg.Snapshot.Enabled {
		stopSnapshot, err := startSnapshotWriter(cfg, db, m, log)
		if err != nil {
			return err
		}
		defer stopSnapshot()
	}

	// 5. 指标
	srv := metrics.NewServer(cfg.Metrics.Addr, m, log)
	srv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
	}()

	// 6. 运行
	// 先停消费者, 再让处理器排空队列
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(runCtx) })
	if consumer != nil {
		consumer.Start()
	}
	g.Go(func() error {
		<-gctx.Done()
		defer cancelRun()
		if consumer == nil {
			return nil
		}
		err := consumer.Stop()
		st := consumer.Stats()
		log.Info("trader-state consumer stopped",
			zap.Int64("consumed", st.Consumed),
			zap.Int64("handlerErrors", st.HandlerErrors))
		return err
	})
	if cfg.Risk.RepriceEvery > 0 {
		g.Go(func() error { return repriceLoop(gctx, proc, cfg.Risk.RepriceEvery, log) })
	}

	log.Info("riskd started",
		zap.Int("perpetuals", registry.Len()),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Bool("nats", cfg.NATS.Enabled))
	return g.Wait()
}

// openContractRepository MySQL (+Redis) 或 YAML 快照
func openContractRepository(ctx context.Context, cfg *config.Configuration, log *zap.Logger) (futures.ContractRepository, *gorm.DB, func(), error) {
	if !cfg.MySQL.Enabled {
		repo := futures.NewMemoryContractRepository()
		n, err := repo.LoadYAML(ctx, cfg.Metadata.File)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load metadata: %w", err)
		}
		log.Info("metadata loaded from file", zap.String("file", cfg.Metadata.File), zap.Int("perpetuals", n))
		return repo, nil, func() {}, nil
	}

	db, err := futures.OpenMySQL(cfg.MySQL.DSN, cfg.App.Env == "production")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("mysql: %w", err)
	}
	var repo futures.ContractRepository = futures.NewMySQLContractRepository(db)
	closers := []func(){func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}}

	if cfg.Redis.Enabled {
		rds := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rds.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, metadata cache disabled", zap.Error(err))
			_ = rds.Close()
		} else {
			repo = futures.NewCachedContractRepository(repo, rds)
			closers = append(closers, func() { _ = rds.Close() })
		}
	}
	return repo, db, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

// startSnapshotWriter margin-account → MySQL
func startSnapshotWriter(cfg *config.Configuration, db *gorm.DB, m *metrics.Metrics, log *zap.Logger) (func(), error) {
	store, err := snapshot.NewMySQLRepository(db)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	writer := snapshot.NewWriter(store, snapshot.WriterConfig{
		BatchSize:     cfg.Snapshot.BatchSize,
		FlushInterval: cfg.Snapshot.FlushEvery,
	}, log)

	ccfg := kafka.DefaultConsumerConfig(cfg.Kafka.Brokers, cfg.Snapshot.GroupID, []string{event.TopicMarginAccount})
	consumer, err := kafka.NewConsumer(ccfg, writer.HandleMessage, log)
	if err != nil {
		return nil, fmt.Errorf("snapshot consumer: %w", err)
	}
	consumer.OnHandlerError(func(string) { m.AccountErrors.WithLabelValues("snapshot").Inc() })
	writer.Start()
	consumer.Start()
	log.Info("snapshot writer started", zap.String("group", cfg.Snapshot.GroupID))

	return func() {
		_ = consumer.Stop()
		writer.Stop()
		stats := writer.Stats()
		log.Info("snapshot writer stopped",
			zap.Int64("received", stats.ReceivedCount),
			zap.Int64("written", stats.WrittenCount),
			zap.Int64("errors", stats.ErrorCount))
	}, nil
}

func repriceLoop(ctx context.Context, proc *service.Processor, every time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := proc.Reprice(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("reprice failed", zap.Error(err))
				continue
			}
			if n := len(report.AtRisk(risk.RiskLevelDanger)); n > 0 {
				log.Info("accounts at risk", zap.Int("count", n), zap.Int("tracked", len(report.Results)))
			}
		}
	}
}
