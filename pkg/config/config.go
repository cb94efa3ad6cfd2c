// 文件: pkg/config/config.go
// 服务配置 (viper)
//
// 优先级: 环境变量 RISKD_* > 配置文件 > 默认值
// 例: RISKD_KAFKA_BROKERS="k1:9092 k2:9092", RISKD_APP_LOG_LEVEL=debug

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/D8-X/d8x-futures-node-sdk-sub000/pkg/kafka"
)

type (
	Configuration struct {
		App      AppConfiguration      `mapstructure:"app"`
		MySQL    MySQLConfiguration    `mapstructure:"mysql"`
		Redis    RedisConfiguration    `mapstructure:"redis"`
		NATS     NATSConfiguration     `mapstructure:"nats"`
		Kafka    KafkaConfiguration    `mapstructure:"kafka"`
		Metrics  MetricsConfiguration  `mapstructure:"metrics"`
		Metadata MetadataConfiguration `mapstructure:"metadata"`
		Prices   PricesConfiguration   `mapstructure:"prices"`
		Risk     RiskConfiguration     `mapstructure:"risk"`
		Snapshot SnapshotConfiguration `mapstructure:"snapshot"`
	}

	AppConfiguration struct {
		Env      string `mapstructure:"env"`
		LogLevel string `mapstructure:"log_level"`
		NodeID   int64  `mapstructure:"node_id"` // 雪花算法节点
	}

	MySQLConfiguration struct {
		Enabled bool   `mapstructure:"enabled"`
		DSN     string `mapstructure:"dsn"`
	}

	RedisConfiguration struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}

	NATSConfiguration struct {
		Enabled        bool   `mapstructure:"enabled"`
		URL            string `mapstructure:"url"`
		PublishAccount bool   `mapstructure:"publish_account"` // 账户快照同时发到 NATS
	}

	KafkaConfiguration struct {
		Enabled     bool     `mapstructure:"enabled"`
		Brokers     []string `mapstructure:"brokers"`
		GroupID     string   `mapstructure:"group_id"`
		Compression string   `mapstructure:"compression"`
	}

	MetricsConfiguration struct {
		Addr string `mapstructure:"addr"`
	}

	// MetadataConfiguration 合约元数据来源: MySQL 关闭时读 YAML 快照
	MetadataConfiguration struct {
		File string `mapstructure:"file"`
	}

	PricesConfiguration struct {
		MaxAge    time.Duration `mapstructure:"max_age"`
		Available []string      `mapstructure:"available"` // 行情源提供的交易对
	}

	RiskConfiguration struct {
		Concurrency  int           `mapstructure:"concurrency"`
		BatchSize    int           `mapstructure:"batch_size"`
		FlushEvery   time.Duration `mapstructure:"flush_every"`
		RepriceEvery time.Duration `mapstructure:"reprice_every"` // 按最新价格重算全部账户, 0 关闭
	}

	// SnapshotConfiguration margin-account 事件落库, 需要 MySQL 和 Kafka
	SnapshotConfiguration struct {
		Enabled    bool          `mapstructure:"enabled"`
		GroupID    string        `mapstructure:"group_id"`
		BatchSize  int           `mapstructure:"batch_size"`
		FlushEvery time.Duration `mapstructure:"flush_every"`
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("mysql.dsn", "root:123456@tcp(127.0.0.1:3307)/d8x_risk?charset=utf8mb4&parseTime=True&loc=Local")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "riskd")
	v.SetDefault("kafka.compression", "snappy")

	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metadata.file", "config/perpetuals.yml")
	v.SetDefault("prices.max_age", 30*time.Second)

	v.SetDefault("risk.concurrency", 16)
	v.SetDefault("risk.batch_size", 256)
	v.SetDefault("risk.flush_every", time.Second)
	v.SetDefault("risk.reprice_every", 5*time.Second)

	v.SetDefault("snapshot.group_id", "riskd-snapshot")
	v.SetDefault("snapshot.batch_size", 200)
	v.SetDefault("snapshot.flush_every", 500*time.Millisecond)
}

// Load 读取配置文件, path 为空时只用默认值和环境变量
func Load(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RISKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 基本校验
func (c *Configuration) Validate() error {
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("app.node_id %d out of range [0, 1023]", c.App.NodeID)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if _, err := kafka.ParseCompression(c.Kafka.Compression); err != nil {
		return fmt.Errorf("kafka.compression: %w", err)
	}
	if !c.MySQL.Enabled && c.Metadata.File == "" {
		return fmt.Errorf("metadata.file is required when mysql is disabled")
	}
	if c.Snapshot.Enabled && !(c.MySQL.Enabled && c.Kafka.Enabled) {
		return fmt.Errorf("snapshot requires mysql and kafka")
	}
	if c.Risk.Concurrency <= 0 {
		c.Risk.Concurrency = 1
	}
	if c.Risk.BatchSize <= 0 {
		c.Risk.BatchSize = 1
	}
	return nil
}
