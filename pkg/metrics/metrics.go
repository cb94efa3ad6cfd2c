// 文件: pkg/metrics/metrics.go
// Prometheus 指标
//
// 每个 Metrics 用独立 Registry, 测试之间互不干扰

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "riskd"

// Metrics 服务指标
type Metrics struct {
	registry *prometheus.Registry

	AccountsBuilt        *prometheus.CounterVec // symbol
	AccountErrors        *prometheus.CounterVec // kind
	RiskLevels           *prometheus.CounterVec // level
	Projections          *prometheus.CounterVec // kind
	PriceMisses          *prometheus.CounterVec // pair
	PublishErrors        *prometheus.CounterVec // topic
	EvaluationLatency    prometheus.Histogram   // 一批账户
	QuotesReceived       prometheus.Counter
	RegisteredPerpetuals prometheus.Gauge
}

// New 创建并注册所有指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AccountsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_built_total",
			Help:      "Margin accounts decoded from trader state",
		}, []string{"symbol"}),
		AccountErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_errors_total",
			Help:      "Trader states that could not be decoded, by error kind",
		}, []string{"kind"}),
		RiskLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_levels_total",
			Help:      "Evaluated accounts by risk level",
		}, []string{"level"}),
		Projections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projections_total",
			Help:      "Trade and collateral projections",
		}, []string{"kind"}),
		PriceMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_misses_total",
			Help:      "Index prices that could not be triangulated",
		}, []string{"pair"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Events that failed to publish",
		}, []string{"topic"}),
		EvaluationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_seconds",
			Help:      "Latency of one batch evaluation",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		QuotesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_received_total",
			Help:      "Price quotes written into the quote book",
		}),
		RegisteredPerpetuals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_perpetuals",
			Help:      "Perpetuals in the active registry",
		}),
	}

	reg.MustRegister(
		m.AccountsBuilt,
		m.AccountErrors,
		m.RiskLevels,
		m.Projections,
		m.PriceMisses,
		m.PublishErrors,
		m.EvaluationLatency,
		m.QuotesReceived,
		m.RegisteredPerpetuals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 供测试读取
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveEvaluation 记录一批耗时
func (m *Metrics) ObserveEvaluation(start time.Time) {
	m.EvaluationLatency.Observe(time.Since(start).Seconds())
}

// =============================================================================
// HTTP 导出
// =============================================================================

// Server /metrics 端点
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer 创建导出服务
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start 后台监听
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}
