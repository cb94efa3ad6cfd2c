package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.AccountsBuilt.WithLabelValues("BTC-USD-MATIC").Inc()
	m.AccountsBuilt.WithLabelValues("BTC-USD-MATIC").Inc()
	m.RiskLevels.WithLabelValues("DANGER").Inc()
	m.RegisteredPerpetuals.Set(3)
	m.ObserveEvaluation(time.Now().Add(-time.Millisecond))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AccountsBuilt.WithLabelValues("BTC-USD-MATIC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RiskLevels.WithLabelValues("DANGER")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegisteredPerpetuals))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EvaluationLatency))

	// 两个实例互不干扰
	other := New()
	assert.Equal(t, 0.0, testutil.ToFloat64(other.RegisteredPerpetuals))
}

func TestServer_Handler(t *testing.T) {
	m := New()
	m.QuotesReceived.Add(5)
	s := NewServer(":0", m, zap.NewNop())

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "riskd_quotes_received_total 5")

	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
