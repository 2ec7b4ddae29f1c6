// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordCheckout(result string)
	RecordVerification(outcome string)
	RecordProvisioning(outcome string)
	RecordEmail(provider, result string)
	RecordHTTPStatus(statusCode int)
	RecordUpstreamLatency(upstream string, duration time.Duration)
}

// 上流サービス名（upstream_latency_secondsのラベル値）
const (
	UpstreamStripe  = "stripe"
	UpstreamTracker = "tracker"
	UpstreamEmail   = "email"
	UpstreamRelay   = "relay"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkouts       *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	provisionings   *prometheus.CounterVec
	emails          *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackergate_checkout_sessions_total",
			Help: "チェックアウトセッション作成の結果別件数",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackergate_session_verifications_total",
			Help: "セッション検証の結果別件数",
		}, []string{"outcome"}),
		provisionings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackergate_provisioning_total",
			Help: "Trackerアカウント発行の結果別件数",
		}, []string{"outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackergate_emails_sent_total",
			Help: "プロバイダー別・結果別のメール送信件数",
		}, []string{"provider", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackergate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackergate_upstream_latency_seconds",
			Help:    "上流サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
	}

	reg.MustRegister(
		c.checkouts,
		c.verifications,
		c.provisionings,
		c.emails,
		c.httpStatus,
		c.upstreamLatency,
	)

	return c
}

// RecordCheckout はチェックアウトセッション作成の結果を記録する。
func (c *Collector) RecordCheckout(result string) {
	c.checkouts.WithLabelValues(result).Inc()
}

// RecordVerification はセッション検証の結果を記録する。
func (c *Collector) RecordVerification(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// RecordProvisioning はアカウント発行の結果を記録する。
func (c *Collector) RecordProvisioning(outcome string) {
	c.provisionings.WithLabelValues(outcome).Inc()
}

// RecordEmail はメール送信の結果を記録する。
func (c *Collector) RecordEmail(provider, result string) {
	c.emails.WithLabelValues(provider, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency は上流サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(upstream string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(upstream).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordCheckout(string)                       {}
func (Nop) RecordVerification(string)                   {}
func (Nop) RecordProvisioning(string)                   {}
func (Nop) RecordEmail(string, string)                  {}
func (Nop) RecordHTTPStatus(int)                        {}
func (Nop) RecordUpstreamLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
