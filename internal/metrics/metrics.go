// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordExportRequested(format string)
	RecordRenderSuccess(format string)
	RecordRenderFailure(format string, reason string)
	RecordRenderLatency(duration time.Duration)
	RecordWebhookEvent(eventType string, outcome string)
	RecordEntitlementRejection(reason string)
}

// 制限による拒否理由のラベル値。
const (
	RejectQuota   = "quota"
	RejectPremium = "premium"
	RejectFormat  = "format"
	RejectDPI     = "dpi"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	exportsRequested *prometheus.CounterVec
	renderSuccess    *prometheus.CounterVec
	renderFail       *prometheus.CounterVec
	renderLatency    prometheus.Histogram
	webhookEvents    *prometheus.CounterVec
	rejections       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		exportsRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designstudio_exports_requested_total",
			Help: "受け付けたエクスポート要求の合計数",
		}, []string{"format"}),
		renderSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designstudio_render_success_total",
			Help: "レンダリング成功の合計数",
		}, []string{"format"}),
		renderFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designstudio_render_fail_total",
			Help: "レンダリング失敗の合計数",
		}, []string{"format", "reason"}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "designstudio_render_latency_seconds",
			Help:    "レンダリングからアップロード完了までのレイテンシ（秒）",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designstudio_webhook_events_total",
			Help: "課金Webhookイベントの処理数",
		}, []string{"event_type", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designstudio_entitlement_rejections_total",
			Help: "プランの制限により拒否された操作の合計数",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.exportsRequested,
		c.renderSuccess,
		c.renderFail,
		c.renderLatency,
		c.webhookEvents,
		c.rejections,
	)

	return c
}

// RecordExportRequested はエクスポート要求の受け付けを記録する。
func (c *Collector) RecordExportRequested(format string) {
	c.exportsRequested.WithLabelValues(format).Inc()
}

// RecordRenderSuccess はレンダリング成功を記録する。
func (c *Collector) RecordRenderSuccess(format string) {
	c.renderSuccess.WithLabelValues(format).Inc()
}

// RecordRenderFailure はレンダリング失敗を記録する。
// reasonは retry（再試行予定）または final（最終失敗）。
func (c *Collector) RecordRenderFailure(format string, reason string) {
	c.renderFail.WithLabelValues(format, reason).Inc()
}

// RecordRenderLatency はレンダリングのレイテンシを記録する。
func (c *Collector) RecordRenderLatency(duration time.Duration) {
	c.renderLatency.Observe(duration.Seconds())
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType string, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordEntitlementRejection はプラン制限による拒否を記録する。
func (c *Collector) RecordEntitlementRejection(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordExportRequested(string) {}
func (Nop) RecordRenderSuccess(string) {}
func (Nop) RecordRenderFailure(string, string) {}
func (Nop) RecordRenderLatency(time.Duration) {}
func (Nop) RecordWebhookEvent(string, string) {}
func (Nop) RecordEntitlementRejection(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを登録したServeMuxを返す。
// APIルーターを持たないワーカープロセスがスクレイプ用に公開する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
