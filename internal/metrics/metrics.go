// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/plancheckout/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordPurchaseTransition(to model.PurchaseStatus)
	RecordCheckoutSession(outcome string, duration time.Duration)
	RecordWebhookEvent(eventType, outcome string)
	RecordOutboxMessage(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	purchaseTransitions *prometheus.CounterVec
	checkoutSessions    *prometheus.CounterVec
	checkoutLatency     prometheus.Histogram
	webhookEvents       *prometheus.CounterVec
	outboxMessages      *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		purchaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plancheckout_purchase_transitions_total",
			Help: "遷移先ステータス別の購入状態遷移数",
		}, []string{"status"}),
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plancheckout_checkout_sessions_total",
			Help: "結果別の決済セッション作成リクエスト数",
		}, []string{"outcome"}),
		checkoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plancheckout_checkout_session_duration_seconds",
			Help:    "決済セッション作成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plancheckout_webhook_events_total",
			Help: "イベント種別・処理結果別のWebhook受信数",
		}, []string{"event_type", "outcome"}),
		outboxMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plancheckout_outbox_messages_total",
			Help: "送信結果別のoutboxメッセージ数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.purchaseTransitions,
		c.checkoutSessions,
		c.checkoutLatency,
		c.webhookEvents,
		c.outboxMessages,
	)

	return c
}

// RecordPurchaseTransition は実際に行われた購入状態遷移を記録する。
func (c *Collector) RecordPurchaseTransition(to model.PurchaseStatus) {
	c.purchaseTransitions.WithLabelValues(string(to)).Inc()
}

// RecordCheckoutSession は決済セッション作成の結果とレイテンシを記録する。
func (c *Collector) RecordCheckoutSession(outcome string, duration time.Duration) {
	c.checkoutSessions.WithLabelValues(outcome).Inc()
	c.checkoutLatency.Observe(duration.Seconds())
}

// RecordWebhookEvent はWebhookの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordOutboxMessage はoutboxメッセージの送信結果を記録する。
func (c *Collector) RecordOutboxMessage(outcome string) {
	c.outboxMessages.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスのように、APIルーターを持たないプロセスで使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
