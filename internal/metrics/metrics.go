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
// 認証サービス、ワークアウトサービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(strategy, outcome string)
	RecordSessionCreated(strategy string)
	RecordUserCreated(source string)
	RecordWorkoutMutation(operation string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionsSwept(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts     *prometheus.CounterVec
	sessionsCreated  *prometheus.CounterVec
	usersCreated     *prometheus.CounterVec
	workoutMutations *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	sessionsSwept    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatmiles_auth_attempts_total",
			Help: "認証方式・結果別の認証試行数",
		}, []string{"strategy", "outcome"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatmiles_sessions_created_total",
			Help: "認証方式別の発行セッション数",
		}, []string{"strategy"}),
		usersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatmiles_users_created_total",
			Help: "作成経路（local、各IdP）別の新規ユーザー数",
		}, []string{"source"}),
		workoutMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatmiles_workout_mutations_total",
			Help: "操作別のワークアウト変更数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatmiles_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beatmiles_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beatmiles_sessions_swept_total",
			Help: "クリーンアップで削除された期限切れセッション数",
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.sessionsCreated,
		c.usersCreated,
		c.workoutMutations,
		c.httpStatus,
		c.requestLatency,
		c.sessionsSwept,
	)

	return c
}

// RecordAuthAttempt は認証試行の結果を記録する。
func (c *Collector) RecordAuthAttempt(strategy, outcome string) {
	c.authAttempts.WithLabelValues(strategy, outcome).Inc()
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated(strategy string) {
	c.sessionsCreated.WithLabelValues(strategy).Inc()
}

// RecordUserCreated は新規ユーザー作成を記録する。
func (c *Collector) RecordUserCreated(source string) {
	c.usersCreated.WithLabelValues(source).Inc()
}

// RecordWorkoutMutation はワークアウトの作成・更新・削除を記録する。
func (c *Collector) RecordWorkoutMutation(operation string) {
	c.workoutMutations.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsSwept は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int) {
	c.sessionsSwept.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成やテストで使う。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string) {}
func (Nop) RecordSessionCreated(string) {}
func (Nop) RecordUserCreated(string) {}
func (Nop) RecordWorkoutMutation(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordSessionsSwept(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
