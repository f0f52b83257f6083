// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は認証・認可まわりのPrometheusメトリクスを収集する。
// auth.MetricsRecorderとproject.MetricsRecorderの両方を満たす。
type Collector struct {
	loginSuccess    prometheus.Counter
	loginFail       prometheus.Counter
	tokensIssued    prometheus.Counter
	sessionResolved *prometheus.CounterVec
	authzDenied     prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projecthub_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projecthub_login_fail_total",
			Help: "ログイン失敗（交換・検証・永続化の失敗）の合計数",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projecthub_tokens_issued_total",
			Help: "発行されたセッショントークンの合計数",
		}),
		sessionResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "projecthub_session_resolved_total",
			Help: "セッション解決の結果別の合計数",
		}, []string{"result"}),
		authzDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projecthub_authz_denied_total",
			Help: "認可ガードが拒否したプロジェクト変更操作の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "projecthub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.tokensIssued,
		c.sessionResolved,
		c.authzDenied,
		c.httpStatus,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFail.Inc()
}

// RecordTokenIssued はセッショントークンの発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordSessionResolved はセッション解決の結果を記録する。
func (c *Collector) RecordSessionResolved(authenticated bool) {
	result := "anonymous"
	if authenticated {
		result = "authenticated"
	}
	c.sessionResolved.WithLabelValues(result).Inc()
}

// RecordAuthzDenied は認可ガードによる拒否を記録する。
func (c *Collector) RecordAuthzDenied() {
	c.authzDenied.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
