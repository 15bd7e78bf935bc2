package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RunDuration, RunTotal, RunsInFlight,
		TicketTotal, DispatchErrorTotal, BreakerState,
		RunsExpiredTotal,
	)
}

// RunDuration 协调运行耗时（秒）
var RunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "malo_run_duration_seconds",
		Help:    "协调运行耗时（秒）",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
	[]string{"kind"}, // handover | onboarding
)

// RunTotal 协调运行总数（按结果）
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "malo_run_total",
		Help: "协调运行总数（按结果）",
	},
	[]string{"kind", "state"}, // completed | timed_out | failed
)

// RunsInFlight 当前进行中的运行数
var RunsInFlight = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "malo_runs_in_flight",
		Help: "当前进行中的协调运行数",
	},
	[]string{"kind"},
)

// TicketTotal 票据终态计数
var TicketTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "malo_ticket_total",
		Help: "票据终态计数",
	},
	[]string{"state"}, // resolved | unresolved
)

// DispatchErrorTotal 下发请求失败数（按对手方）
var DispatchErrorTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "malo_dispatch_error_total",
		Help: "下发请求失败数",
	},
	[]string{"counterparty"},
)

// BreakerState 熔断器状态：0 closed，1 half-open，2 open
var BreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "malo_breaker_state",
		Help: "对手方熔断器状态",
	},
	[]string{"counterparty"},
)

// RunsExpiredTotal 被超时巡检强制结束的运行数
var RunsExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "malo_runs_expired_total",
		Help: "被超时巡检强制结束的运行数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
