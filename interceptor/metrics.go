package interceptor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luhaoyun888/go-imap-xfer"
)

// Metrics 收集传输相关的 Prometheus 指标。
type Metrics struct {
	Transfers *prometheus.CounterVec   // 按模式、能力和结果统计的传输次数
	Messages  *prometheus.CounterVec   // 已传输的邮件数
	Duration  *prometheus.HistogramVec // 传输耗时
}

// NewMetrics 创建收集器并注册到 reg。
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xfer",
			Name:      "transfers_total",
			Help:      "Number of transfers by mode, capability and result.",
		}, []string{"mode", "capability", "result"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xfer",
			Name:      "messages_total",
			Help:      "Number of messages resolved for transfers that succeeded.",
		}, []string{"mode"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xfer",
			Name:      "transfer_duration_seconds",
			Help:      "Duration of transfers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	for _, c := range []prometheus.Collector{m.Transfers, m.Messages, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Interceptor 返回更新指标的拦截器。
func (m *Metrics) Interceptor() xfer.Interceptor {
	return func(next xfer.Handler) xfer.Handler {
		return func(ctx context.Context, inv *xfer.Invocation) (*xfer.Result, error) {
			mode := inv.Request.ModeName()
			start := time.Now()

			res, err := next(ctx, inv)
			m.Duration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

			result := "success"
			if err != nil {
				result = "error"
				if stage := xfer.StageOf(err); stage != xfer.StageNone {
					result = stage.String() + "_error"
				}
			} else {
				m.Messages.WithLabelValues(mode).Add(float64(res.Resolved))
			}
			m.Transfers.WithLabelValues(mode, inv.Capability.String(), result).Inc()
			return res, err
		}
	}
}
