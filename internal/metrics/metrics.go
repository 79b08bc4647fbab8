// Package metrics 定义平台自身暴露给 Prometheus 的指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIVisited 按路由模板和状态码统计请求次数。
	APIVisited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_visited_counter",
		Help: "Count of visited api requests",
	}, []string{"method", "route", "status"})

	// DeploymentTimeConsumed 记录部署从受理到终态的耗时。
	DeploymentTimeConsumed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deployment_time_consumed",
		Help:    "Time consumed by deployments in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"status"})

	NewApplication = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "new_application",
		Help: "Count of newly provisioned wl apps",
	}, []string{"region", "type"})

	// ProcessOperate 按操作类型统计进程操作。
	ProcessOperate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "process_operate",
		Help: "Count of process operations",
	}, []string{"operation", "result"})
)

// ObserveDeployment 记录一次部署的耗时。
func ObserveDeployment(status string, started time.Time) {
	DeploymentTimeConsumed.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// Result 把 error 归一化为指标标签。
func Result(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
