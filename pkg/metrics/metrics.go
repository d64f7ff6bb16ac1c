package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	TimerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roost_timer_queue_depth",
			Help: "Number of entries currently waiting in the deadline queue",
		},
	)

	TimerTasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_timer_tasks_scheduled_total",
			Help: "Total number of tasks submitted to the scheduler",
		},
	)

	TimerTasksExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_timer_tasks_executed_total",
			Help: "Total number of task executions completed",
		},
	)

	TimerTaskFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_timer_task_failures_total",
			Help: "Total number of task executions that panicked",
		},
	)

	TimerWaitFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_timer_wait_failures_total",
			Help: "Total number of timed-wait failures that degraded to plain sleep",
		},
	)

	TimerLoopFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_timer_loop_failures_total",
			Help: "Total number of fatal scheduler loop terminations",
		},
	)

	TimerTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roost_timer_task_duration_seconds",
			Help:    "Task action execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Device metrics
	DevicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_devices_total",
			Help: "Total number of storage devices by kind",
		},
		[]string{"kind"},
	)

	AttachmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_attachments_total",
			Help: "Total number of device attachments by state",
		},
		[]string{"state"},
	)

	AttachAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_attach_attempts_total",
			Help: "Total number of attach operations by outcome",
		},
		[]string{"outcome"},
	)

	AttachDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roost_attach_duration_seconds",
			Help:    "Device attach operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EjectPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_eject_polls_total",
			Help: "Total number of tray-state polls performed during ejects",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TimerQueueDepth)
	prometheus.MustRegister(TimerTasksScheduled)
	prometheus.MustRegister(TimerTasksExecuted)
	prometheus.MustRegister(TimerTaskFailures)
	prometheus.MustRegister(TimerWaitFailures)
	prometheus.MustRegister(TimerLoopFailures)
	prometheus.MustRegister(TimerTaskDuration)
	prometheus.MustRegister(DevicesTotal)
	prometheus.MustRegister(AttachmentsTotal)
	prometheus.MustRegister(AttachAttemptsTotal)
	prometheus.MustRegister(AttachDuration)
	prometheus.MustRegister(EjectPollsTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on the given address. It blocks until the listener
// fails, so callers run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
