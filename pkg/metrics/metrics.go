// Package metrics exposes the Prometheus metrics the Task coordinator and
// listener scheduler observe (the rate limiter registers its own
// collectors in pkg/ratelimit): one struct of
// pre-registered collectors, constructed once against a Registerer, with
// Observe*/Set* methods per concern.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes the protocol's observable side effects:
// completed_tasks_total{plugin_id}, task_duration_total (modeled as a
// histogram — "_total" is kept in the metric name even though it is not a
// Counter), plus scheduler and listener gauges.
type Recorder struct {
	completedTasks      *prometheus.CounterVec
	taskDuration        *prometheus.HistogramVec
	failedTasks         *prometheus.CounterVec
	listenerLag         *prometheus.GaugeVec
	schedulerRunning    *prometheus.GaugeVec
	kafkaConsumerLag    *prometheus.GaugeVec
	auditQueueDepth     prometheus.Gauge
	auditWriteFailures  prometheus.Counter
}

// NewRecorder constructs and registers a Recorder against reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		completedTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "completed_tasks_total",
			Help: "Total number of Tasks that reached a successful terminal state, by plugin id.",
		}, []string{"plugin_id"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "task_duration_total",
			Help:    "Wall-clock duration of completed Tasks, by plugin id.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin_id"}),
		failedTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "failed_tasks_total",
			Help: "Total number of Tasks that reached a failing terminal state, by plugin id and error kind.",
		}, []string{"plugin_id", "kind"}),
		listenerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "listener_lag_blocks",
			Help: "Blocks/slots between a listener's last-processed height and the source chain head.",
		}, []string{"listener_id"}),
		schedulerRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "listener_running",
			Help: "1 if the listener's run() is currently in flight, else 0.",
		}, []string{"listener_id"}),
		kafkaConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "webhook_eventbus_consumer_lag",
			Help: "Messages between the last consumed offset and the partition's high water mark, by topic and partition.",
		}, []string{"topic", "partition"}),
		auditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "task_audit_queue_depth",
			Help: "Number of TaskAuditRecords buffered in the audit sink's write queue.",
		}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "task_audit_write_failures_total",
			Help: "Total number of TaskAuditRecord writes that failed and were logged-and-dropped.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.completedTasks, r.taskDuration, r.failedTasks, r.listenerLag, r.schedulerRunning,
			r.kafkaConsumerLag, r.auditQueueDepth, r.auditWriteFailures)
	}
	return r
}

// ObserveTaskSuccess records a Task's successful completion.
func (r *Recorder) ObserveTaskSuccess(pluginID string, duration time.Duration) {
	r.completedTasks.WithLabelValues(pluginID).Inc()
	r.taskDuration.WithLabelValues(pluginID).Observe(duration.Seconds())
}

// ObserveTaskFailure records a Task's failing terminal state. Per the
// protocol, failures do not increment completedTasks or taskDuration —
// only success does.
func (r *Recorder) ObserveTaskFailure(pluginID string, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	r.failedTasks.WithLabelValues(pluginID, kind).Inc()
}

// SetListenerLag records a listener's distance from the source chain head.
func (r *Recorder) SetListenerLag(listenerID string, lag int64) {
	r.listenerLag.WithLabelValues(listenerID).Set(float64(lag))
}

// SetListenerRunning toggles the per-listener in-flight gauge.
func (r *Recorder) SetListenerRunning(listenerID string, running bool) {
	if running {
		r.schedulerRunning.WithLabelValues(listenerID).Set(1)
	} else {
		r.schedulerRunning.WithLabelValues(listenerID).Set(0)
	}
}

// SetKafkaConsumerLag records the internal webhook event bus consumer's
// distance from a partition's high water mark.
func (r *Recorder) SetKafkaConsumerLag(topic string, partition int32, lag int64) {
	r.kafkaConsumerLag.WithLabelValues(topic, formatPartition(partition)).Set(float64(lag))
}

// SetAuditQueueDepth records the audit sink's buffered-record count.
func (r *Recorder) SetAuditQueueDepth(depth int) {
	r.auditQueueDepth.Set(float64(depth))
}

// IncAuditWriteFailure records one dropped/failed TaskAuditRecord write.
func (r *Recorder) IncAuditWriteFailure() {
	r.auditWriteFailures.Inc()
}

func formatPartition(p int32) string {
	return strconv.Itoa(int(p))
}

// Handler serves the Prometheus text exposition format for reg. The
// protocol exposes this on a third, dedicated port (§6).
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
