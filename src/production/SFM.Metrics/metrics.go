package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "smartfarm_"

	ResultProcessed    = "processed"
	ResultDecodeError  = "decode_error"
	ResultUnmapped     = "unmapped"
	ResultPersistError = "persist_error"
	ResultStoreError   = "store_error"
)

var (
	registerOnce sync.Once

	ingestMessages      *prometheus.CounterVec
	automationToggles   *prometheus.CounterVec
	publishFailures     *prometheus.CounterVec
	presenceTransitions *prometheus.CounterVec
	hubSubscribers      prometheus.Gauge
	hubDropped          prometheus.Counter
	alertsFired         *prometheus.CounterVec
	scheduleRuns        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	forwardBatches      *prometheus.CounterVec
	mqttMessages        *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Calls after the first are no-ops.
func Init() {
	registerOnce.Do(func() {
		ingestMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Inbound device messages by kind and outcome",
			},
			[]string{"kind", "result"},
		)
		automationToggles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "automation_toggles_total",
				Help: "Automation transitions by channel and action",
			},
			[]string{"channel", "action"},
		)
		publishFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "control_publish_failures_total",
				Help: "Control publishes that failed by source",
			},
			[]string{"source"},
		)
		presenceTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "presence_transitions_total",
				Help: "Presence transitions by new status",
			},
			[]string{"status"},
		)
		hubSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "hub_subscribers",
				Help: "Live stream subscribers currently registered",
			},
		)
		hubDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "hub_dropped_events_total",
				Help: "Live events dropped because a subscriber buffer was full",
			},
		)
		alertsFired = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_fired_total",
				Help: "Alerts fired by metric",
			},
			[]string{"metric"},
		)
		scheduleRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "schedule_runs_total",
				Help: "Schedule executions by result",
			},
			[]string{"result"},
		)
		httpDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		)
		forwardBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingestor_forward_batches_total",
				Help: "Batches forwarded from the ingestor to the API service by result",
			},
			[]string{"kind", "result"},
		)
		mqttMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingestor_mqtt_messages_total",
				Help: "MQTT messages received by the ingestor by kind",
			},
			[]string{"kind"},
		)

		prometheus.MustRegister(
			ingestMessages,
			automationToggles,
			publishFailures,
			presenceTransitions,
			hubSubscribers,
			hubDropped,
			alertsFired,
			scheduleRuns,
			httpDuration,
			forwardBatches,
			mqttMessages,
		)
	})
}

// IncIngest counts one inbound device message
func IncIngest(kind, result string) {
	if ingestMessages != nil {
		ingestMessages.WithLabelValues(kind, result).Inc()
	}
}

// IncToggle counts one automation transition
func IncToggle(channel, action string) {
	if automationToggles != nil {
		automationToggles.WithLabelValues(channel, action).Inc()
	}
}

// IncPublishFailure counts a failed control publish
func IncPublishFailure(source string) {
	if publishFailures != nil {
		publishFailures.WithLabelValues(source).Inc()
	}
}

// IncPresence counts a presence transition
func IncPresence(status string) {
	if presenceTransitions != nil {
		presenceTransitions.WithLabelValues(status).Inc()
	}
}

// AddSubscribers moves the live subscriber gauge by delta
func AddSubscribers(delta int) {
	if hubSubscribers != nil {
		hubSubscribers.Add(float64(delta))
	}
}

// IncHubDropped counts an event dropped for a slow subscriber
func IncHubDropped() {
	if hubDropped != nil {
		hubDropped.Inc()
	}
}

// IncAlert counts a fired alert
func IncAlert(metric string) {
	if alertsFired != nil {
		alertsFired.WithLabelValues(metric).Inc()
	}
}

// IncScheduleRun counts a schedule execution
func IncScheduleRun(result string) {
	if scheduleRuns != nil {
		scheduleRuns.WithLabelValues(result).Inc()
	}
}

// IncForwardBatch counts an ingestor forward attempt
func IncForwardBatch(kind, result string) {
	if forwardBatches != nil {
		forwardBatches.WithLabelValues(kind, result).Inc()
	}
}

// IncMQTTMessage counts a message received by the ingestor
func IncMQTTMessage(kind string) {
	if mqttMessages != nil {
		mqttMessages.WithLabelValues(kind).Inc()
	}
}

// GinMiddleware records request latency per matched route
func GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		if httpDuration == nil {
			return
		}
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(ctx.Request.Method, route, strconv.Itoa(ctx.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
