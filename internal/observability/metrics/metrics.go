// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "audio_authenticity"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Prediction metrics
	PredictionsTotal    *prometheus.CounterVec
	PredictionsFailed   *prometheus.CounterVec
	PredictionsInFlight prometheus.Gauge
	PredictionDuration  prometheus.Histogram
	PredictionScore     prometheus.Histogram
	StageLatency        *prometheus.HistogramVec

	// Upload metrics
	UploadBytesReceived prometheus.Counter
	UploadsRejected     *prometheus.CounterVec

	// Model metrics
	ModelLoaded prometheus.Gauge
	ModelInfo   *prometheus.GaugeVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Result store metrics
	StoreWrites *prometheus.CounterVec

	// Live feed metrics
	StreamClients prometheus.Gauge

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Prediction metrics
		PredictionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of completed predictions",
		}, []string{"label"}),
		PredictionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_failed_total",
			Help:      "Total number of failed predictions",
		}, []string{"stage", "error_type"}),
		PredictionsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predictions_in_flight",
			Help:      "Number of predictions currently running",
		}),
		PredictionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "End-to-end prediction time in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		PredictionScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_probability",
			Help:      "Distribution of predicted probabilities",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"stage"}),

		// Upload metrics
		UploadBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_received_total",
			Help:      "Total uploaded audio bytes received",
		}),
		UploadsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Total number of requests rejected before decoding",
		}, []string{"reason"}),

		// Model metrics
		ModelLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when a classifier is loaded and serving",
		}),
		ModelInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_info",
			Help:      "Loaded classifier version",
		}, []string{"version"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Result store metrics
		StoreWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Total number of result store writes",
		}, []string{"result"}),

		// Live feed metrics
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Number of connected prediction stream clients",
		}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls",
		}, []string{"method", "code"}),
	}
}

// RecordPredictionStart marks a prediction as running.
func (m *Metrics) RecordPredictionStart() {
	m.PredictionsInFlight.Inc()
}

// RecordPredictionSuccess records a completed prediction.
func (m *Metrics) RecordPredictionSuccess(label string, probability, durationSeconds float64) {
	m.PredictionsInFlight.Dec()
	m.PredictionsTotal.WithLabelValues(label).Inc()
	m.PredictionScore.Observe(probability)
	m.PredictionDuration.Observe(durationSeconds)
}

// RecordPredictionFailure records a prediction that failed in stage.
func (m *Metrics) RecordPredictionFailure(stage, errorType string) {
	m.PredictionsInFlight.Dec()
	m.PredictionsFailed.WithLabelValues(stage, errorType).Inc()
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(stage string, seconds float64) {
	m.StageLatency.WithLabelValues(stage).Observe(seconds)
}

// RecordUpload records uploaded audio bytes.
func (m *Metrics) RecordUpload(bytes int) {
	m.UploadBytesReceived.Add(float64(bytes))
}

// RecordRejected records a request rejected at the boundary.
func (m *Metrics) RecordRejected(reason string) {
	m.UploadsRejected.WithLabelValues(reason).Inc()
}

// SetModel records the loaded model version, or clears it when version is
// empty.
func (m *Metrics) SetModel(version string) {
	m.ModelInfo.Reset()
	if version == "" {
		m.ModelLoaded.Set(0)
		return
	}
	m.ModelLoaded.Set(1)
	m.ModelInfo.WithLabelValues(version).Set(1)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordStoreWrite records a result store write.
func (m *Metrics) RecordStoreWrite(err error) {
	if err != nil {
		m.StoreWrites.WithLabelValues("error").Inc()
		return
	}
	m.StoreWrites.WithLabelValues("ok").Inc()
}

// RecordGRPC records a finished gRPC call.
func (m *Metrics) RecordGRPC(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
