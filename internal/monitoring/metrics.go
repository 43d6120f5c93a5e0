package monitoring

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// KubernetesLabels holds Kubernetes metadata labels
var (
	kubernetesNamespace = os.Getenv("KUBERNETES_NAMESPACE")
	kubernetesPodName   = os.Getenv("KUBERNETES_POD_NAME")
	helmReleaseName     = os.Getenv("HELM_RELEASE_NAME")
	helmChartVersion    = os.Getenv("HELM_CHART_VERSION")
)

// getKubernetesLabels returns the Kubernetes labels for metrics
func getKubernetesLabels() prometheus.Labels {
	labels := prometheus.Labels{}

	if kubernetesNamespace != "" {
		labels["kubernetes_namespace"] = kubernetesNamespace
	}
	if kubernetesPodName != "" {
		labels["kubernetes_pod_name"] = kubernetesPodName
	}
	if helmReleaseName != "" {
		labels["helm_release"] = helmReleaseName
	}
	if helmChartVersion != "" {
		labels["helm_chart_version"] = helmChartVersion
	}

	return labels
}

// Registry with Kubernetes labels
var (
	registry = newRegistry()
	factory  = promauto.With(prometheus.WrapRegistererWith(getKubernetesLabels(), registry))
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Registry returns the registry all protected-store metrics are registered with
func Registry() *prometheus.Registry {
	return registry
}

// Prometheus metrics for the protected store
var (
	// HTTP Request metrics
	RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pstore_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ActiveConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "pstore_active_connections",
			Help: "Number of active connections",
		},
	)

	// Protection pipeline metrics
	PipelineSessionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_pipeline_sessions_total",
			Help: "Total number of protection sessions by direction and outcome",
		},
		[]string{"direction", "status"},
	)

	PipelineSessionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pstore_pipeline_session_duration_seconds",
			Help:    "Protection session duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
		},
		[]string{"direction"},
	)

	PipelineBlocksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_pipeline_blocks_total",
			Help: "Total number of blocks transformed",
		},
		[]string{"direction"},
	)

	PipelineBytesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_pipeline_bytes_total",
			Help: "Total content bytes emitted by the pipeline",
		},
		[]string{"direction"},
	)

	// Storage backend metrics
	StorageOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_storage_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"operation", "backend", "status"},
	)

	StorageOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pstore_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	StorageThroughput = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pstore_storage_throughput_mbps",
			Help:    "Storage transfer throughput in MB/s",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"operation", "object_size_category"},
	)

	// Server metrics
	ServerInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pstore_server_info",
			Help: "Server build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	ProtectionInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pstore_protection_info",
			Help: "Content protection state (1 = enabled, 0 = passthrough)",
		},
		[]string{"algorithm"},
	)
)

// SetServerInfo sets server build information
func SetServerInfo(version, commit, buildTime string) {
	ServerInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// SetProtectionInfo publishes whether content protection is active
func SetProtectionInfo(algorithm string, enabled bool) {
	value := float64(0)
	if enabled {
		value = 1
	}
	if algorithm == "" {
		algorithm = "none"
	}
	ProtectionInfo.WithLabelValues(algorithm).Set(value)
}

// RecordStorageOperation records metrics for a backend operation
func RecordStorageOperation(operation, backend, status string, duration time.Duration) {
	StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordStorageThroughput records transfer throughput for an operation
func RecordStorageThroughput(operation string, bytesTransferred int64, duration time.Duration) {
	sizeCategory := getObjectSizeCategory(bytesTransferred)
	if duration.Seconds() > 0 {
		mbps := float64(bytesTransferred) / (1024 * 1024) / duration.Seconds()
		StorageThroughput.WithLabelValues(operation, sizeCategory).Observe(mbps)
	}
}

// getObjectSizeCategory categorizes objects by size for better metrics analysis
func getObjectSizeCategory(size int64) string {
	if size < 1024 {
		return "tiny" // < 1KB
	} else if size < 1024*1024 {
		return "small" // < 1MB
	} else if size < 10*1024*1024 {
		return "medium" // < 10MB
	} else if size < 100*1024*1024 {
		return "large" // < 100MB
	}
	return "huge" // >= 100MB
}
