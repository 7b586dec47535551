package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "templatestore"

	metricLabelHandler   = "handler"
	metricLabelStatus    = "status"
	metricLabelBackend   = "backend"
	metricLabelOperation = "operation"
	metricLabelFrom      = "from"
	metricLabelTo        = "to"
)

var (
	// ServiceRequestCounter count the number of requests for each http route
	ServiceRequestCounter = newCounterVec(
		"service_request_count",
		"Count of requests for each handler",
		metricLabelHandler, metricLabelStatus,
	)
	// ServiceRequestDuration observe the duration of requests for each http route
	ServiceRequestDuration = newSummaryVec(
		"service_request_duration_seconds",
		"Seconds to unmarshal requests, execute a storage operation and marshal its reponses",
		metricLabelHandler, metricLabelStatus,
	)
	// StorageOperationCounter count the number of operations per backend
	StorageOperationCounter = newCounterVec(
		"storage_operation_count",
		"Count of storage operations per backend",
		metricLabelBackend, metricLabelOperation, metricLabelStatus,
	)
	// StorageOperationDuration observe the duration of operations per backend
	StorageOperationDuration = newSummaryVec(
		"storage_operation_duration_seconds",
		"Seconds spent in a storage operation",
		metricLabelBackend, metricLabelOperation, metricLabelStatus,
	)
	// FallbackCounter count the number of runtime backend downgrades
	FallbackCounter = newCounterVec(
		"storage_fallback_count",
		"Number of times the storage backend was downgraded after a declined grant",
		metricLabelFrom, metricLabelTo,
	)
	// MigrationCounter count the number of migrations between backends
	MigrationCounter = newCounterVec(
		"storage_migration_count",
		"Number of migrations between storage backends",
		metricLabelFrom, metricLabelTo, metricLabelStatus,
	)
	// ActiveBackendGauge is 1 for the currently bound backend and 0 otherwise
	ActiveBackendGauge = newGaugeVec(
		"storage_active_backend",
		"Currently bound storage backend",
		metricLabelBackend,
	)
	// StorageUsedBytesGauge keep track of the last reported backend usage
	StorageUsedBytesGauge = newGaugeVec(
		"storage_used_bytes",
		"Bytes used by the bound storage backend as of the last info request",
		metricLabelBackend,
	)
)

func newSummaryVec(name, help string, labels ...string) *prometheus.SummaryVec {
	vec := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newGaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}
