// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the tutor service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// DeployBuckets covers sandbox provisioning and full auto-fix loops, which
// take from seconds to several minutes.
var DeployBuckets = []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300, 600}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route pattern.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorpilot_request_duration_seconds",
			Help:    "Request duration",
			Buckets: DeployBuckets,
		},
		[]string{"method", "route"},
	)

	// DeploymentsInFlight tracks auto-fix loops currently running.
	DeploymentsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorpilot_deployments_in_flight",
			Help: "Active deployment loops",
		},
	)

	// DeploymentsTotal counts finished auto-fix loops by final status.
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_deployments_total",
			Help: "Deployment loop results",
		},
		[]string{"status"},
	)

	// DeploymentAttemptsTotal counts individual attempts by outcome.
	DeploymentAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_deployment_attempts_total",
			Help: "Deployment attempts",
		},
		[]string{"outcome", "category"},
	)

	// AttemptsUsed records how many attempts each loop consumed.
	AttemptsUsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutorpilot_deployment_attempts_used",
			Help:    "Attempts used per deployment loop",
			Buckets: []float64{1, 2, 3, 4, 5, 10},
		},
	)

	// DeploymentDuration records wall time of a full auto-fix loop in seconds.
	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorpilot_deployment_duration_seconds",
			Help:    "Deployment loop duration",
			Buckets: DeployBuckets,
		},
		[]string{"status"},
	)

	// RepairsTotal counts repair generations by result (ok, error, empty).
	RepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_repairs_total",
			Help: "Repair generations",
		},
		[]string{"result"},
	)

	// SandboxOperationsTotal counts runtime operations by kind and status.
	SandboxOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_sandbox_operations_total",
			Help: "Sandbox runtime operations",
		},
		[]string{"operation", "status"},
	)

	// SandboxProvisionLatency records time until a sandbox is usable.
	SandboxProvisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutorpilot_sandbox_provision_latency_seconds",
			Help:    "Sandbox provisioning latency",
			Buckets: DeployBuckets,
		},
	)

	// GeneratorRequestsTotal counts requests sent to the code generator.
	GeneratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_generator_requests_total",
			Help: "Generator requests",
		},
		[]string{"model", "purpose", "status"},
	)

	// GeneratorLatency records generator latency in seconds.
	GeneratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorpilot_generator_latency_seconds",
			Help:    "Generator latency",
			Buckets: LLMBuckets,
		},
		[]string{"model", "purpose"},
	)

	// GeneratorTokensTotal counts tokens processed by direction (input/output).
	GeneratorTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_generator_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)

	// KnowledgeSearchesTotal counts knowledge provider searches by status.
	KnowledgeSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_knowledge_searches_total",
			Help: "Knowledge searches",
		},
		[]string{"status"},
	)

	// ArchiveUploadsTotal counts attempt snapshots written to object storage.
	ArchiveUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_archive_uploads_total",
			Help: "Archived attempt snapshots",
		},
		[]string{"status"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorpilot_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		DeploymentsInFlight,
		DeploymentsTotal,
		DeploymentAttemptsTotal,
		AttemptsUsed,
		DeploymentDuration,
		RepairsTotal,
		SandboxOperationsTotal,
		SandboxProvisionLatency,
		GeneratorRequestsTotal,
		GeneratorLatency,
		GeneratorTokensTotal,
		KnowledgeSearchesTotal,
		ArchiveUploadsTotal,
		RateLimitRejectedTotal,
	)
}
