// Package metrics defines the Prometheus metric surface exposed by the
// admin HTTP server's /metrics endpoint.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

// Collector provides a central place for all application metrics.
type Collector struct {
	// Ingress metrics
	IngressDatagramsReceived prometheus.Counter
	IngressBytesReceived     prometheus.Counter
	IngressLinesAdmitted     prometheus.Counter
	IngressRateLimitDropped  prometheus.Counter
	IngressPerSourceDropped  prometheus.Counter

	// Parser metrics
	ParserEventsParsed *prometheus.CounterVec
	ParserEventsFailed *prometheus.CounterVec

	// Detector metrics
	DetectorTrackedIPs  prometheus.Gauge
	DetectorDropHitIPs  prometheus.Gauge
	DetectorAcceptHitIPs prometheus.Gauge
	DetectorEvictions   prometheus.Counter

	// Alert metrics
	AlertsRaised     *prometheus.CounterVec
	SIEMSendTotal    *prometheus.CounterVec
	EmailSendTotal   *prometheus.CounterVec

	// Worker pool metrics
	WorkerPoolQueueLen       prometheus.Gauge
	WorkerPoolJobsProcessed  prometheus.Counter
	WorkerPoolJobsFailed     prometheus.Counter
	WorkerPoolJobsTimeout    prometheus.Counter

	// Circuit breaker metrics (email transport only)
	EmailCircuitState prometheus.Gauge

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
	started  bool
}

// NewCollector creates a new metrics collector backed by its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.IngressDatagramsReceived = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ingress", Name: "datagrams_received_total",
		Help: "Total UDP datagrams received.",
	})
	c.IngressBytesReceived = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ingress", Name: "bytes_received_total",
		Help: "Total bytes received over UDP.",
	})
	c.IngressLinesAdmitted = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ingress", Name: "lines_admitted_total",
		Help: "Total lines that passed both rate limiters and were parsed successfully.",
	})
	c.IngressRateLimitDropped = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ingress", Name: "rate_limit_dropped_total",
		Help: "Total datagrams dropped by the global token bucket.",
	})
	c.IngressPerSourceDropped = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ingress", Name: "per_source_dropped_total",
		Help: "Total lines dropped by the secondary per-source-IP limiter.",
	})

	c.ParserEventsParsed = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "parser", Name: "events_parsed_total",
		Help: "Total lines successfully parsed, by parser name.",
	}, []string{"parser"})
	c.ParserEventsFailed = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "parser", Name: "events_failed_total",
		Help: "Total lines that a parser did not recognize.",
	}, []string{"parser"})

	c.DetectorTrackedIPs = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "detector", Name: "tracked_ips",
		Help: "Current number of distinct source IPs with detector state.",
	})
	c.DetectorDropHitIPs = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "detector", Name: "drop_hit_ips",
		Help: "Current number of IPs with a non-empty drop-hit history.",
	})
	c.DetectorAcceptHitIPs = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "detector", Name: "accept_hit_ips",
		Help: "Current number of IPs with a non-empty accept-hit history.",
	})
	c.DetectorEvictions = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "detector", Name: "lru_evictions_total",
		Help: "Total IPs evicted from detector state under max_tracked_ips pressure.",
	})

	c.AlertsRaised = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "alerts", Name: "raised_total",
		Help: "Total alerts raised, by scan kind.",
	}, []string{"kind"})
	c.SIEMSendTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "alerts", Name: "siem_send_total",
		Help: "Total CEF-over-UDP sends to the SIEM endpoint, by outcome.",
	}, []string{"outcome"})
	c.EmailSendTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "alerts", Name: "email_send_total",
		Help: "Total email sends, by outcome.",
	}, []string{"outcome"})

	c.WorkerPoolQueueLen = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "worker_pool", Name: "queue_length",
		Help: "Current alert-dispatch queue depth.",
	})
	c.WorkerPoolJobsProcessed = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker_pool", Name: "jobs_processed_total",
		Help: "Total alert-dispatch jobs processed.",
	})
	c.WorkerPoolJobsFailed = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker_pool", Name: "jobs_failed_total",
		Help: "Total alert-dispatch jobs that returned an error.",
	})
	c.WorkerPoolJobsTimeout = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker_pool", Name: "jobs_timeout_total",
		Help: "Total alert-dispatch jobs that exceeded their timeout.",
	})

	c.EmailCircuitState = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "email", Name: "circuit_state",
		Help: "Email circuit breaker state (0=closed, 1=open, 2=half-open).",
	})

	c.SystemGoroutines = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "system", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
	c.SystemMemAlloc = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "system", Name: "memory_allocated_bytes",
		Help: "Bytes of allocated heap objects.",
	})

	c.HealthStatus = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "health", Name: "status",
		Help: "Health status of components (1=healthy, 0=unhealthy).",
	}, []string{"component"})

	return c
}

// Start begins collecting system metrics periodically. Safe to call more
// than once; only the first call launches the collection goroutine.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			c.collectSystemMetrics()
		}
	}()
}

func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
}

// Registry returns the Prometheus registry backing this collector, for
// wiring into the admin HTTP server's promhttp handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
