package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// Collector records storage service calls in a private Prometheus registry
// and keeps a running summary per operation
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	resultCounter     *prometheus.CounterVec
	openHandles       *prometheus.GaugeVec

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Address   string            `yaml:"address"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// NewDefaultConfig returns a disabled configuration with the standard
// endpoint settings filled in
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "sdmcfs",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector. A disabled collector
// accepts every call and records nothing.
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = NewDefaultConfig()
		config.Enabled = true
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := &Collector{
		config: config,
		logger: logger.With("component", "metrics"),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.operations = make(map[string]*OperationMetrics)
	collector.lastReset = time.Now()
	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

// Enabled reports whether the collector records anything
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry exposes the collector's registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics endpoint, the health check and the operation
// summary
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start listens on the configured address and serves Handler in the
// background
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	c.listener = listener
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server error", "error", err)
		}
	}()
	c.logger.Info("metrics endpoint listening", "address", listener.Addr().String(), "path", c.config.Path)
	return nil
}

// Addr returns the listening address once Start has succeeded
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one storage service call. size is the number of
// bytes moved, zero for calls that move none.
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, err error) {
	if !c.config.Enabled {
		return
	}
	success := err == nil

	c.mu.Lock()
	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	metrics.TotalSize += size
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    map[bool]string{true: "success", false: "error"}[success],
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))
	}

	if !success {
		c.resultCounter.With(prometheus.Labels{
			"operation": operation,
			"result":    classifyError(err),
		}).Inc()
	}
}

// HandleOpened adjusts the open handle gauge for kind ("archive", "file"
// or "directory")
func (c *Collector) HandleOpened(kind string, delta int) {
	if !c.config.Enabled {
		return
	}
	c.openHandles.With(prometheus.Labels{"kind": kind}).Add(float64(delta))
}

// GetMetrics returns a copy of the per-operation summary
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return operations
}

// ResetMetrics clears the per-operation summary. Prometheus series are
// cumulative and are left alone.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	constLabels := prometheus.Labels(c.config.Labels)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of storage service calls",
			ConstLabels: constLabels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of storage service calls in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us to ~3s
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_size_bytes",
			Help:        "Bytes moved by read and write calls",
			Buckets:     prometheus.ExponentialBuckets(512, 2, 14), // 512B to 4MiB
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	c.resultCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Failed storage service calls by result",
			ConstLabels: constLabels,
		},
		[]string{"operation", "result"},
	)

	c.openHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "open_handles",
			Help:        "Handles currently open on the storage service",
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.resultCounter,
		c.openHandles,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// classifyError labels a failure by its result code, or "transport" when
// the call never produced one
func classifyError(err error) string {
	var code types.Result
	if !errors.As(err, &code) {
		return "transport"
	}
	switch code {
	case types.ResultNotFound, types.ResultPathNotFound:
		return "not_found"
	case types.ResultAlreadyExists, types.ResultDirectoryExists:
		return "exists"
	case types.ResultDiskFull:
		return "disk_full"
	case types.ResultAccessDenied:
		return "access_denied"
	case types.ResultNotEmpty:
		return "not_empty"
	case types.ResultInvalidPath, types.ResultPathTooLong:
		return "invalid_path"
	case types.ResultInvalidHandle:
		return "invalid_handle"
	case types.ResultNotSupported:
		return "not_supported"
	default:
		return "other"
	}
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"sdmcfs-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	summary := struct {
		Uptime     string                      `json:"uptime"`
		LastReset  time.Time                   `json:"last_reset"`
		Operations map[string]OperationMetrics `json:"operations"`
	}{
		Uptime:     time.Since(c.lastReset).String(),
		LastReset:  c.lastReset,
		Operations: make(map[string]OperationMetrics, len(c.operations)),
	}
	for k, v := range c.operations {
		summary.Operations[k] = *v
	}
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		c.logger.Debug("failed to write operation summary", "error", err)
	}
}
