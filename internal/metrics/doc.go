/*
Package metrics records storage service calls as Prometheus metrics.

# Architecture

	sdmc.Device ──> metrics.Service ──> storage service (hostfs, s3, ipc client)
	                     │
	                 Collector ──> /metrics  /health  /debug/operations

Instrument wraps any types.Service. Each call increments
sdmcfs_operations_total{operation,status}, observes its latency in
sdmcfs_operation_duration_seconds and, for reads and writes, the bytes moved
in sdmcfs_operation_size_bytes. Failures are counted in
sdmcfs_errors_total{operation,result}, where result is derived from the
storage result code, or "transport" when the call produced none.
sdmcfs_open_handles{kind} tracks open archives, files and directories.

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "sdmcfs",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	dev := sdmc.New(metrics.Instrument(svc, collector), sdmc.Config{Logger: logger})

A disabled collector records nothing, and Instrument returns the service
unwrapped.
*/
package metrics
