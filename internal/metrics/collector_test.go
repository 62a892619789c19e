package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/sdmcfs/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enabledConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Address = "127.0.0.1:0"
	return cfg
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		c, err := NewCollector(enabledConfig(), testLogger())
		require.NoError(t, err)
		assert.True(t, c.Enabled())
		assert.NotNil(t, c.Registry())
	})

	t.Run("nil config enables defaults", func(t *testing.T) {
		t.Parallel()
		c, err := NewCollector(nil, nil)
		require.NoError(t, err)
		assert.True(t, c.Enabled())
		assert.Equal(t, "/metrics", c.config.Path)
		assert.Equal(t, "sdmcfs", c.config.Namespace)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		c, err := NewCollector(NewDefaultConfig(), testLogger())
		require.NoError(t, err)
		assert.False(t, c.Enabled())
		assert.Nil(t, c.Registry())

		c.RecordOperation(OpReadFile, time.Millisecond, 10, nil)
		c.HandleOpened("file", 1)
		assert.Empty(t, c.GetMetrics())
		assert.NoError(t, c.Start(context.Background()))
		assert.Empty(t, c.Addr())
	})
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(enabledConfig(), testLogger())
	require.NoError(t, err)

	c.RecordOperation(OpReadFile, 2*time.Millisecond, 100, nil)
	c.RecordOperation(OpReadFile, 4*time.Millisecond, 300, types.ResultNotFound)
	c.RecordOperation(OpOpenFile, time.Millisecond, 0, errors.New("broken pipe"))

	ops := c.GetMetrics()
	require.Contains(t, ops, OpReadFile)
	read := ops[OpReadFile]
	assert.Equal(t, int64(2), read.Count)
	assert.Equal(t, int64(1), read.Errors)
	assert.Equal(t, int64(400), read.TotalSize)
	assert.Equal(t, 3*time.Millisecond, read.AvgDuration)
	assert.InDelta(t, 200.0, read.AvgSize, 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues(OpReadFile, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues(OpReadFile, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resultCounter.WithLabelValues(OpReadFile, "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resultCounter.WithLabelValues(OpOpenFile, "transport")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.operationSize))

	c.ResetMetrics()
	assert.Empty(t, c.GetMetrics())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues(OpReadFile, "success")))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{types.ResultNotFound, "not_found"},
		{types.ResultPathNotFound, "not_found"},
		{types.ResultDirectoryExists, "exists"},
		{types.ResultDiskFull, "disk_full"},
		{types.ResultAccessDenied, "access_denied"},
		{types.ResultNotEmpty, "not_empty"},
		{types.ResultPathTooLong, "invalid_path"},
		{types.ResultInvalidHandle, "invalid_handle"},
		{types.ResultNotSupported, "not_supported"},
		{types.Result(0xDEADBEEF), "other"},
		{errors.New("timeout"), "transport"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyError(tt.err), "%v", tt.err)
	}
}

func TestConstLabels(t *testing.T) {
	t.Parallel()

	cfg := enabledConfig()
	cfg.Labels = map[string]string{"card": "primary"}
	c, err := NewCollector(cfg, testLogger())
	require.NoError(t, err)

	c.RecordOperation(OpFlushFile, time.Millisecond, 0, nil)
	expected := `
# HELP sdmcfs_operations_total Total number of storage service calls
# TYPE sdmcfs_operations_total counter
sdmcfs_operations_total{card="primary",operation="flush_file",status="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "sdmcfs_operations_total"))
}

func TestHandler(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(enabledConfig(), testLogger())
	require.NoError(t, err)
	c.RecordOperation(OpWriteFile, time.Millisecond, 8, nil)

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sdmcfs_operations_total{operation="write_file",status="success"} 1`)

	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"healthy","service":"sdmcfs-metrics"}`, string(body))

	resp, err = http.Get(server.URL + "/debug/operations")
	require.NoError(t, err)
	defer resp.Body.Close()
	var summary struct {
		Operations map[string]OperationMetrics `json:"operations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, int64(1), summary.Operations[OpWriteFile].Count)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(enabledConfig(), testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	addr := c.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, c.Stop(ctx))
}

func TestStartListenFailure(t *testing.T) {
	t.Parallel()

	cfg := enabledConfig()
	cfg.Address = "256.0.0.1:bad"
	c, err := NewCollector(cfg, testLogger())
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
}
