package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/sdmcfs/internal/config"
	"github.com/objectfs/sdmcfs/pkg/errors"
)

// sdcard returns a host archive with a small directory tree
func sdcard(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "3ds", "saves"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "3ds", "boot.cfg"), []byte("config"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("hello"), 0o644))
	return root
}

func runQuiet(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(append([]string{args[0], "--log-level", "ERROR"}, args[1:]...), &out)
	return out.String(), err
}

func TestUsage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(nil, &out))
	for _, cmd := range commands {
		assert.Contains(t, out.String(), cmd.name)
	}

	out.Reset()
	require.NoError(t, run([]string{"ls", "--help"}, &out))
	assert.Contains(t, out.String(), "sdmcfs ls [flags] <storage-uri> [path]")
	assert.Contains(t, out.String(), "--log-level")
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{name: "unknown command", args: []string{"format"}, code: errors.ErrCodeValidationFailed},
		{name: "unknown flag", args: []string{"ls", "--colour"}, code: errors.ErrCodeValidationFailed},
		{name: "missing storage uri", args: []string{"ls"}, code: errors.ErrCodeValidationFailed},
		{name: "too many args", args: []string{"mtime", "./a", "/b", "/c"}, code: errors.ErrCodeValidationFailed},
		{name: "bad scheme", args: []string{"df", "ftp://host"}, code: errors.ErrCodeInvalidConfig},
		{name: "bad log level", args: []string{"df", "--log-level", "LOUD", "./sdcard"}, code: errors.ErrCodeConfigValidation},
		{name: "missing config file", args: []string{"df", "-c", "/nonexistent/sdmcfs.yaml", "./sdcard"}, code: errors.ErrCodeConfigLoad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestLs(t *testing.T) {
	root := sdcard(t)

	out, err := runQuiet(t, "ls", root)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, out, "3ds/")
	assert.Regexp(t, `^-\s+5  readme\.txt$`, findLine(lines, "readme.txt"))

	out, err = runQuiet(t, "ls", root, "sdmc:/3ds")
	require.NoError(t, err)
	assert.Contains(t, out, "saves/")
	assert.Contains(t, out, "boot.cfg")

	_, err = runQuiet(t, "ls", root, "/missing")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeOperationFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "DirOpen")
}

func findLine(lines []string, substr string) string {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return line
		}
	}
	return ""
}

func TestMtime(t *testing.T) {
	root := sdcard(t)
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "readme.txt"), stamp, stamp))

	out, err := runQuiet(t, "mtime", root, "/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "1709294400\t2024-03-01T12:00:00Z\n", out)
}

func TestDf(t *testing.T) {
	root := sdcard(t)

	out, err := runQuiet(t, "df", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Device")
	assert.Contains(t, out, "sdmc:")
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdmcfs.yaml")
	cfg := config.NewDefault()
	cfg.Global.LogLevel = "DEBUG"
	cfg.Device.SafeWrite = true
	cfg.Server.SocketPath = "/run/from-file.sock"
	require.NoError(t, cfg.SaveToFile(path))

	t.Setenv("SDMCFS_LOG_FORMAT", "json")

	loaded, err := loadConfig(&options{
		configFile:     path,
		unsafeWrite:    true,
		metricsAddress: "127.0.0.1:0",
		socketPath:     "/run/from-flag.sock",
	}, "s3://cards/primary")
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", loaded.Global.LogLevel)
	assert.Equal(t, "json", loaded.Global.LogFormat)
	assert.False(t, loaded.Device.SafeWrite)
	assert.True(t, loaded.Metrics.Enabled)
	assert.Equal(t, config.BackendS3, loaded.Backend.Kind)
	assert.Equal(t, "cards", loaded.Backend.S3.Bucket)
	assert.Equal(t, "primary", loaded.Backend.S3.Prefix)
	assert.Equal(t, "/run/from-flag.sock", loaded.Server.SocketPath)
}
