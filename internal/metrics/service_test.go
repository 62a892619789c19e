package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/sdmcfs/internal/storage/hostfs"
	"github.com/objectfs/sdmcfs/internal/wire"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// plainService hides the session exemption methods of the service it wraps
type plainService struct {
	types.Service
}

func asciiPath(p string) types.Path {
	return types.Path{Type: types.PathASCII, Data: []byte(p + "\x00")}
}

func TestInstrumentPassThrough(t *testing.T) {
	t.Parallel()

	svc, err := hostfs.New(t.TempDir())
	require.NoError(t, err)

	assert.Same(t, svc, Instrument(svc, nil))

	disabled, err := NewCollector(NewDefaultConfig(), testLogger())
	require.NoError(t, err)
	assert.Same(t, svc, Instrument(svc, disabled))
}

func TestInstrumentExemption(t *testing.T) {
	t.Parallel()

	svc, err := hostfs.New(t.TempDir())
	require.NoError(t, err)
	c, err := NewCollector(enabledConfig(), testLogger())
	require.NoError(t, err)

	_, ok := Instrument(svc, c).(types.SessionExempter)
	assert.True(t, ok)

	_, ok = Instrument(plainService{svc}, c).(types.SessionExempter)
	assert.False(t, ok, "exemption support is not invented")
}

func TestInstrumentRecordsCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	host, err := hostfs.New(t.TempDir())
	require.NoError(t, err)
	c, err := NewCollector(enabledConfig(), testLogger())
	require.NoError(t, err)
	svc := Instrument(host, c)

	archive, err := svc.OpenArchive(ctx, types.ArchiveSDMC, types.EmptyPath())
	require.NoError(t, err)
	require.NoError(t, svc.(types.SessionExempter).ExemptFromSession(ctx, archive))

	require.NoError(t, svc.CreateFile(ctx, archive, asciiPath("/f"), 0, 0))
	h, err := svc.OpenFile(ctx, archive, asciiPath("/f"), types.OpenRead|types.OpenWrite, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.openHandles.WithLabelValues("file")))

	n, err := svc.WriteFile(ctx, h, 0, []byte("12345678"), types.WriteFlush)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	buf := make([]byte, 8)
	_, err = svc.ReadFile(ctx, h, 0, buf)
	require.NoError(t, err)
	require.NoError(t, svc.CloseFile(ctx, h))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.openHandles.WithLabelValues("file")))

	_, err = svc.OpenFile(ctx, archive, asciiPath("/missing"), types.OpenRead, 0)
	require.ErrorIs(t, err, types.ResultNotFound)

	d, err := svc.OpenDirectory(ctx, archive, asciiPath("/"))
	require.NoError(t, err)
	entries := make([]types.DirectoryEntry, 4)
	n, err = svc.ReadDirectory(ctx, d, entries)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	name, err := wire.DecodeUTF16(entries[0].Name[:], 256)
	require.NoError(t, err)
	assert.Equal(t, "f", name)
	require.NoError(t, svc.CloseDirectory(ctx, d))

	require.NoError(t, svc.CloseArchive(ctx, archive))

	ops := c.GetMetrics()
	assert.Equal(t, int64(2), ops[OpOpenFile].Count)
	assert.Equal(t, int64(1), ops[OpOpenFile].Errors)
	assert.Equal(t, int64(8), ops[OpWriteFile].TotalSize)
	assert.Equal(t, int64(8), ops[OpReadFile].TotalSize)
	assert.Equal(t, int64(1), ops[OpExempt].Count)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resultCounter.WithLabelValues(OpOpenFile, "not_found")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.openHandles.WithLabelValues("archive")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.openHandles.WithLabelValues("directory")))
}
