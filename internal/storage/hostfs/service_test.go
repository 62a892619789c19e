package hostfs

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/sdmcfs/internal/wire"
	"github.com/objectfs/sdmcfs/pkg/types"
)

func utf16Path(t *testing.T, p string) types.Path {
	t.Helper()
	data, err := wire.EncodeUTF16(p, 1024)
	require.NoError(t, err)
	return types.Path{Type: types.PathUTF16, Data: data}
}

func openArchive(t *testing.T) (*Service, types.Archive) {
	t.Helper()
	svc, err := New(t.TempDir())
	require.NoError(t, err)
	archive, err := svc.OpenArchive(context.Background(), types.ArchiveSDMC, types.EmptyPath())
	require.NoError(t, err)
	return svc, archive
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(file)
	assert.Error(t, err)
}

func TestArchiveLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, archive := openArchive(t)

	_, err := svc.OpenArchive(ctx, types.ArchiveID(3), types.EmptyPath())
	assert.ErrorIs(t, err, types.ResultNotSupported)

	require.NoError(t, svc.ExemptFromSession(ctx, archive))
	assert.True(t, svc.Exempt(archive))
	require.NoError(t, svc.UnexemptFromSession(ctx, archive))
	assert.False(t, svc.Exempt(archive))

	require.NoError(t, svc.CloseArchive(ctx, archive))
	assert.ErrorIs(t, svc.CloseArchive(ctx, archive), types.ResultInvalidHandle)

	_, err = svc.OpenFile(ctx, archive, utf16Path(t, "/x"), types.OpenRead, 0)
	assert.ErrorIs(t, err, types.ResultInvalidHandle)
}

func TestFileReadWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, archive := openArchive(t)
	path := utf16Path(t, "/data.bin")

	_, err := svc.OpenFile(ctx, archive, path, types.OpenRead, 0)
	assert.ErrorIs(t, err, types.ResultNotFound)

	h, err := svc.OpenFile(ctx, archive, path, types.OpenRead|types.OpenWrite|types.OpenCreate, 0)
	require.NoError(t, err)

	n, err := svc.WriteFile(ctx, h, 0, []byte("hello world"), types.WriteFlush|types.WriteUpdateTime)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	size, err := svc.GetFileSize(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), size)

	buf := make([]byte, 5)
	n, err = svc.ReadFile(ctx, h, 6, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = svc.ReadFile(ctx, h, 100, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, svc.SetFileSize(ctx, h, 5))
	require.NoError(t, svc.FlushFile(ctx, h))
	require.NoError(t, svc.CloseFile(ctx, h))
	assert.ErrorIs(t, svc.CloseFile(ctx, h), types.ResultInvalidHandle)

	data, err := os.ReadFile(filepath.Join(svc.Root(), "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCreateFileExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, archive := openArchive(t)
	path := utf16Path(t, "/new.txt")

	require.NoError(t, svc.CreateFile(ctx, archive, path, 0, 16))
	info, err := os.Stat(filepath.Join(svc.Root(), "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(16), info.Size())

	assert.ErrorIs(t, svc.CreateFile(ctx, archive, path, 0, 0), types.ResultAlreadyExists)
}

func TestDirectories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, archive := openArchive(t)
	dir := utf16Path(t, "/3ds")

	require.NoError(t, svc.CreateDirectory(ctx, archive, dir, 0))
	assert.ErrorIs(t, svc.CreateDirectory(ctx, archive, dir, 0), types.ResultDirectoryExists)

	require.NoError(t, os.WriteFile(filepath.Join(svc.Root(), "3ds", "app.3dsx"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(svc.Root(), "3ds", ".hidden"), 0o755))

	_, err := svc.OpenFile(ctx, archive, dir, types.OpenRead, 0)
	assert.ErrorIs(t, err, types.ResultNotFound, "directories cannot be opened as files")

	h, err := svc.OpenDirectory(ctx, archive, dir)
	require.NoError(t, err)

	entries := make([]types.DirectoryEntry, 1)
	seen := map[string]types.DirectoryEntry{}
	for {
		n, err := svc.ReadDirectory(ctx, h, entries)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		name, err := wire.DecodeUTF16(entries[0].Name[:], 256)
		require.NoError(t, err)
		seen[name] = entries[0]
	}
	require.NoError(t, svc.CloseDirectory(ctx, h))

	require.Len(t, seen, 2)
	app := seen["app.3dsx"]
	assert.False(t, app.IsDirectory())
	assert.Equal(t, uint64(1), app.FileSize)
	assert.Equal(t, "APP", app.ShortName)
	assert.Equal(t, "3DS", app.ShortExt)
	hidden := seen[".hidden"]
	assert.True(t, hidden.IsDirectory())
	assert.NotZero(t, hidden.Attributes&types.AttrHidden)

	assert.ErrorIs(t, svc.DeleteDirectory(ctx, archive, dir), types.ResultNotEmpty)
	_, err = svc.OpenDirectory(ctx, archive, utf16Path(t, "/3ds/app.3dsx"))
	assert.ErrorIs(t, err, types.ResultPathNotFound)
}

func TestRenameAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, archive := openArchive(t)
	require.NoError(t, os.WriteFile(filepath.Join(svc.Root(), "a"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(svc.Root(), "d"), 0o755))

	assert.ErrorIs(t, svc.RenameDirectory(ctx, archive, utf16Path(t, "/a"), archive, utf16Path(t, "/b")), types.ResultNotFound)
	require.NoError(t, svc.RenameFile(ctx, archive, utf16Path(t, "/a"), archive, utf16Path(t, "/b")))
	assert.ErrorIs(t, svc.RenameFile(ctx, archive, utf16Path(t, "/d"), archive, utf16Path(t, "/e")), types.ResultNotFound)
	require.NoError(t, svc.RenameDirectory(ctx, archive, utf16Path(t, "/d"), archive, utf16Path(t, "/e")))
	assert.ErrorIs(t, svc.RenameDirectory(ctx, archive, utf16Path(t, "/e"), archive, utf16Path(t, "/b")), types.ResultAlreadyExists)

	assert.ErrorIs(t, svc.DeleteFile(ctx, archive, utf16Path(t, "/e")), types.ResultNotFound)
	require.NoError(t, svc.DeleteFile(ctx, archive, utf16Path(t, "/b")))
	require.NoError(t, svc.DeleteDirectory(ctx, archive, utf16Path(t, "/e")))
	assert.ErrorIs(t, svc.DeleteFile(ctx, archive, utf16Path(t, "/b")), types.ResultNotFound)
	assert.ErrorIs(t, svc.DeleteDirectory(ctx, archive, utf16Path(t, "/")), types.ResultAccessDenied)
}

func TestPathEscapeRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, archive := openArchive(t)
	_, err := svc.OpenFile(ctx, archive, utf16Path(t, "/../../etc/passwd"), types.OpenRead, 0)
	assert.ErrorIs(t, err, types.ResultInvalidPath)

	_, err = svc.OpenFile(ctx, archive, types.Path{Type: types.PathBinary, Data: []byte{1}}, types.OpenRead, 0)
	assert.ErrorIs(t, err, types.ResultInvalidPath)
}

func TestArchiveQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, archive := openArchive(t)

	res, err := svc.GetArchiveResource(ctx, archive)
	require.NoError(t, err)
	assert.NotZero(t, res.ClusterSize)
	assert.NotZero(t, res.TotalClusters)
	assert.Equal(t, uint32(sectorSize), res.SectorSize)

	writable, err := svc.IsWritable(ctx, archive)
	require.NoError(t, err)
	assert.True(t, writable)

	file := filepath.Join(svc.Root(), "stamp")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(file, mtime, mtime))

	out := make([]byte, 8)
	require.NoError(t, svc.ControlArchive(ctx, archive, types.ArchiveActionGetTimestamp, utf16Path(t, "/stamp").Data, out))
	millis := binary.LittleEndian.Uint64(out)
	assert.Equal(t, uint64(mtime.UnixMilli()-millisTo2000), millis)

	assert.ErrorIs(t, svc.ControlArchive(ctx, archive, types.ArchiveActionCommitSaveData, nil, out), types.ResultNotSupported)
	assert.ErrorIs(t, svc.ControlArchive(ctx, archive, types.ArchiveActionGetTimestamp, utf16Path(t, "/missing").Data, out), types.ResultNotFound)
}
