package sdmc

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/sdmcfs/internal/devoptab"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// MockService is a testify double for types.Service
type MockService struct {
	mock.Mock
}

var _ types.Service = (*MockService)(nil)

func (m *MockService) OpenArchive(ctx context.Context, id types.ArchiveID, path types.Path) (types.Archive, error) {
	args := m.Called(id, path)
	return args.Get(0).(types.Archive), args.Error(1)
}

func (m *MockService) CloseArchive(ctx context.Context, archive types.Archive) error {
	return m.Called(archive).Error(0)
}

func (m *MockService) ControlArchive(ctx context.Context, archive types.Archive, action types.ArchiveAction, input []byte, output []byte) error {
	return m.Called(archive, action, input, output).Error(0)
}

func (m *MockService) GetArchiveResource(ctx context.Context, archive types.Archive) (types.ArchiveResource, error) {
	args := m.Called(archive)
	return args.Get(0).(types.ArchiveResource), args.Error(1)
}

func (m *MockService) IsWritable(ctx context.Context, archive types.Archive) (bool, error) {
	args := m.Called(archive)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) OpenFile(ctx context.Context, archive types.Archive, path types.Path, flags types.OpenFlags, attributes uint32) (types.Handle, error) {
	args := m.Called(archive, path, flags, attributes)
	return args.Get(0).(types.Handle), args.Error(1)
}

func (m *MockService) CloseFile(ctx context.Context, file types.Handle) error {
	return m.Called(file).Error(0)
}

func (m *MockService) ReadFile(ctx context.Context, file types.Handle, offset uint64, buf []byte) (int, error) {
	args := m.Called(file, offset, buf)
	return args.Int(0), args.Error(1)
}

func (m *MockService) WriteFile(ctx context.Context, file types.Handle, offset uint64, data []byte, flags types.WriteFlags) (int, error) {
	args := m.Called(file, offset, data, flags)
	if fn, ok := args.Get(0).(func(types.Handle, uint64, []byte, types.WriteFlags) int); ok {
		return fn(file, offset, data, flags), args.Error(1)
	}
	return args.Int(0), args.Error(1)
}

func (m *MockService) GetFileSize(ctx context.Context, file types.Handle) (uint64, error) {
	args := m.Called(file)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockService) SetFileSize(ctx context.Context, file types.Handle, size uint64) error {
	return m.Called(file, size).Error(0)
}

func (m *MockService) FlushFile(ctx context.Context, file types.Handle) error {
	return m.Called(file).Error(0)
}

func (m *MockService) OpenDirectory(ctx context.Context, archive types.Archive, path types.Path) (types.Handle, error) {
	args := m.Called(archive, path)
	return args.Get(0).(types.Handle), args.Error(1)
}

func (m *MockService) ReadDirectory(ctx context.Context, dir types.Handle, entries []types.DirectoryEntry) (int, error) {
	args := m.Called(dir, entries)
	if fn, ok := args.Get(0).(func([]types.DirectoryEntry) int); ok {
		return fn(entries), args.Error(1)
	}
	return args.Int(0), args.Error(1)
}

func (m *MockService) CloseDirectory(ctx context.Context, dir types.Handle) error {
	return m.Called(dir).Error(0)
}

func (m *MockService) CreateFile(ctx context.Context, archive types.Archive, path types.Path, attributes uint32, size uint64) error {
	return m.Called(archive, path, attributes, size).Error(0)
}

func (m *MockService) DeleteFile(ctx context.Context, archive types.Archive, path types.Path) error {
	return m.Called(archive, path).Error(0)
}

func (m *MockService) RenameFile(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	return m.Called(srcArchive, src, dstArchive, dst).Error(0)
}

func (m *MockService) CreateDirectory(ctx context.Context, archive types.Archive, path types.Path, attributes uint32) error {
	return m.Called(archive, path, attributes).Error(0)
}

func (m *MockService) DeleteDirectory(ctx context.Context, archive types.Archive, path types.Path) error {
	return m.Called(archive, path).Error(0)
}

func (m *MockService) RenameDirectory(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	return m.Called(srcArchive, src, dstArchive, dst).Error(0)
}

const testArchive = types.Archive(7)

// newMockDevice returns an initialised device backed by a fresh mock. Calls
// made during Init are cleared from the expectation list.
func newMockDevice(t *testing.T) (*Device, *MockService) {
	t.Helper()

	svc := &MockService{}
	svc.On("OpenArchive", types.ArchiveSDMC, types.EmptyPath()).Return(testArchive, nil).Once()

	dev := New(svc, Config{
		Registry: devoptab.New(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, dev.Init(context.Background()))

	svc.ExpectedCalls = nil
	svc.Calls = nil
	return dev, svc
}

// pathArg matches an encoded path argument by its decoded text
func pathArg(p string) interface{} {
	return mock.MatchedBy(func(path types.Path) bool {
		return path.Type == types.PathUTF16 && decodePath(path) == p
	})
}

func decodePath(path types.Path) string {
	units := make([]rune, 0, len(path.Data)/2)
	for i := 0; i+1 < len(path.Data); i += 2 {
		u := rune(path.Data[i]) | rune(path.Data[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(units)
}

// callsTo returns the recorded calls of one method
func callsTo(m *MockService, method string) []mock.Call {
	var calls []mock.Call
	for _, call := range m.Calls {
		if call.Method == method {
			calls = append(calls, call)
		}
	}
	return calls
}
