// Package hostfs serves the SD card archive from a directory on the host.
package hostfs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/internal/wire"
	"github.com/objectfs/sdmcfs/pkg/types"
	"github.com/objectfs/sdmcfs/pkg/utils"
)

// millisTo2000 is 2000-01-01T00:00:00Z in milliseconds since the Unix epoch
const millisTo2000 = 946684800000

// sectorSize is reported for every host filesystem
const sectorSize = 512

// Service implements types.Service over a host directory
type Service struct {
	root   string
	logger *slog.Logger

	mu         sync.Mutex
	nextHandle uint64
	archives   map[types.Archive]bool
	files      map[types.Handle]*os.File
	dirs       map[types.Handle]*os.File
}

var (
	_ types.Service         = (*Service)(nil)
	_ types.SessionExempter = (*Service)(nil)
)

// New creates a service rooted at root, which must be an existing directory
func New(root string) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving archive root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("archive root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive root %s is not a directory", abs)
	}

	return &Service{
		root:     abs,
		logger:   slog.Default().With("component", "hostfs", "root", abs),
		archives: make(map[types.Archive]bool),
		files:    make(map[types.Handle]*os.File),
		dirs:     make(map[types.Handle]*os.File),
	}, nil
}

// Root returns the host directory backing the archive
func (s *Service) Root() string {
	return s.root
}

func (s *Service) allocate() uint64 {
	s.nextHandle++
	return s.nextHandle
}

// resolve maps an archive path onto the host directory
func (s *Service) resolve(archive types.Archive, path types.Path) (string, error) {
	s.mu.Lock()
	_, ok := s.archives[archive]
	s.mu.Unlock()
	if !ok {
		return "", types.ResultInvalidHandle
	}

	var name string
	switch path.Type {
	case types.PathUTF16:
		decoded, err := wire.StringFromBytes(path.Data)
		if err != nil {
			return "", types.ResultInvalidPath
		}
		name = decoded
	case types.PathASCII:
		name = strings.TrimRight(string(path.Data), "\x00")
	default:
		return "", types.ResultInvalidPath
	}

	if !strings.HasPrefix(name, "/") {
		return "", types.ResultInvalidPath
	}
	hostPath, err := utils.SecureJoin(s.root, name)
	if err != nil {
		return "", types.ResultInvalidPath
	}
	return hostPath, nil
}

// translateError maps host errors onto storage service results
func (s *Service) translateError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var code types.Result
	if errors.As(err, &code) {
		return code
	}

	result := types.ResultIOFailure
	switch {
	case errors.Is(err, syscall.ENOTEMPTY):
		result = types.ResultNotEmpty
	case errors.Is(err, syscall.ENOTDIR):
		result = types.ResultPathNotFound
	case errors.Is(err, syscall.ENOSPC):
		result = types.ResultDiskFull
	case errors.Is(err, syscall.ENAMETOOLONG):
		result = types.ResultPathTooLong
	case errors.Is(err, fs.ErrNotExist):
		result = types.ResultNotFound
	case errors.Is(err, fs.ErrExist):
		result = types.ResultAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		result = types.ResultAccessDenied
	}
	s.logger.Debug("host operation failed", "operation", op, "path", path, "error", err, "result", result.String())
	return result
}

// OpenArchive opens the SD card archive. Only ArchiveSDMC is served.
func (s *Service) OpenArchive(ctx context.Context, id types.ArchiveID, path types.Path) (types.Archive, error) {
	if id != types.ArchiveSDMC {
		return 0, types.ResultNotSupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	archive := types.Archive(s.allocate())
	s.archives[archive] = false
	s.logger.Debug("archive opened", "archive", uint64(archive))
	return archive, nil
}

// CloseArchive closes an archive handle
func (s *Service) CloseArchive(ctx context.Context, archive types.Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[archive]; !ok {
		return types.ResultInvalidHandle
	}
	delete(s.archives, archive)
	return nil
}

// ExemptFromSession marks the archive as exempt from session accounting
func (s *Service) ExemptFromSession(ctx context.Context, archive types.Archive) error {
	return s.setExempt(archive, true)
}

// UnexemptFromSession reverses ExemptFromSession
func (s *Service) UnexemptFromSession(ctx context.Context, archive types.Archive) error {
	return s.setExempt(archive, false)
}

func (s *Service) setExempt(archive types.Archive, exempt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[archive]; !ok {
		return types.ResultInvalidHandle
	}
	s.archives[archive] = exempt
	return nil
}

// Exempt reports whether the archive is exempt from session accounting
func (s *Service) Exempt(archive types.Archive) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archives[archive]
}

// ControlArchive supports ArchiveActionGetTimestamp: input is an encoded
// path, output receives the modification time in milliseconds since
// 2000-01-01 as a little-endian uint64.
func (s *Service) ControlArchive(ctx context.Context, archive types.Archive, action types.ArchiveAction, input []byte, output []byte) error {
	if action != types.ArchiveActionGetTimestamp {
		return types.ResultNotSupported
	}
	if len(output) < 8 {
		return types.ResultInvalidPath
	}

	hostPath, err := s.resolve(archive, types.Path{Type: types.PathUTF16, Data: input})
	if err != nil {
		return err
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return s.translateError("stat", hostPath, err)
	}

	millis := info.ModTime().UnixMilli() - millisTo2000
	if millis < 0 {
		millis = 0
	}
	binary.LittleEndian.PutUint64(output, uint64(millis))
	return nil
}

// GetArchiveResource reports the capacity of the host filesystem
func (s *Service) GetArchiveResource(ctx context.Context, archive types.Archive) (types.ArchiveResource, error) {
	if _, err := s.resolve(archive, types.Path{Type: types.PathASCII, Data: []byte("/")}); err != nil {
		return types.ArchiveResource{}, err
	}

	var st unix.Statfs_t
	if err := unix.Statfs(s.root, &st); err != nil {
		return types.ArchiveResource{}, s.translateError("statfs", s.root, err)
	}
	return types.ArchiveResource{
		SectorSize:    sectorSize,
		ClusterSize:   uint32(st.Bsize),
		TotalClusters: clampClusters(uint64(st.Blocks)),
		FreeClusters:  clampClusters(uint64(st.Bavail)),
	}, nil
}

func clampClusters(n uint64) uint32 {
	if n > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

// IsWritable reports whether the archive root accepts writes
func (s *Service) IsWritable(ctx context.Context, archive types.Archive) (bool, error) {
	if _, err := s.resolve(archive, types.Path{Type: types.PathASCII, Data: []byte("/")}); err != nil {
		return false, err
	}
	return unix.Access(s.root, unix.W_OK) == nil, nil
}

// OpenFile opens a regular file
func (s *Service) OpenFile(ctx context.Context, archive types.Archive, path types.Path, flags types.OpenFlags, attributes uint32) (types.Handle, error) {
	hostPath, err := s.resolve(archive, path)
	if err != nil {
		return 0, err
	}

	var osFlags int
	switch flags & (types.OpenRead | types.OpenWrite) {
	case types.OpenRead:
		osFlags = os.O_RDONLY
	case types.OpenWrite:
		osFlags = os.O_WRONLY
	case types.OpenRead | types.OpenWrite:
		osFlags = os.O_RDWR
	default:
		return 0, types.ResultInvalidPath
	}
	if flags&types.OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}

	if info, err := os.Stat(hostPath); err == nil && info.IsDir() {
		return 0, types.ResultNotFound
	}

	f, err := os.OpenFile(hostPath, osFlags, 0o666)
	if err != nil {
		return 0, s.translateError("open", hostPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	handle := types.Handle(s.allocate())
	s.files[handle] = f
	return handle, nil
}

func (s *Service) file(handle types.Handle) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[handle]
	if !ok {
		return nil, types.ResultInvalidHandle
	}
	return f, nil
}

// CloseFile closes a file handle
func (s *Service) CloseFile(ctx context.Context, handle types.Handle) error {
	s.mu.Lock()
	f, ok := s.files[handle]
	delete(s.files, handle)
	s.mu.Unlock()
	if !ok {
		return types.ResultInvalidHandle
	}
	return s.translateError("close", f.Name(), f.Close())
}

// ReadFile reads at an absolute offset. Reads at or past the end of the
// file return zero bytes.
func (s *Service) ReadFile(ctx context.Context, handle types.Handle, offset uint64, buf []byte) (int, error) {
	f, err := s.file(handle)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, s.translateError("read", f.Name(), err)
	}
	return n, nil
}

// WriteFile writes at an absolute offset
func (s *Service) WriteFile(ctx context.Context, handle types.Handle, offset uint64, data []byte, flags types.WriteFlags) (int, error) {
	f, err := s.file(handle)
	if err != nil {
		return 0, err
	}
	n, err := f.WriteAt(data, int64(offset))
	if err != nil {
		return n, s.translateError("write", f.Name(), err)
	}
	if flags&types.WriteFlush != 0 {
		if err := f.Sync(); err != nil {
			return n, s.translateError("sync", f.Name(), err)
		}
	}
	return n, nil
}

// GetFileSize returns the size of an open file
func (s *Service) GetFileSize(ctx context.Context, handle types.Handle) (uint64, error) {
	f, err := s.file(handle)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, s.translateError("stat", f.Name(), err)
	}
	return uint64(info.Size()), nil
}

// SetFileSize truncates or extends an open file
func (s *Service) SetFileSize(ctx context.Context, handle types.Handle, size uint64) error {
	f, err := s.file(handle)
	if err != nil {
		return err
	}
	return s.translateError("truncate", f.Name(), f.Truncate(int64(size)))
}

// FlushFile commits an open file to the host disk
func (s *Service) FlushFile(ctx context.Context, handle types.Handle) error {
	f, err := s.file(handle)
	if err != nil {
		return err
	}
	return s.translateError("sync", f.Name(), f.Sync())
}

// OpenDirectory opens a directory for enumeration
func (s *Service) OpenDirectory(ctx context.Context, archive types.Archive, path types.Path) (types.Handle, error) {
	hostPath, err := s.resolve(archive, path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return 0, s.translateError("stat", hostPath, err)
	}
	if !info.IsDir() {
		return 0, types.ResultPathNotFound
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return 0, s.translateError("open", hostPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	handle := types.Handle(s.allocate())
	s.dirs[handle] = f
	return handle, nil
}

// ReadDirectory fills entries with the next batch and returns how many
// were written. Zero means the enumeration is complete.
func (s *Service) ReadDirectory(ctx context.Context, handle types.Handle, entries []types.DirectoryEntry) (int, error) {
	s.mu.Lock()
	dir, ok := s.dirs[handle]
	s.mu.Unlock()
	if !ok {
		return 0, types.ResultInvalidHandle
	}
	if len(entries) == 0 {
		return 0, nil
	}

	list, err := dir.ReadDir(len(entries))
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, s.translateError("readdir", dir.Name(), err)
	}

	for i, entry := range list {
		entries[i] = makeEntry(entry)
	}
	return len(list), nil
}

func makeEntry(entry fs.DirEntry) types.DirectoryEntry {
	var size uint64
	if !entry.IsDir() {
		if info, err := entry.Info(); err == nil {
			size = uint64(info.Size())
		}
	}
	return wire.NewEntry(entry.Name(), entry.IsDir(), size)
}

// CloseDirectory closes a directory handle
func (s *Service) CloseDirectory(ctx context.Context, handle types.Handle) error {
	s.mu.Lock()
	dir, ok := s.dirs[handle]
	delete(s.dirs, handle)
	s.mu.Unlock()
	if !ok {
		return types.ResultInvalidHandle
	}
	return s.translateError("close", dir.Name(), dir.Close())
}

// CreateFile creates a new regular file of the given size. An existing
// entry is reported as ResultAlreadyExists.
func (s *Service) CreateFile(ctx context.Context, archive types.Archive, path types.Path, attributes uint32, size uint64) error {
	hostPath, err := s.resolve(archive, path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(hostPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return s.translateError("create", hostPath, err)
	}
	defer f.Close()
	if size > 0 {
		if err := f.Truncate(int64(size)); err != nil {
			return s.translateError("truncate", hostPath, err)
		}
	}
	return nil
}

// DeleteFile removes a regular file
func (s *Service) DeleteFile(ctx context.Context, archive types.Archive, path types.Path) error {
	hostPath, err := s.resolve(archive, path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(hostPath)
	if err != nil {
		return s.translateError("stat", hostPath, err)
	}
	if info.IsDir() {
		return types.ResultNotFound
	}
	return s.translateError("remove", hostPath, os.Remove(hostPath))
}

// RenameFile renames a regular file. The destination must not exist.
func (s *Service) RenameFile(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	return s.rename(srcArchive, src, dstArchive, dst, false)
}

// RenameDirectory renames a directory. The destination must not exist.
func (s *Service) RenameDirectory(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	return s.rename(srcArchive, src, dstArchive, dst, true)
}

func (s *Service) rename(srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path, directory bool) error {
	srcPath, err := s.resolve(srcArchive, src)
	if err != nil {
		return err
	}
	dstPath, err := s.resolve(dstArchive, dst)
	if err != nil {
		return err
	}

	info, err := os.Lstat(srcPath)
	if err != nil {
		return s.translateError("stat", srcPath, err)
	}
	if info.IsDir() != directory {
		return types.ResultNotFound
	}
	if _, err := os.Lstat(dstPath); err == nil {
		return types.ResultAlreadyExists
	}
	return s.translateError("rename", srcPath, os.Rename(srcPath, dstPath))
}

// CreateDirectory creates a directory. An existing entry is reported as
// ResultDirectoryExists.
func (s *Service) CreateDirectory(ctx context.Context, archive types.Archive, path types.Path, attributes uint32) error {
	hostPath, err := s.resolve(archive, path)
	if err != nil {
		return err
	}
	if err := os.Mkdir(hostPath, 0o777); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return types.ResultDirectoryExists
		}
		return s.translateError("mkdir", hostPath, err)
	}
	return nil
}

// DeleteDirectory removes an empty directory
func (s *Service) DeleteDirectory(ctx context.Context, archive types.Archive, path types.Path) error {
	hostPath, err := s.resolve(archive, path)
	if err != nil {
		return err
	}
	if hostPath == s.root {
		return types.ResultAccessDenied
	}
	info, err := os.Lstat(hostPath)
	if err != nil {
		return s.translateError("stat", hostPath, err)
	}
	if !info.IsDir() {
		return types.ResultPathNotFound
	}
	return s.translateError("rmdir", hostPath, os.Remove(hostPath))
}
