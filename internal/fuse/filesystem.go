package fuse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/internal/sdmc"
)

// Config represents FUSE filesystem configuration
type Config struct {
	ReadOnly   bool   `yaml:"read_only"`
	DefaultUID uint32 `yaml:"default_uid"`
	DefaultGID uint32 `yaml:"default_gid"`
}

// Stats tracks filesystem operation statistics
type Stats struct {
	Lookups      int64 `json:"lookups"`
	Opens        int64 `json:"opens"`
	Reads        int64 `json:"reads"`
	Writes       int64 `json:"writes"`
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
	Errors       int64 `json:"errors"`
}

type counters struct {
	lookups, opens, reads, writes atomic.Int64
	bytesRead, bytesWritten       atomic.Int64
	errors                        atomic.Int64
}

// FileSystem exposes an initialised sdmc device as a FUSE node tree. Every
// kernel request is translated into the corresponding device call on the
// node's absolute device path.
type FileSystem struct {
	dev    *sdmc.Device
	config *Config
	logger *slog.Logger
	stats  counters
}

// NewFileSystem creates a filesystem over dev
func NewFileSystem(dev *sdmc.Device, config *Config, logger *slog.Logger) *FileSystem {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSystem{
		dev:    dev,
		config: config,
		logger: logger.With("component", "fuse"),
	}
}

// Root returns the root inode
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fs: fsys}
}

// GetStats returns current filesystem statistics
func (fsys *FileSystem) GetStats() *Stats {
	return &Stats{
		Lookups:      fsys.stats.lookups.Load(),
		Opens:        fsys.stats.opens.Load(),
		Reads:        fsys.stats.reads.Load(),
		Writes:       fsys.stats.writes.Load(),
		BytesRead:    fsys.stats.bytesRead.Load(),
		BytesWritten: fsys.stats.bytesWritten.Load(),
		Errors:       fsys.stats.errors.Load(),
	}
}

// errno converts a device error into the status returned to the kernel.
// Device errors are already errno values; anything else is EIO.
func (fsys *FileSystem) errno(op, p string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	fsys.stats.errors.Add(1)

	var errno syscall.Errno
	if errors.As(err, &errno) {
		fsys.logger.Debug("request failed", "op", op, "path", p, "errno", errno)
		return errno
	}
	fsys.logger.Warn("request failed", "op", op, "path", p, "error", err)
	return syscall.EIO
}

// fillAttr copies a device stat into a kernel attribute
func (fsys *FileSystem) fillAttr(st sdmc.Stat, out *fuse.Attr) {
	out.Mode = st.Mode
	if fsys.config.ReadOnly {
		out.Mode &^= 0o222
	}
	out.Nlink = st.Nlink
	out.Size = uint64(max(st.Size, 0))
	out.Blocks = uint64(max(st.Blocks, 0))
	out.Blksize = uint32(max(st.Blksize, 0))
	out.Uid = fsys.config.DefaultUID
	out.Gid = fsys.config.DefaultGID
	if !st.Mtime.IsZero() {
		out.SetTimes(&st.Mtime, &st.Mtime, &st.Mtime)
	}
}

// stat reports a path, adding the modification time for files
func (fsys *FileSystem) stat(ctx context.Context, p string) (sdmc.Stat, error) {
	st, err := fsys.dev.Stat(ctx, p)
	if err != nil {
		return st, err
	}
	if st.Mode&unix.S_IFMT == unix.S_IFREG && st.Mtime.IsZero() {
		if secs, err := fsys.dev.GetMtime(ctx, p); err == nil {
			st.Mtime = time.Unix(int64(secs), 0)
		}
	}
	return st, nil
}

// newChild builds the inode for a child of parent matching st
func (fsys *FileSystem) newChild(ctx context.Context, parent *fs.Inode, st sdmc.Stat) *fs.Inode {
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return parent.NewInode(ctx, &DirectoryNode{fs: fsys}, fs.StableAttr{Mode: fuse.S_IFDIR})
	}
	return parent.NewInode(ctx, &FileNode{fs: fsys}, fs.StableAttr{Mode: fuse.S_IFREG})
}

// devicePath returns the absolute device path of an inode
func devicePath(n *fs.Inode) string {
	return "/" + n.Path(n.Root())
}

func childPath(n *fs.Inode, name string) string {
	return path.Join(devicePath(n), name)
}

// DirectoryNode represents a directory in the filesystem
type DirectoryNode struct {
	fs.Inode
	fs *FileSystem
}

var (
	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeGetattrer = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeMkdirer   = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeUnlinker  = (*DirectoryNode)(nil)
	_ fs.NodeRmdirer   = (*DirectoryNode)(nil)
	_ fs.NodeRenamer   = (*DirectoryNode)(nil)
	_ fs.NodeStatfser  = (*DirectoryNode)(nil)
)

// Lookup looks up a child node by name
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fs.stats.lookups.Add(1)

	p := childPath(n.EmbeddedInode(), name)
	st, err := n.fs.stat(ctx, p)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) {
			return nil, syscall.ENOENT
		}
		return nil, n.fs.errno("lookup", p, err)
	}

	n.fs.fillAttr(st, &out.Attr)
	return n.fs.newChild(ctx, n.EmbeddedInode(), st), 0
}

// Getattr reports directory attributes
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	p := devicePath(n.EmbeddedInode())
	st, err := n.fs.dev.Stat(ctx, p)
	if err != nil {
		return n.fs.errno("getattr", p, err)
	}
	n.fs.fillAttr(st, &out.Attr)
	return 0
}

// Readdir reads directory contents
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	p := devicePath(n.EmbeddedInode())
	dd, err := n.fs.dev.DirOpen(ctx, p)
	if err != nil {
		return nil, n.fs.errno("readdir", p, err)
	}
	defer n.fs.dev.DirClose(ctx, dd)

	var entries []fuse.DirEntry
	for {
		entry, err := n.fs.dev.DirNext(ctx, dd)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, n.fs.errno("readdir", p, err)
		}
		entries = append(entries, fuse.DirEntry{
			Name: entry.Name,
			Mode: entry.Stat.Mode & unix.S_IFMT,
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Mkdir creates a new directory
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}

	p := childPath(n.EmbeddedInode(), name)
	if err := n.fs.dev.Mkdir(ctx, p, mode); err != nil {
		return nil, n.fs.errno("mkdir", p, err)
	}
	st, err := n.fs.dev.Stat(ctx, p)
	if err != nil {
		return nil, n.fs.errno("mkdir", p, err)
	}
	n.fs.fillAttr(st, &out.Attr)
	return n.fs.newChild(ctx, n.EmbeddedInode(), st), 0
}

// Create creates and opens a new file
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	p := childPath(n.EmbeddedInode(), name)
	handle, errno := n.fs.open(ctx, p, int(flags)|unix.O_CREAT, mode)
	if errno != 0 {
		return nil, nil, 0, errno
	}

	st, err := n.fs.dev.Fstat(ctx, handle.fd)
	if err != nil {
		handle.Release(ctx)
		return nil, nil, 0, n.fs.errno("create", p, err)
	}
	n.fs.fillAttr(st, &out.Attr)

	node = n.NewInode(ctx, &FileNode{fs: n.fs}, fs.StableAttr{Mode: fuse.S_IFREG})
	return node, handle, 0, 0
}

// Unlink removes a file
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	p := childPath(n.EmbeddedInode(), name)
	return n.fs.errno("unlink", p, n.fs.dev.Unlink(ctx, p))
}

// Rmdir removes an empty directory
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	p := childPath(n.EmbeddedInode(), name)
	return n.fs.errno("rmdir", p, n.fs.dev.Rmdir(ctx, p))
}

// Rename moves a file or directory. Exchange and no-replace renames are
// not supported.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	if flags != 0 {
		return syscall.ENOTSUP
	}

	from := childPath(n.EmbeddedInode(), name)
	to := childPath(newParent.EmbeddedInode(), newName)
	return n.fs.errno("rename", from, n.fs.dev.Rename(ctx, from, to))
}

// Statfs reports the archive's capacity
func (n *DirectoryNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	vfs, err := n.fs.dev.Statvfs(ctx, "/")
	if err != nil {
		return n.fs.errno("statfs", "/", err)
	}
	out.Blocks = vfs.Blocks
	out.Bfree = vfs.Bfree
	out.Bavail = vfs.Bavail
	out.Files = vfs.Files
	out.Ffree = vfs.Ffree
	out.Bsize = uint32(vfs.Bsize)
	out.Frsize = uint32(vfs.Frsize)
	out.NameLen = uint32(vfs.Namemax)
	return 0
}

// FileNode represents a file in the filesystem
type FileNode struct {
	fs.Inode
	fs *FileSystem
}

var (
	_ fs.NodeOpener    = (*FileNode)(nil)
	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeSetattrer = (*FileNode)(nil)
)

// Open opens a file
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if f.fs.config.ReadOnly && flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}

	handle, errno := f.fs.open(ctx, devicePath(f.EmbeddedInode()), int(flags), 0)
	if errno != 0 {
		return nil, 0, errno
	}
	return handle, 0, 0
}

// Getattr gets file attributes, from the open handle when there is one
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*FileHandle); ok {
		return h.Getattr(ctx, out)
	}

	p := devicePath(f.EmbeddedInode())
	st, err := f.fs.stat(ctx, p)
	if err != nil {
		return f.fs.errno("getattr", p, err)
	}
	f.fs.fillAttr(st, &out.Attr)
	return 0
}

// Setattr supports size changes. Mode, owner and time changes are
// accepted and ignored; the archive has nowhere to keep them.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if f.fs.config.ReadOnly {
			return syscall.EROFS
		}
		p := devicePath(f.EmbeddedInode())

		if h, ok := fh.(*FileHandle); ok {
			h.mu.Lock()
			err := f.fs.dev.Ftruncate(ctx, h.fd, int64(size))
			h.mu.Unlock()
			if err != nil {
				return f.fs.errno("truncate", p, err)
			}
		} else {
			fd, err := f.fs.dev.Open(ctx, p, unix.O_WRONLY, 0)
			if err != nil {
				return f.fs.errno("truncate", p, err)
			}
			err = f.fs.dev.Ftruncate(ctx, fd, int64(size))
			closeErr := f.fs.dev.Close(ctx, fd)
			if err == nil {
				err = closeErr
			}
			if err != nil {
				return f.fs.errno("truncate", p, err)
			}
		}
	}
	return f.Getattr(ctx, fh, out)
}

// FileHandle is one open device descriptor. Kernel requests carry their
// own offsets, so each request seeks first; mu keeps the seek and the
// transfer together.
type FileHandle struct {
	fs   *FileSystem
	path string

	mu sync.Mutex
	fd int
}

var (
	_ fs.FileReader    = (*FileHandle)(nil)
	_ fs.FileWriter    = (*FileHandle)(nil)
	_ fs.FileFlusher   = (*FileHandle)(nil)
	_ fs.FileFsyncer   = (*FileHandle)(nil)
	_ fs.FileReleaser  = (*FileHandle)(nil)
	_ fs.FileGetattrer = (*FileHandle)(nil)
)

// open opens p on the device. Appends are positioned by the kernel, so
// O_APPEND is not passed down.
func (fsys *FileSystem) open(ctx context.Context, p string, flags int, mode uint32) (*FileHandle, syscall.Errno) {
	fsys.stats.opens.Add(1)

	flags &= unix.O_ACCMODE | unix.O_CREAT | unix.O_EXCL | unix.O_TRUNC | unix.O_SYNC
	fd, err := fsys.dev.Open(ctx, p, flags, mode)
	if err != nil {
		return nil, fsys.errno("open", p, err)
	}
	return &FileHandle{fs: fsys, path: p, fd: fd}, 0
}

// Read reads data from the file
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh.fs.stats.reads.Add(1)

	fh.mu.Lock()
	defer fh.mu.Unlock()

	if _, err := fh.fs.dev.Seek(ctx, fh.fd, off, io.SeekStart); err != nil {
		return nil, fh.fs.errno("read", fh.path, err)
	}

	total := 0
	for total < len(dest) {
		n, err := fh.fs.dev.Read(ctx, fh.fd, dest[total:])
		if err != nil {
			if total > 0 {
				break
			}
			return nil, fh.fs.errno("read", fh.path, err)
		}
		if n == 0 {
			break
		}
		total += n
	}

	fh.fs.stats.bytesRead.Add(int64(total))
	return fuse.ReadResultData(dest[:total]), 0
}

// Write writes data to the file
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	if fh.fs.config.ReadOnly {
		return 0, syscall.EROFS
	}
	fh.fs.stats.writes.Add(1)

	fh.mu.Lock()
	defer fh.mu.Unlock()

	if _, err := fh.fs.dev.Seek(ctx, fh.fd, off, io.SeekStart); err != nil {
		return 0, fh.fs.errno("write", fh.path, err)
	}

	total := 0
	for total < len(data) {
		n, err := fh.fs.dev.Write(ctx, fh.fd, data[total:])
		if err != nil {
			if total > 0 {
				break
			}
			return 0, fh.fs.errno("write", fh.path, err)
		}
		if n == 0 {
			break
		}
		total += n
	}

	fh.fs.stats.bytesWritten.Add(int64(total))
	return uint32(total), 0
}

// Flush flushes any pending writes
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return fh.Fsync(ctx, 0)
}

// Fsync flushes the file to the archive
func (fh *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if fh.fd < 0 {
		return 0
	}
	return fh.fs.errno("fsync", fh.path, fh.fs.dev.Fsync(ctx, fh.fd))
}

// Getattr reports the size of the open file
func (fh *FileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	st, err := fh.fs.dev.Fstat(ctx, fh.fd)
	if err != nil {
		return fh.fs.errno("fstat", fh.path, err)
	}
	fh.fs.fillAttr(st, &out.Attr)
	return 0
}

// Release closes the device descriptor
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if fh.fd < 0 {
		return 0
	}
	err := fh.fs.dev.Close(ctx, fh.fd)
	fh.fd = -1
	return fh.fs.errno("release", fh.path, err)
}
