package sdmc

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// FS adapts a Device to io/fs. Names are resolved from the archive root,
// independent of the working directory.
type FS struct {
	dev *Device
	ctx context.Context
}

var (
	_ fs.FS         = (*FS)(nil)
	_ fs.StatFS     = (*FS)(nil)
	_ fs.ReadDirFS  = (*FS)(nil)
	_ fs.ReadFileFS = (*FS)(nil)
)

// FS returns a read-only io/fs view of the device
func (d *Device) FS() *FS {
	return &FS{dev: d, ctx: context.Background()}
}

// WithContext returns a view that issues storage calls with ctx
func (f *FS) WithContext(ctx context.Context) *FS {
	return &FS{dev: f.dev, ctx: ctx}
}

func devicePath(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + name
}

func underlyingError(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}

func intoPathErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &fs.PathError{Op: op, Path: name, Err: underlyingError(err)}
}

func intoLinkErr(op, oldName, newName string, err error) error {
	if err == nil {
		return nil
	}
	return &os.LinkError{Op: op, Old: oldName, New: newName, Err: underlyingError(err)}
}

// Open opens the named file or directory for reading
func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, intoPathErr("open", name, fs.ErrInvalid)
	}

	info, err := f.stat(name)
	if err != nil {
		return nil, intoPathErr("open", name, err)
	}

	if info.IsDir() {
		dd, err := f.dev.DirOpen(f.ctx, devicePath(name))
		if err != nil {
			return nil, intoPathErr("open", name, err)
		}
		return &dirFile{fsys: f, name: name, dd: dd, info: info}, nil
	}

	fd, err := f.dev.Open(f.ctx, devicePath(name), unix.O_RDONLY, 0)
	if err != nil {
		return nil, intoPathErr("open", name, err)
	}
	return &file{fsys: f, name: name, fd: fd, info: info}, nil
}

// Stat returns a FileInfo describing the named file or directory
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, intoPathErr("stat", name, fs.ErrInvalid)
	}
	info, err := f.stat(name)
	if err != nil {
		return nil, intoPathErr("stat", name, err)
	}
	return info, nil
}

func (f *FS) stat(name string) (*fileInfo, error) {
	st, err := f.dev.Stat(f.ctx, devicePath(name))
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		if secs, err := f.dev.GetMtime(f.ctx, devicePath(name)); err == nil {
			st.Mtime = time.Unix(int64(secs), 0)
		}
	}
	return &fileInfo{name: path.Base(name), stat: st}, nil
}

// ReadDir reads the named directory and returns its entries sorted by name
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, intoPathErr("readdir", name, fs.ErrInvalid)
	}

	dd, err := f.dev.DirOpen(f.ctx, devicePath(name))
	if err != nil {
		return nil, intoPathErr("readdir", name, err)
	}
	defer f.dev.DirClose(f.ctx, dd)

	entries, err := f.readEntries(dd, -1)
	if err != nil && !errors.Is(err, io.EOF) {
		return entries, intoPathErr("readdir", name, err)
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

func (f *FS) readEntries(dd, n int) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	for n <= 0 || len(entries) < n {
		entry, err := f.dev.DirNext(f.ctx, dd)
		if err != nil {
			return entries, err
		}
		entries = append(entries, &dirEntry{info: &fileInfo{name: entry.Name, stat: entry.Stat}})
	}
	return entries, nil
}

// ReadFile reads the named file and returns its contents
func (f *FS) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, intoPathErr("readfile", name, fs.ErrInvalid)
	}

	fd, err := f.dev.Open(f.ctx, devicePath(name), unix.O_RDONLY, 0)
	if err != nil {
		return nil, intoPathErr("readfile", name, err)
	}
	defer f.dev.Close(f.ctx, fd)

	st, err := f.dev.Fstat(f.ctx, fd)
	if err != nil {
		return nil, intoPathErr("readfile", name, err)
	}

	data := make([]byte, 0, st.Size)
	buf := make([]byte, 32*1024)
	for {
		n, err := f.dev.Read(f.ctx, fd, buf)
		if err != nil {
			return nil, intoPathErr("readfile", name, err)
		}
		if n == 0 {
			return data, nil
		}
		data = append(data, buf[:n]...)
	}
}

// Rename moves oldName to newName
func (f *FS) Rename(oldName, newName string) error {
	if !fs.ValidPath(oldName) || !fs.ValidPath(newName) {
		return intoLinkErr("rename", oldName, newName, fs.ErrInvalid)
	}
	return intoLinkErr("rename", oldName, newName, f.dev.Rename(f.ctx, devicePath(oldName), devicePath(newName)))
}

// Mkdir creates the named directory
func (f *FS) Mkdir(name string, perm fs.FileMode) error {
	if !fs.ValidPath(name) {
		return intoPathErr("mkdir", name, fs.ErrInvalid)
	}
	return intoPathErr("mkdir", name, f.dev.Mkdir(f.ctx, devicePath(name), uint32(perm)))
}

// Remove removes the named file or empty directory
func (f *FS) Remove(name string) error {
	if !fs.ValidPath(name) {
		return intoPathErr("remove", name, fs.ErrInvalid)
	}
	err := f.dev.Unlink(f.ctx, devicePath(name))
	if err != nil {
		if rmErr := f.dev.Rmdir(f.ctx, devicePath(name)); rmErr == nil {
			return nil
		}
	}
	return intoPathErr("remove", name, err)
}

type fileInfo struct {
	name string
	stat Stat
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.stat.Size }
func (i *fileInfo) Mode() fs.FileMode  { return i.stat.FileMode() }
func (i *fileInfo) ModTime() time.Time { return i.stat.Mtime }
func (i *fileInfo) IsDir() bool        { return i.stat.IsDir() }
func (i *fileInfo) Sys() any           { return i.stat }

type dirEntry struct {
	info *fileInfo
}

func (e *dirEntry) Name() string               { return e.info.name }
func (e *dirEntry) IsDir() bool                { return e.info.IsDir() }
func (e *dirEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e *dirEntry) Info() (fs.FileInfo, error) { return e.info, nil }
func (e *dirEntry) String() string             { return fs.FormatDirEntry(e) }

type file struct {
	fsys *FS
	name string
	fd   int
	info *fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

func (f *file) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := f.fsys.dev.Read(f.fsys.ctx, f.fd, p)
	if err != nil {
		return n, intoPathErr("read", f.name, err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.fsys.dev.Seek(f.fsys.ctx, f.fd, offset, whence)
	if err != nil {
		return pos, intoPathErr("seek", f.name, err)
	}
	return pos, nil
}

func (f *file) Close() error {
	return intoPathErr("close", f.name, f.fsys.dev.Close(f.fsys.ctx, f.fd))
}

type dirFile struct {
	fsys *FS
	name string
	dd   int
	info *fileInfo
	eof  bool
}

func (d *dirFile) Stat() (fs.FileInfo, error) {
	return d.info, nil
}

func (d *dirFile) Read([]byte) (int, error) {
	return 0, intoPathErr("read", d.name, unix.EISDIR)
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.eof {
		if n > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}

	entries, err := d.fsys.readEntries(d.dd, n)
	if errors.Is(err, io.EOF) {
		d.eof = true
		if n > 0 && len(entries) == 0 {
			return nil, io.EOF
		}
		return entries, nil
	}
	if err != nil {
		return entries, intoPathErr("readdir", d.name, err)
	}
	return entries, nil
}

func (d *dirFile) Close() error {
	return intoPathErr("close", d.name, d.fsys.dev.DirClose(d.fsys.ctx, d.dd))
}
