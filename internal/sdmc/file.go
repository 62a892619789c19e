package sdmc

import (
	"context"
	"io"
	"math"

	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/internal/buffer"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// Open opens the file at path and returns a descriptor for it. flags are
// the usual O_* open flags; mode is accepted for compatibility only.
func (d *Device) Open(ctx context.Context, path string, flags int, mode uint32) (int, error) {
	var openFlags types.OpenFlags

	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		if flags&unix.O_APPEND != 0 {
			return -1, unix.EINVAL
		}
		openFlags = types.OpenRead
	case unix.O_WRONLY:
		openFlags = types.OpenWrite
	case unix.O_RDWR:
		openFlags = types.OpenRead | types.OpenWrite
	default:
		return -1, unix.EINVAL
	}

	if flags&unix.O_CREAT != 0 {
		openFlags |= types.OpenCreate
	}

	archive, err := d.archiveHandle()
	if err != nil {
		return -1, err
	}
	fsPath, fixed, err := d.encodePath(path)
	if err != nil {
		return -1, err
	}

	if flags&unix.O_CREAT != 0 && flags&unix.O_EXCL != 0 {
		if err := d.svc.CreateFile(ctx, archive, fsPath, 0, 0); err != nil {
			return -1, d.translateError("create_file", err)
		}
	}

	handle, err := d.svc.OpenFile(ctx, archive, fsPath, openFlags, 0)
	if err != nil {
		return -1, d.translateError("open_file", err)
	}

	if openFlags&types.OpenWrite != 0 && flags&unix.O_TRUNC != 0 {
		if err := d.svc.SetFileSize(ctx, handle, 0); err != nil {
			_ = d.svc.CloseFile(ctx, handle)
			return -1, d.translateError("set_file_size", err)
		}
	}

	fd := d.files.insert(&openFile{
		handle: handle,
		flags:  flags & (unix.O_ACCMODE | unix.O_APPEND | unix.O_SYNC),
	})
	d.logger.Debug("file opened", "path", fixed, "fd", fd, "flags", flags)
	return fd, nil
}

func (d *Device) file(fd int) (*openFile, error) {
	if _, err := d.archiveHandle(); err != nil {
		return nil, err
	}
	f, ok := d.files.get(fd)
	if !ok {
		return nil, unix.EBADF
	}
	return f, nil
}

// Close closes the descriptor. The descriptor is released even when the
// storage service reports a failure.
func (d *Device) Close(ctx context.Context, fd int) error {
	f, ok := d.files.remove(fd)
	if !ok {
		return unix.EBADF
	}
	if err := d.svc.CloseFile(ctx, f.handle); err != nil {
		return d.translateError("close_file", err)
	}
	return nil
}

// Read reads up to len(p) bytes at the current offset. A short read is not
// an error; zero bytes with a nil error means end of file.
func (d *Device) Read(ctx context.Context, fd int, p []byte) (int, error) {
	f, err := d.file(fd)
	if err != nil {
		return 0, err
	}
	if f.flags&unix.O_ACCMODE == unix.O_WRONLY {
		return 0, unix.EBADF
	}

	n, err := d.svc.ReadFile(ctx, f.handle, f.offset, p)
	if n > 0 {
		f.offset += uint64(n)
	}
	if err != nil {
		if n > 0 {
			d.logger.Debug("short read", "fd", fd, "bytes", n, "error", err)
			return n, nil
		}
		return 0, d.translateError("read_file", err)
	}
	return n, nil
}

// Write writes p at the current offset, or at the end of the file for
// descriptors opened with O_APPEND. When safe writes are enabled the data
// is copied through a staging buffer in fixed-size chunks.
func (d *Device) Write(ctx context.Context, fd int, p []byte) (int, error) {
	f, err := d.file(fd)
	if err != nil {
		return 0, err
	}
	if f.flags&unix.O_ACCMODE == unix.O_RDONLY {
		return 0, unix.EBADF
	}

	var writeFlags types.WriteFlags
	if f.flags&unix.O_SYNC != 0 {
		writeFlags = types.WriteFlush | types.WriteUpdateTime
	}

	if f.flags&unix.O_APPEND != 0 {
		size, err := d.svc.GetFileSize(ctx, f.handle)
		if err != nil {
			return 0, d.translateError("get_file_size", err)
		}
		f.offset = size
	}

	if d.writeSafe.Load() {
		return d.writeStaged(ctx, f, p, writeFlags)
	}

	n, err := d.svc.WriteFile(ctx, f.handle, f.offset, p, writeFlags)
	if n > 0 {
		f.offset += uint64(n)
	}
	if err != nil {
		if n > 0 {
			d.logger.Debug("short write", "fd", fd, "bytes", n, "error", err)
			return n, nil
		}
		return 0, d.translateError("write_file", err)
	}
	return n, nil
}

// writeStaged writes p one staging buffer at a time. A failing chunk after
// earlier progress reports the bytes already written instead of the error.
func (d *Device) writeStaged(ctx context.Context, f *openFile, p []byte, flags types.WriteFlags) (int, error) {
	staging := buffer.GetStaging()
	defer buffer.PutStaging(staging)

	written := 0
	for len(p) > 0 {
		chunk := copy(staging, p)

		n, err := d.svc.WriteFile(ctx, f.handle, f.offset, staging[:chunk], flags)
		if n > 0 {
			f.offset += uint64(n)
			written += n
			p = p[n:]
		}
		if err != nil {
			if written > 0 {
				return written, nil
			}
			return 0, d.translateError("write_file", err)
		}
		if n == 0 {
			break
		}
	}
	return written, nil
}

// Seek sets the offset for the next read or write and returns it
func (d *Device) Seek(ctx context.Context, fd int, pos int64, whence int) (int64, error) {
	f, err := d.file(fd)
	if err != nil {
		return 0, err
	}

	var base uint64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		size, err := d.svc.GetFileSize(ctx, f.handle)
		if err != nil {
			return 0, d.translateError("get_file_size", err)
		}
		base = size
	default:
		return 0, unix.EINVAL
	}

	if base > math.MaxInt64 {
		return 0, unix.EINVAL
	}
	if pos < 0 && base < uint64(-pos) {
		return 0, unix.EINVAL
	}
	if pos > 0 && base > math.MaxInt64-uint64(pos) {
		return 0, unix.EINVAL
	}

	f.offset = uint64(int64(base) + pos)
	return int64(f.offset), nil
}

// Fstat reports the status of an open file
func (d *Device) Fstat(ctx context.Context, fd int) (Stat, error) {
	f, err := d.file(fd)
	if err != nil {
		return Stat{}, err
	}
	return d.statHandle(ctx, f.handle)
}

func (d *Device) statHandle(ctx context.Context, handle types.Handle) (Stat, error) {
	size, err := d.svc.GetFileSize(ctx, handle)
	if err != nil {
		return Stat{}, d.translateError("get_file_size", err)
	}
	return Stat{
		Mode:  regularFileMode,
		Nlink: 1,
		Size:  int64(size),
	}, nil
}

// Ftruncate resizes an open file
func (d *Device) Ftruncate(ctx context.Context, fd int, length int64) error {
	f, err := d.file(fd)
	if err != nil {
		return err
	}
	if length < 0 {
		return unix.EINVAL
	}
	if err := d.svc.SetFileSize(ctx, f.handle, uint64(length)); err != nil {
		return d.translateError("set_file_size", err)
	}
	return nil
}

// Fsync flushes an open file to the medium
func (d *Device) Fsync(ctx context.Context, fd int) error {
	f, err := d.file(fd)
	if err != nil {
		return err
	}
	if err := d.svc.FlushFile(ctx, f.handle); err != nil {
		return d.translateError("flush_file", err)
	}
	return nil
}

// Fchmod is not supported by the storage service
func (d *Device) Fchmod(ctx context.Context, fd int, mode uint32) error {
	return unix.ENOSYS
}
