package sdmc

import (
	"context"
	"io"

	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/internal/wire"
)

const (
	// dirMagic tags live directory state ("sdmc")
	dirMagic = 0x73646D63
	// dirBatchCapacity is the number of entries fetched per enumeration call
	dirBatchCapacity = 32
)

// DirOpen opens the directory at path for enumeration
func (d *Device) DirOpen(ctx context.Context, path string) (int, error) {
	archive, err := d.archiveHandle()
	if err != nil {
		return -1, err
	}
	fsPath, fixed, err := d.encodePath(path)
	if err != nil {
		return -1, err
	}

	handle, err := d.svc.OpenDirectory(ctx, archive, fsPath)
	if err != nil {
		return -1, d.translateError("open_directory", err)
	}

	dd := d.dirs.insert(&openDir{
		magic:  dirMagic,
		handle: handle,
		cursor: -1,
	})
	d.logger.Debug("directory opened", "path", fixed, "dd", dd)
	return dd, nil
}

func (d *Device) dir(dd int) (*openDir, error) {
	if _, err := d.archiveHandle(); err != nil {
		return nil, err
	}
	dir, ok := d.dirs.get(dd)
	if !ok || dir.magic != dirMagic {
		return nil, unix.EBADF
	}
	return dir, nil
}

// DirNext returns the next entry of an open directory. The end of the
// directory is reported as io.EOF.
func (d *Device) DirNext(ctx context.Context, dd int) (DirEntry, error) {
	dir, err := d.dir(dd)
	if err != nil {
		return DirEntry{}, err
	}

	dir.cursor++
	if dir.cursor >= dir.batchSize {
		dir.cursor = -1
		dir.batchSize = 0
		clear(dir.batch[:])

		n, err := d.svc.ReadDirectory(ctx, dir.handle, dir.batch[:])
		if err != nil {
			return DirEntry{}, d.translateError("read_directory", err)
		}
		if n == 0 {
			return DirEntry{}, io.EOF
		}

		dir.cursor = 0
		dir.batchSize = min(n, dirBatchCapacity)
	}

	entry := &dir.batch[dir.cursor]

	var st Stat
	if entry.IsDirectory() {
		st.Mode = unix.S_IFDIR
	} else {
		st.Mode = unix.S_IFREG
	}

	name, err := wire.DecodeUTF16(entry.Name[:], NameMax)
	if err != nil {
		return DirEntry{}, err
	}
	return DirEntry{Name: name, Stat: st}, nil
}

// DirReset is not supported by the storage service
func (d *Device) DirReset(ctx context.Context, dd int) error {
	return unix.ENOSYS
}

// DirClose closes an open directory. The descriptor is released even when
// the storage service reports a failure.
func (d *Device) DirClose(ctx context.Context, dd int) error {
	dir, ok := d.dirs.remove(dd)
	if !ok || dir.magic != dirMagic {
		return unix.EBADF
	}
	dir.magic = 0

	if err := d.svc.CloseDirectory(ctx, dir.handle); err != nil {
		return d.translateError("close_directory", err)
	}
	return nil
}
