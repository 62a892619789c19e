package sdmc

import (
	"context"
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/internal/wire"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// epoch2000 is 2000-01-01T00:00:00Z in seconds since the Unix epoch
const epoch2000 = 946684800

// Stat reports the status of the file or directory at path
func (d *Device) Stat(ctx context.Context, path string) (Stat, error) {
	archive, err := d.archiveHandle()
	if err != nil {
		return Stat{}, err
	}
	fsPath, _, err := d.encodePath(path)
	if err != nil {
		return Stat{}, err
	}

	handle, fileErr := d.svc.OpenFile(ctx, archive, fsPath, types.OpenRead, 0)
	if fileErr == nil {
		st, err := d.statHandle(ctx, handle)
		_ = d.svc.CloseFile(ctx, handle)
		return st, err
	}

	dirHandle, err := d.svc.OpenDirectory(ctx, archive, fsPath)
	if err == nil {
		_ = d.svc.CloseDirectory(ctx, dirHandle)
		return Stat{Mode: directoryMode, Nlink: 1}, nil
	}

	return Stat{}, d.translateError("open_file", fileErr)
}

// Link is not supported by the storage service
func (d *Device) Link(ctx context.Context, existing, newPath string) error {
	return unix.ENOSYS
}

// Unlink removes the file at path
func (d *Device) Unlink(ctx context.Context, path string) error {
	archive, err := d.archiveHandle()
	if err != nil {
		return err
	}
	fsPath, _, err := d.encodePath(path)
	if err != nil {
		return err
	}
	if err := d.svc.DeleteFile(ctx, archive, fsPath); err != nil {
		return d.translateError("delete_file", err)
	}
	return nil
}

// Rename moves a file or directory. The file rename is attempted first;
// when both attempts fail the file rename failure is reported.
func (d *Device) Rename(ctx context.Context, oldPath, newPath string) error {
	archive, err := d.archiveHandle()
	if err != nil {
		return err
	}
	src, _, err := d.encodePath(oldPath)
	if err != nil {
		return err
	}
	dst, _, err := d.encodePath(newPath)
	if err != nil {
		return err
	}

	fileErr := d.svc.RenameFile(ctx, archive, src, archive, dst)
	if fileErr == nil {
		return nil
	}
	if err := d.svc.RenameDirectory(ctx, archive, src, archive, dst); err == nil {
		return nil
	}
	return d.translateError("rename_file", fileErr)
}

// Mkdir creates a directory. mode is accepted for compatibility only.
func (d *Device) Mkdir(ctx context.Context, path string, mode uint32) error {
	archive, err := d.archiveHandle()
	if err != nil {
		return err
	}
	fsPath, _, err := d.encodePath(path)
	if err != nil {
		return err
	}

	err = d.svc.CreateDirectory(ctx, archive, fsPath, 0)
	if err == nil {
		return nil
	}
	var code types.Result
	if errors.As(err, &code) && code == types.ResultDirectoryExists {
		return unix.EEXIST
	}
	return d.translateError("create_directory", err)
}

// Rmdir removes the directory at path
func (d *Device) Rmdir(ctx context.Context, path string) error {
	archive, err := d.archiveHandle()
	if err != nil {
		return err
	}
	fsPath, _, err := d.encodePath(path)
	if err != nil {
		return err
	}
	if err := d.svc.DeleteDirectory(ctx, archive, fsPath); err != nil {
		return d.translateError("delete_directory", err)
	}
	return nil
}

// Chdir changes the working directory. The target must be a directory the
// storage service can open.
func (d *Device) Chdir(ctx context.Context, path string) error {
	archive, err := d.archiveHandle()
	if err != nil {
		return err
	}
	fixed, err := d.Canonicalize(path)
	if err != nil {
		return err
	}
	if err := d.enterDirectory(ctx, archive, fixed); err != nil {
		return err
	}

	d.mu.Lock()
	d.cwd = fixed
	d.mu.Unlock()
	return nil
}

// enterDirectory checks that fixed names an openable directory
func (d *Device) enterDirectory(ctx context.Context, archive types.Archive, fixed string) error {
	data, err := wire.EncodeUTF16(fixed, PathMax)
	if err != nil {
		return err
	}
	handle, err := d.svc.OpenDirectory(ctx, archive, types.Path{Type: types.PathUTF16, Data: data})
	if err != nil {
		return d.translateError("open_directory", err)
	}
	_ = d.svc.CloseDirectory(ctx, handle)
	return nil
}

// Statvfs reports the capacity of the archive. The file count, filesystem
// id and maximum name length are not known to the storage service and are
// reported as zero.
func (d *Device) Statvfs(ctx context.Context, path string) (Statvfs, error) {
	archive, err := d.archiveHandle()
	if err != nil {
		return Statvfs{}, err
	}
	if _, _, err := d.encodePath(path); err != nil {
		return Statvfs{}, err
	}

	resource, err := d.svc.GetArchiveResource(ctx, archive)
	if err != nil {
		return Statvfs{}, d.translateError("get_archive_resource", err)
	}

	st := Statvfs{
		Bsize:  uint64(resource.ClusterSize),
		Frsize: uint64(resource.ClusterSize),
		Blocks: uint64(resource.TotalClusters),
		Bfree:  uint64(resource.FreeClusters),
		Bavail: uint64(resource.FreeClusters),
		Ffree:  uint64(resource.FreeClusters),
		Favail: uint64(resource.FreeClusters),
		Flag:   StatvfsNoSUID,
	}

	writable, err := d.svc.IsWritable(ctx, archive)
	if err != nil || !writable {
		st.Flag |= StatvfsReadOnly
	}
	return st, nil
}

// Chmod is not supported by the storage service
func (d *Device) Chmod(ctx context.Context, path string, mode uint32) error {
	return unix.ENOSYS
}

// GetMtime returns the modification time of path in seconds since the
// Unix epoch
func (d *Device) GetMtime(ctx context.Context, path string) (uint64, error) {
	archive, err := d.archiveHandle()
	if err != nil {
		return 0, err
	}
	fsPath, _, err := d.encodePath(path)
	if err != nil {
		return 0, err
	}

	var out [8]byte
	if err := d.svc.ControlArchive(ctx, archive, types.ArchiveActionGetTimestamp, fsPath.Data, out[:]); err != nil {
		return 0, d.translateError("control_archive", err)
	}
	millis := binary.LittleEndian.Uint64(out[:])
	return millis/1000 + epoch2000, nil
}
