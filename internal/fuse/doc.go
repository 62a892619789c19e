/*
Package fuse mounts an sdmc device as a Linux filesystem through go-fuse.

	kernel VFS ──> go-fuse ──> DirectoryNode / FileNode / FileHandle ──> sdmc.Device ──> storage service

Every node resolves its absolute device path from its position in the inode
tree, so renames never leave stale paths behind. Requests are answered with
the device's own errno values; failures that carry no errno become EIO.

# Files

Each FileHandle owns one device descriptor. The kernel sends explicit
offsets, so reads and writes seek the descriptor first and loop until the
request is satisfied or the device returns a short transfer. Flush and
fsync flush the descriptor; release closes it.

# Attributes

Sizes come from the device's stat calls. File modification times come from
GetMtime. Mode, owner and timestamp changes are accepted and dropped since
the archive cannot store them. Owners are reported as Config.DefaultUID and
Config.DefaultGID.

# Mounting

	dev := sdmc.New(svc, sdmc.Config{Logger: logger})
	if err := dev.Init(ctx); err != nil {
		return err
	}
	defer dev.Exit(ctx)

	filesystem := fuse.NewFileSystem(dev, &fuse.Config{DefaultUID: uid, DefaultGID: gid}, logger)
	manager := fuse.NewMountManager(filesystem, fuse.NewDefaultMountConfig("/mnt/sdmc"), logger)
	if err := manager.Mount(ctx); err != nil {
		return err
	}
	defer manager.Unmount()
	manager.Wait()
*/
package fuse
