package sdmc

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

const (
	regularFileMode = unix.S_IFREG | 0o666
	directoryMode   = unix.S_IFDIR | 0o777
)

// Statvfs flags
const (
	StatvfsReadOnly = 0x1
	StatvfsNoSUID   = 0x2
)

// Stat is the status of a file or directory. Fields the storage service
// cannot supply are zero.
type Stat struct {
	Mode    uint32
	Nlink   uint32
	Size    int64
	Ino     uint64
	Uid     uint32
	Gid     uint32
	Blksize int64
	Blocks  int64
	Mtime   time.Time
}

// IsDir reports whether the status describes a directory
func (s Stat) IsDir() bool {
	return s.Mode&unix.S_IFMT == unix.S_IFDIR
}

// FileMode converts the POSIX mode to an fs.FileMode
func (s Stat) FileMode() fs.FileMode {
	mode := fs.FileMode(s.Mode & 0o777)
	if s.IsDir() {
		mode |= fs.ModeDir
	}
	return mode
}

// Statvfs describes the capacity of the filesystem holding a path
type Statvfs struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Flag    uint64
	Namemax uint64
}

// DirEntry is one entry produced by DirNext
type DirEntry struct {
	Name string
	Stat Stat
}
