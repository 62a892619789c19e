package types

import (
	"context"
)

// Service is the storage service that owns archives on the SD card.
// Domain failures are reported as Result values; any other error is a
// transport failure.
type Service interface {
	// Archive operations
	OpenArchive(ctx context.Context, id ArchiveID, path Path) (Archive, error)
	CloseArchive(ctx context.Context, archive Archive) error
	ControlArchive(ctx context.Context, archive Archive, action ArchiveAction, input []byte, output []byte) error
	GetArchiveResource(ctx context.Context, archive Archive) (ArchiveResource, error)
	IsWritable(ctx context.Context, archive Archive) (bool, error)

	// File operations
	OpenFile(ctx context.Context, archive Archive, path Path, flags OpenFlags, attributes uint32) (Handle, error)
	CloseFile(ctx context.Context, file Handle) error
	ReadFile(ctx context.Context, file Handle, offset uint64, buf []byte) (int, error)
	WriteFile(ctx context.Context, file Handle, offset uint64, data []byte, flags WriteFlags) (int, error)
	GetFileSize(ctx context.Context, file Handle) (uint64, error)
	SetFileSize(ctx context.Context, file Handle, size uint64) error
	FlushFile(ctx context.Context, file Handle) error

	// Directory operations
	OpenDirectory(ctx context.Context, archive Archive, path Path) (Handle, error)
	ReadDirectory(ctx context.Context, dir Handle, entries []DirectoryEntry) (int, error)
	CloseDirectory(ctx context.Context, dir Handle) error

	// Namespace operations
	CreateFile(ctx context.Context, archive Archive, path Path, attributes uint32, size uint64) error
	DeleteFile(ctx context.Context, archive Archive, path Path) error
	RenameFile(ctx context.Context, srcArchive Archive, src Path, dstArchive Archive, dst Path) error
	CreateDirectory(ctx context.Context, archive Archive, path Path, attributes uint32) error
	DeleteDirectory(ctx context.Context, archive Archive, path Path) error
	RenameDirectory(ctx context.Context, srcArchive Archive, src Path, dstArchive Archive, dst Path) error
}

// SessionExempter is implemented by services that track archive usage per
// client session. Exempt archives are not closed when the session ends.
type SessionExempter interface {
	ExemptFromSession(ctx context.Context, archive Archive) error
	UnexemptFromSession(ctx context.Context, archive Archive) error
}
