package types

import (
	"fmt"
)

// Result is a status code returned by the storage service
type Result uint32

// Well-known result codes produced by the storage service
const (
	ResultSuccess Result = 0

	// Informational variant of "already exists"
	ResultAlreadyExists Result = 0x082044BE
	// Directory creation collided with an existing entry
	ResultDirectoryExists Result = 0xC82044BE
	ResultDiskFull        Result = 0x086044D2
	ResultNotFound        Result = 0xC8804478
	ResultPathNotFound    Result = 0xC92044FA
	ResultInvalidPath     Result = 0xE0E046BE
	ResultPathTooLong     Result = 0xE0E046BF

	// Generic failures used by service implementations for conditions the
	// medium has no dedicated code for.
	ResultNotSupported  Result = 0xE0C046FA
	ResultInvalidHandle Result = 0xD8E0BC02
	ResultIOFailure     Result = 0xC8A04555
	ResultAccessDenied  Result = 0xC8804470
	ResultNotEmpty      Result = 0xC8A044DC
)

// Succeeded reports whether r is the success code
func (r Result) Succeeded() bool {
	return r == ResultSuccess
}

// Failed reports whether r is a failure code
func (r Result) Failed() bool {
	return r != ResultSuccess
}

// Level returns the severity field of the result
func (r Result) Level() uint32 {
	return (uint32(r) >> 27) & 0x1F
}

// Summary returns the summary field of the result
func (r Result) Summary() uint32 {
	return (uint32(r) >> 21) & 0x3F
}

// Module returns the module field of the result
func (r Result) Module() uint32 {
	return (uint32(r) >> 10) & 0xFF
}

// Description returns the description field of the result
func (r Result) Description() uint32 {
	return uint32(r) & 0x3FF
}

// Error implements the error interface
func (r Result) Error() string {
	return fmt.Sprintf("storage service result 0x%08X (level=%d summary=%d module=%d description=%d)",
		uint32(r), r.Level(), r.Summary(), r.Module(), r.Description())
}

// String returns the hexadecimal form of the code
func (r Result) String() string {
	return fmt.Sprintf("0x%08X", uint32(r))
}

// ArchiveID selects which archive the service opens
type ArchiveID uint32

// Archive identifiers understood by the storage service
const (
	ArchiveSDMC          ArchiveID = 0x9
	ArchiveSDMCWriteOnly ArchiveID = 0xA
)

// Archive is an opaque handle to an open archive
type Archive uint64

// Handle is an opaque handle to an open file or directory
type Handle uint64

// PathType describes how a Path payload is encoded
type PathType uint32

// Path payload encodings
const (
	PathInvalid PathType = 0
	PathEmpty   PathType = 1
	PathBinary  PathType = 2
	PathASCII   PathType = 3
	PathUTF16   PathType = 4
)

// Path is a typed path payload passed to the storage service
type Path struct {
	Type PathType `cbor:"type" json:"type"`
	Data []byte   `cbor:"data" json:"data"`
}

// EmptyPath returns the path used to open whole archives
func EmptyPath() Path {
	return Path{Type: PathEmpty, Data: []byte{0}}
}

// OpenFlags are the capabilities requested when opening a file
type OpenFlags uint32

// File open flags
const (
	OpenRead   OpenFlags = 1 << 0
	OpenWrite  OpenFlags = 1 << 1
	OpenCreate OpenFlags = 1 << 2
)

// WriteFlags control how a write is committed
type WriteFlags uint32

// File write flags
const (
	WriteFlush      WriteFlags = 1 << 0
	WriteUpdateTime WriteFlags = 1 << 8
)

// Attribute bits carried by directory entries and creation requests
const (
	AttrDirectory uint32 = 1 << 0
	AttrHidden    uint32 = 1 << 8
	AttrArchive   uint32 = 1 << 16
	AttrReadOnly  uint32 = 1 << 24
)

// EntryNameUnits is the capacity of a directory entry name in UTF-16 units
const EntryNameUnits = 0x106

// DirectoryEntry is one record returned by a directory enumeration
type DirectoryEntry struct {
	Name       [EntryNameUnits]uint16 `cbor:"name"`
	ShortName  string                 `cbor:"short_name"`
	ShortExt   string                 `cbor:"short_ext"`
	Valid      bool                   `cbor:"valid"`
	Attributes uint32                 `cbor:"attributes"`
	FileSize   uint64                 `cbor:"file_size"`
}

// IsDirectory reports whether the entry carries the directory attribute
func (e *DirectoryEntry) IsDirectory() bool {
	return e.Attributes&AttrDirectory != 0
}

// ArchiveResource describes the capacity of an archive
type ArchiveResource struct {
	SectorSize    uint32 `cbor:"sector_size" json:"sector_size"`
	ClusterSize   uint32 `cbor:"cluster_size" json:"cluster_size"`
	TotalClusters uint32 `cbor:"total_clusters" json:"total_clusters"`
	FreeClusters  uint32 `cbor:"free_clusters" json:"free_clusters"`
}

// ArchiveAction selects a ControlArchive operation
type ArchiveAction uint32

// Archive control actions
const (
	ArchiveActionCommitSaveData ArchiveAction = 0
	ArchiveActionGetTimestamp   ArchiveAction = 1
)
