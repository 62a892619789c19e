package ipc

import (
	"fmt"
	"time"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// Action names. One action per storage service operation.
const (
	ActionOpenArchive         = "open_archive"
	ActionCloseArchive        = "close_archive"
	ActionControlArchive      = "control_archive"
	ActionGetArchiveResource  = "get_archive_resource"
	ActionIsWritable          = "is_writable"
	ActionExemptFromSession   = "exempt_from_session"
	ActionUnexemptFromSession = "unexempt_from_session"
	ActionOpenFile            = "open_file"
	ActionCloseFile           = "close_file"
	ActionReadFile            = "read_file"
	ActionWriteFile           = "write_file"
	ActionGetFileSize         = "get_file_size"
	ActionSetFileSize         = "set_file_size"
	ActionFlushFile           = "flush_file"
	ActionOpenDirectory       = "open_directory"
	ActionReadDirectory       = "read_directory"
	ActionCloseDirectory      = "close_directory"
	ActionCreateFile          = "create_file"
	ActionDeleteFile          = "delete_file"
	ActionRenameFile          = "rename_file"
	ActionCreateDirectory     = "create_directory"
	ActionDeleteDirectory     = "delete_directory"
	ActionRenameDirectory     = "rename_directory"
)

const (
	// readTimeout bounds how long the server waits for a request
	readTimeout = 30 * time.Second
	// writeTimeout bounds how long the server spends writing a response
	writeTimeout = 10 * time.Second
	// dialTimeout covers only the client's connect phase
	dialTimeout = 5 * time.Second
	// responseReadTimeout is the server's read and write timeouts plus
	// time for the handler to run
	responseReadTimeout = 45 * time.Second

	// maxMessageSize bounds a single encoded request or response
	maxMessageSize = 1024 * 1024
	// maxTransfer bounds the payload of a single read or write call so
	// that the encoded message stays below maxMessageSize
	maxTransfer = 256 * 1024
	// maxEntries bounds a single directory read
	maxEntries = 128
)

// Request is the envelope for every call. Fields not used by an action
// are omitted from the encoding.
type Request struct {
	Action string `cbor:"action"`
	ID     string `cbor:"id,omitempty"`

	ArchiveID  types.ArchiveID     `cbor:"archive_id,omitempty"`
	Archive    types.Archive       `cbor:"archive,omitempty"`
	Handle     types.Handle        `cbor:"handle,omitempty"`
	Path       *types.Path         `cbor:"path,omitempty"`
	DstArchive types.Archive       `cbor:"dst_archive,omitempty"`
	DstPath    *types.Path         `cbor:"dst_path,omitempty"`
	OpenFlags  types.OpenFlags     `cbor:"open_flags,omitempty"`
	WriteFlags types.WriteFlags    `cbor:"write_flags,omitempty"`
	Attributes uint32              `cbor:"attributes,omitempty"`
	Offset     uint64              `cbor:"offset,omitempty"`
	Size       uint64              `cbor:"size,omitempty"`
	Count      int                 `cbor:"count,omitempty"`
	Control    types.ArchiveAction `cbor:"control,omitempty"`
	Data       []byte              `cbor:"data,omitempty"`
}

// Response is the envelope for every reply. A failed call carries the
// storage service result code when there is one.
type Response struct {
	OK    bool       `cbor:"ok"`
	Code  uint32     `cbor:"code,omitempty"`
	Error string     `cbor:"error,omitempty"`
	Data  RawMessage `cbor:"data,omitempty"`
}

type archiveReply struct {
	Archive types.Archive `cbor:"archive"`
}

type handleReply struct {
	Handle types.Handle `cbor:"handle"`
}

type dataReply struct {
	Data []byte `cbor:"data"`
}

type countReply struct {
	Count int `cbor:"count"`
}

type sizeReply struct {
	Size uint64 `cbor:"size"`
}

type writableReply struct {
	Writable bool `cbor:"writable"`
}

type entriesReply struct {
	Entries []types.DirectoryEntry `cbor:"entries"`
}

// RemoteError is returned when the server fails a call without a storage
// service result code
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %q: %s", e.Action, e.Message)
}
