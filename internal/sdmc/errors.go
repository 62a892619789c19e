package sdmc

import (
	"errors"
	"log/slog"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// errorMapEntry pairs a storage service result with its POSIX errno
type errorMapEntry struct {
	code  types.Result
	errno syscall.Errno
}

// errorTable is sorted by code for binary search
var errorTable = []errorMapEntry{
	{types.ResultAlreadyExists, unix.EEXIST},
	{types.ResultDiskFull, unix.ENOSPC},
	{types.ResultNotFound, unix.ENOENT},
	{types.ResultPathNotFound, unix.ENOENT},
	{types.ResultInvalidPath, unix.EINVAL},
	{types.ResultPathTooLong, unix.ENAMETOOLONG},
}

// TranslateResult maps a storage service result to a POSIX errno. Codes
// without a mapping are returned unchanged as an opaque errno value.
func TranslateResult(code types.Result) syscall.Errno {
	i := sort.Search(len(errorTable), func(i int) bool {
		return errorTable[i].code >= code
	})
	if i < len(errorTable) && errorTable[i].code == code {
		return errorTable[i].errno
	}
	return syscall.Errno(code)
}

// translateError converts an error returned by the storage service into the
// errno surfaced to callers. Transport failures carry no result code and
// surface as EIO.
func (d *Device) translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var code types.Result
	if errors.As(err, &code) {
		errno := TranslateResult(code)
		d.logger.Debug("storage service call failed",
			slog.String("operation", op),
			slog.String("result", code.String()),
			slog.String("errno", errno.Error()))
		return errno
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	d.logger.Warn("storage service unreachable",
		slog.String("operation", op),
		slog.Any("error", err))
	return unix.EIO
}
