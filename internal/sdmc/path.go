package sdmc

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/internal/wire"
	"github.com/objectfs/sdmcfs/pkg/types"
)

const (
	// PathMax bounds canonical paths in bytes and encoded paths in UTF-16 units
	PathMax = 1024
	// NameMax bounds a single directory entry name in bytes
	NameMax = 255
)

// Canonicalize turns a caller-supplied path into an absolute path on the
// device. An optional "device:" prefix is stripped and relative paths are
// resolved against the current directory.
func (d *Device) Canonicalize(path string) (string, error) {
	return canonicalize(path, d.Getwd())
}

func canonicalize(path, cwd string) (string, error) {
	// Skip past the device prefix, if any.
	rest := path
	for i := 0; i < len(path); {
		r, size := utf8.DecodeRuneInString(path[i:])
		if r == utf8.RuneError && size <= 1 {
			return "", unix.EILSEQ
		}
		i += size
		if r == ':' {
			rest = path[i:]
			break
		}
	}

	for i := 0; i < len(rest); {
		r, size := utf8.DecodeRuneInString(rest[i:])
		switch {
		case r == utf8.RuneError && size <= 1:
			return "", unix.EILSEQ
		case r == ':':
			return "", unix.EINVAL
		case r == 0:
			return "", unix.EINVAL
		}
		i += size
	}

	fixed := rest
	if !strings.HasPrefix(rest, "/") {
		if strings.HasSuffix(cwd, "/") {
			fixed = cwd + rest
		} else {
			fixed = cwd + "/" + rest
		}
	}

	if len(fixed) > PathMax {
		return "", unix.ENAMETOOLONG
	}
	return fixed, nil
}

// encodePath canonicalizes path and encodes it for the storage service.
// Every call returns an independent buffer.
func (d *Device) encodePath(path string) (types.Path, string, error) {
	fixed, err := d.Canonicalize(path)
	if err != nil {
		return types.Path{}, "", err
	}
	data, err := wire.EncodeUTF16(fixed, PathMax)
	if err != nil {
		return types.Path{}, "", err
	}
	return types.Path{Type: types.PathUTF16, Data: data}, fixed, nil
}
