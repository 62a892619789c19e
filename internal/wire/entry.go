package wire

import (
	"strings"
	"unicode/utf16"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// NewEntry builds the directory record for one child. The long name is
// truncated to fit the record with its terminator; the 8.3 short name is
// derived by upper-casing and truncating. Dot-names are hidden.
func NewEntry(name string, isDir bool, size uint64) types.DirectoryEntry {
	var out types.DirectoryEntry

	units := utf16.Encode([]rune(name))
	copy(out.Name[:types.EntryNameUnits-1], units)

	base, ext := name, ""
	if dot := strings.LastIndexByte(base, '.'); dot > 0 {
		base, ext = base[:dot], base[dot+1:]
	}
	out.ShortName = shortField(base, 8)
	out.ShortExt = shortField(ext, 3)
	out.Valid = true

	if isDir {
		out.Attributes |= types.AttrDirectory
	} else {
		out.Attributes |= types.AttrArchive
		out.FileSize = size
	}
	if strings.HasPrefix(name, ".") {
		out.Attributes |= types.AttrHidden
	}
	return out
}

func shortField(s string, n int) string {
	s = strings.ToUpper(s)
	if len(s) > n {
		s = s[:n]
	}
	return s
}
