package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecureJoin joins elements onto base and rejects results that escape base
// through ".." segments. Absolute elements are treated as relative to base,
// so archive paths such as "/3ds/app.3dsx" map inside the archive root.
//
// Example usage:
//
//	hostPath, err := SecureJoin("/srv/sdcard", "/3ds/app.3dsx")
//	if err != nil {
//		return fmt.Errorf("invalid archive path: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !IsWithin(cleanBase, fullPath) {
		return "", fmt.Errorf("path escapes base directory %s", cleanBase)
	}
	return fullPath, nil
}

// IsWithin reports whether target is base or lies below it. Both paths are
// cleaned before comparison.
func IsWithin(base, target string) bool {
	cleanBase := filepath.Clean(base)
	cleanTarget := filepath.Clean(target)
	if cleanTarget == cleanBase {
		return true
	}
	prefix := cleanBase
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(cleanTarget, prefix)
}
